// Package calendar renders an owner's agenda as an iCalendar feed.
package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/scrypster/agenda/pkg/types"
)

// ProductID identifies the exporter in the PRODID property.
const ProductID = "-//scrypster//agenda//EN"

// Export writes events as VEVENTs and dated tasks as VTODOs. Dismissed
// entities and undated tasks are skipped. stamp fills DTSTAMP.
func Export(w io.Writer, events []*types.Event, tasks []*types.Task, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	stamp = stamp.UTC()
	for _, ev := range events {
		if ev == nil || ev.Status == types.StatusDismissed {
			continue
		}
		cal.Children = append(cal.Children, eventComponent(ev, stamp))
	}
	for _, t := range tasks {
		if t == nil || t.DueDate == nil || t.Status == types.StatusDismissed {
			continue
		}
		cal.Children = append(cal.Children, todoComponent(t, stamp))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func eventComponent(ev *types.Event, stamp time.Time) *ical.Component {
	e := ical.NewEvent()
	e.Props.SetText(ical.PropUID, ev.ID+"@agenda")
	e.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	e.Props.SetText(ical.PropSummary, ev.Title)
	e.Props.SetDateTime(ical.PropDateTimeStart, ev.StartTime.UTC())
	if !ev.EndTime.IsZero() {
		e.Props.SetDateTime(ical.PropDateTimeEnd, ev.EndTime.UTC())
	}
	if ev.Description != "" {
		e.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		e.Props.SetText(ical.PropLocation, ev.Location)
	}
	// Unreviewed proposals show as tentative in calendar clients.
	if ev.Status == types.StatusProposed {
		e.Props.SetText(ical.PropStatus, "TENTATIVE")
	} else {
		e.Props.SetText(ical.PropStatus, "CONFIRMED")
	}
	return e.Component
}

func todoComponent(t *types.Task, stamp time.Time) *ical.Component {
	c := ical.NewComponent(ical.CompToDo)
	c.Props.SetText(ical.PropUID, t.ID+"@agenda")
	c.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	c.Props.SetText(ical.PropSummary, t.Title)
	c.Props.SetDateTime(ical.PropDue, t.DueDate.UTC())
	if t.Description != "" {
		c.Props.SetText(ical.PropDescription, t.Description)
	}
	if t.Completed {
		c.Props.SetText(ical.PropStatus, "COMPLETED")
	} else {
		c.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
	}
	return c
}

// Package recurrence expands a recurring syllabus session into concrete
// occurrences. Each occurrence becomes its own calendar entity and is
// reconciled independently.
package recurrence

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/scrypster/agenda/internal/extraction"
	"github.com/scrypster/agenda/internal/timenorm"
)

const (
	// DefaultMaxOccurrences bounds a series with no until date: one
	// semester of weekly sessions.
	DefaultMaxOccurrences = 16

	// HardCap bounds every series, including ones with an until date.
	HardCap = 366
)

// Occurrence is one concrete session of a series.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Expander turns a first session plus a recurrence rule into occurrences.
type Expander struct {
	norm           *timenorm.Normalizer
	maxOccurrences int
}

// NewExpander creates an Expander. maxOccurrences <= 0 selects
// DefaultMaxOccurrences; values above HardCap are clamped.
func NewExpander(norm *timenorm.Normalizer, maxOccurrences int) *Expander {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	if maxOccurrences > HardCap {
		maxOccurrences = HardCap
	}
	return &Expander{norm: norm, maxOccurrences: maxOccurrences}
}

var weekdays = map[string]rrule.Weekday{
	"mo": rrule.MO,
	"tu": rrule.TU,
	"we": rrule.WE,
	"th": rrule.TH,
	"fr": rrule.FR,
	"sa": rrule.SA,
	"su": rrule.SU,
}

// Expand returns the occurrences of the series whose first session runs
// from start to end. A nil rule yields the single session. Occurrences keep
// the wall-clock time of start in the reference zone across DST changes.
func (x *Expander) Expand(start, end time.Time, rule *extraction.Recurrence) ([]Occurrence, error) {
	if rule == nil {
		return []Occurrence{{Start: start, End: end}}, nil
	}

	opt := rrule.ROption{
		Dtstart:  start.In(x.norm.Location()),
		Interval: 1,
	}
	if rule.Interval > 1 {
		opt.Interval = rule.Interval
	}

	switch strings.ToLower(rule.Frequency) {
	case "weekly":
		opt.Freq = rrule.WEEKLY
	case "daily":
		opt.Freq = rrule.DAILY
	default:
		return nil, fmt.Errorf("recurrence: unsupported frequency %q", rule.Frequency)
	}

	for _, day := range rule.DaysOfWeek {
		d := strings.ToLower(strings.TrimSpace(day))
		if len(d) < 2 {
			return nil, fmt.Errorf("recurrence: invalid weekday %q", day)
		}
		wd, ok := weekdays[d[:2]]
		if !ok {
			return nil, fmt.Errorf("recurrence: invalid weekday %q", day)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}

	opt.Count = x.maxOccurrences
	if rule.Count > 0 && rule.Count < opt.Count {
		opt.Count = rule.Count
	}
	if rule.Until != "" {
		until, err := x.until(rule.Until)
		if err != nil {
			log.Printf("Recurrence: ignoring unparseable until %q: %v", rule.Until, err)
		} else {
			opt.Until = until
			if rule.Count <= 0 {
				opt.Count = HardCap
			}
		}
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: %w", err)
	}

	duration := end.Sub(start)
	starts := r.All()
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, Occurrence{Start: s, End: s.Add(duration)})
	}
	return out, nil
}

// until parses an until bound. A date-only value covers that whole day.
func (x *Expander) until(s string) (time.Time, error) {
	t, err := x.norm.Normalize(s)
	if err != nil {
		return time.Time{}, err
	}
	if timenorm.IsDateOnly(s) {
		return x.norm.EndOfDay(t), nil
	}
	return t, nil
}

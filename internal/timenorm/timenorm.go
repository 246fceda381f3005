// Package timenorm converts timestamp-like strings produced by language
// models into absolute instants anchored to a single reference timezone.
// The host process's local zone is never consulted.
package timenorm

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultReferenceTimezone is the application-wide reference zone.
const DefaultReferenceTimezone = "America/Chicago"

// TimeParseError is returned when a candidate time cannot be interpreted.
// Callers drop the candidate and continue with its siblings.
type TimeParseError struct {
	Input string
}

func (e *TimeParseError) Error() string {
	return fmt.Sprintf("timenorm: cannot parse %q as a timestamp", e.Input)
}

// Layouts carrying an explicit offset. The offset wins over the reference zone.
var offsetLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
}

// Naive layouts are read as wall-clock time in the reference zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalizer anchors timestamps to a fixed location.
type Normalizer struct {
	loc *time.Location
}

// New creates a Normalizer for the named IANA zone.
// An empty name selects DefaultReferenceTimezone.
func New(zone string) (*Normalizer, error) {
	if zone == "" {
		zone = DefaultReferenceTimezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("timenorm: load location %q: %w", zone, err)
	}
	return &Normalizer{loc: loc}, nil
}

// NewWithLocation creates a Normalizer for an already-loaded location.
func NewWithLocation(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Location returns the reference location.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize parses s and returns the instant it denotes, expressed in the
// reference zone. Strings with an offset keep their instant; naive strings
// are wall-clock times in the reference zone.
func (n *Normalizer) Normalize(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, &TimeParseError{Input: s}
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.In(n.loc), nil
		}
	}

	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, n.loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &TimeParseError{Input: s}
}

// EndOfDay returns the last representable instant of t's calendar day in
// the reference zone.
func (n *Normalizer) EndOfDay(t time.Time) time.Time {
	local := t.In(n.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, n.loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// IsDateOnly reports whether s carries a date without a time component.
func IsDateOnly(s string) bool {
	_, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	return err == nil
}

package storage

import (
	"errors"
	"time"

	"github.com/scrypster/agenda/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict indicates a uniqueness violation, such as a second
	// evidence record for one entity.
	ErrConflict = errors.New("conflict")
)

const (
	// DefaultListLimit is used when a filter has no limit.
	DefaultListLimit = 100

	// MaxListLimit caps any list query.
	MaxListLimit = 1000
)

// EventFilter selects events. Zero fields do not filter.
type EventFilter struct {
	OwnerID  string
	Statuses []types.Status
	Source   types.Source
	CourseID string

	// From and To select events overlapping [From, To).
	From time.Time
	To   time.Time

	Limit int
}

// TaskFilter selects tasks. Zero fields do not filter.
type TaskFilter struct {
	OwnerID  string
	Statuses []types.Status
	Source   types.Source
	CourseID string

	// DueFrom and DueTo select tasks due in [DueFrom, DueTo). When either is
	// set, undated tasks are excluded unless IncludeUndated is true.
	DueFrom        time.Time
	DueTo          time.Time
	IncludeUndated bool

	Completed *bool
	Limit     int
}

// NormalizeLimit clamps a requested limit to [1, MaxListLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// CheckTransition returns ErrInvalidTransition when current -> next is not allowed.
func CheckTransition(current, next types.Status) error {
	if !next.IsValid() {
		return errors.Join(ErrInvalidInput, errors.New("unknown status "+string(next)))
	}
	if !types.IsValidStatusTransition(current, next) {
		return errors.Join(ErrInvalidTransition, errors.New(string(current)+" -> "+string(next)))
	}
	return nil
}

// Package storage provides composable storage interfaces for calendar
// entities, courses, evidence and ingestion runs.
package storage

import (
	"context"

	"github.com/scrypster/agenda/pkg/types"
)

// EventStore persists calendar events.
type EventStore interface {
	// CreateEvent inserts a new event. ID, timestamps and status are filled
	// in when empty (status defaults to proposed).
	CreateEvent(ctx context.Context, event *types.Event) error

	// GetEvent returns the owner's event or ErrNotFound.
	GetEvent(ctx context.Context, ownerID, id string) (*types.Event, error)

	// ListEvents returns events matching the filter ordered by start time.
	ListEvents(ctx context.Context, filter EventFilter) ([]*types.Event, error)

	// UpdateEventStatus applies a status transition. Returns
	// ErrInvalidTransition when the state machine forbids it.
	UpdateEventStatus(ctx context.Context, ownerID, id string, next types.Status) (*types.Event, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, ownerID, id string) (*types.Task, error)

	// ListTasks returns tasks ordered by due date, undated last.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error)

	UpdateTaskStatus(ctx context.Context, ownerID, id string, next types.Status) (*types.Task, error)

	// SetTaskCompleted toggles the completion flag independently of status.
	SetTaskCompleted(ctx context.Context, ownerID, id string, completed bool) (*types.Task, error)
}

// CourseStore persists courses.
type CourseStore interface {
	// UpsertCourse returns the owner's course with the given name, creating
	// it when missing. Code and term are only set on creation.
	UpsertCourse(ctx context.Context, ownerID, name, code, term string) (*types.Course, error)
	ListCourses(ctx context.Context, ownerID string) ([]*types.Course, error)
}

// DedupeStore answers fingerprint lookups for reconciliation.
type DedupeStore interface {
	// FindByDedupeKey returns the owner's entities of kind with the given
	// key whose status is in statuses. Tasks without a due date are never
	// returned.
	FindByDedupeKey(ctx context.Context, ownerID string, kind types.EntityKind, key string, statuses []types.Status) ([]types.EntityRef, error)
}

// EvidenceStore persists evidence records.
type EvidenceStore interface {
	// CreateEvidence inserts an evidence record. A second record for the
	// same entity fails with ErrConflict.
	CreateEvidence(ctx context.Context, rec *types.EvidenceRecord) error

	// GetEvidence returns the evidence for an entity or ErrNotFound.
	GetEvidence(ctx context.Context, kind types.EntityKind, entityID string) (*types.EvidenceRecord, error)
}

// RunStore persists the ingestion audit log.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.IngestionRun) error
	ListRuns(ctx context.Context, ownerID string, limit int) ([]*types.IngestionRun, error)
}

// OwnerLocker serializes reconcile-then-create work per owner so two
// concurrent requests cannot both create the same entity.
type OwnerLocker interface {
	// LockOwner blocks until the owner's lock is held or ctx is done.
	// The returned function releases the lock.
	LockOwner(ctx context.Context, ownerID string) (unlock func(), err error)
}

// Store is the full durable store used by the pipeline.
type Store interface {
	EventStore
	TaskStore
	CourseStore
	DedupeStore
	EvidenceStore
	RunStore
	OwnerLocker

	Close() error
}

// Package types defines the core data structures for the agenda pipeline.
// These types represent calendar entities (events and tasks), the courses
// they belong to, and the evidence records that tie each proposal back to
// the document it was extracted from.
package types

// SourceKind identifies which ingestion adapter produced a request.
type SourceKind string

// Source is the persisted origin of a calendar entity.
type Source string

// Status is the review status of a calendar entity.
type Status string

// EntityKind distinguishes events from tasks in evidence and dedup lookups.
type EntityKind string

// Ingestion source kinds
const (
	SourceKindSyllabus SourceKind = "syllabus"
	SourceKindEmail    SourceKind = "email"
	SourceKindChat     SourceKind = "chat"
)

// Persisted entity sources
const (
	// SourceManual covers user-authored entities and chat proposals
	SourceManual Source = "manual"

	SourceSyllabus Source = "syllabus"
	SourceEmail    Source = "email"
)

// Entity status constants
const (
	// StatusProposed indicates the entity was created by the pipeline and awaits review
	StatusProposed Status = "proposed"

	// StatusConfirmed indicates the user accepted the entity (or authored it directly)
	StatusConfirmed Status = "confirmed"

	// StatusDismissed indicates the user rejected the entity
	StatusDismissed Status = "dismissed"
)

// Entity kinds
const (
	EntityKindEvent EntityKind = "event"
	EntityKindTask  EntityKind = "task"
)

// ValidSourceKinds is a slice of all valid ingestion source kinds.
var ValidSourceKinds = []SourceKind{
	SourceKindSyllabus,
	SourceKindEmail,
	SourceKindChat,
}

// IsValid reports whether k is a known source kind.
func (k SourceKind) IsValid() bool {
	for _, valid := range ValidSourceKinds {
		if k == valid {
			return true
		}
	}
	return false
}

// PersistedSource maps an ingestion kind to the source recorded on the
// entities it creates. Chat has no source member of its own and is stored
// as manual.
func (k SourceKind) PersistedSource() Source {
	switch k {
	case SourceKindSyllabus:
		return SourceSyllabus
	case SourceKindEmail:
		return SourceEmail
	default:
		return SourceManual
	}
}

// IsValid reports whether s is a known entity status.
func (s Status) IsValid() bool {
	switch s {
	case StatusProposed, StatusConfirmed, StatusDismissed:
		return true
	}
	return false
}

// IsValid reports whether k is event or task.
func (k EntityKind) IsValid() bool {
	return k == EntityKindEvent || k == EntityKindTask
}

// ActiveStatuses are the statuses that take part in deduplication.
// Dismissed entities never count as duplicates.
var ActiveStatuses = []Status{StatusProposed, StatusConfirmed}

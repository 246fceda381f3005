package types

import "time"

// Event is a persisted calendar event.
type Event struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	CourseID    string `json:"course_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Status           Status  `json:"status"`
	Source           Source  `json:"source"`
	SourceDocumentID string  `json:"source_document_id,omitempty"`
	DedupeKey        string  `json:"dedupe_key,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a persisted to-do item. DueDate is nil for undated tasks, which
// are never dedup targets.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	CourseID    string     `json:"course_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   bool       `json:"completed"`

	Status           Status  `json:"status"`
	Source           Source  `json:"source"`
	SourceDocumentID string  `json:"source_document_id,omitempty"`
	DedupeKey        string  `json:"dedupe_key,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Course groups syllabus events and tasks. Unique per (owner, name).
type Course struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code,omitempty"`
	Term      string    `json:"term,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityRef is the minimal view of an event or task used during
// reconciliation: its id and the anchor time compared against candidates.
type EntityRef struct {
	ID     string     `json:"id"`
	Kind   EntityKind `json:"kind"`
	Status Status     `json:"status"`
	Anchor time.Time  `json:"anchor"`
}

// Proposal is an event or task awaiting review together with its evidence.
type Proposal struct {
	Kind     EntityKind      `json:"kind"`
	Event    *Event          `json:"event,omitempty"`
	Task     *Task           `json:"task,omitempty"`
	Evidence *EvidenceRecord `json:"evidence,omitempty"`
}

// ID returns the id of the wrapped entity.
func (p Proposal) ID() string {
	if p.Event != nil {
		return p.Event.ID
	}
	if p.Task != nil {
		return p.Task.ID
	}
	return ""
}

// Anchor returns the time a proposal sorts by: start time for events,
// due date for tasks (zero when undated).
func (p Proposal) Anchor() time.Time {
	if p.Event != nil {
		return p.Event.StartTime
	}
	if p.Task != nil && p.Task.DueDate != nil {
		return *p.Task.DueDate
	}
	return time.Time{}
}

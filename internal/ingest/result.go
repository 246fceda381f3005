package ingest

import (
	"fmt"
	"time"

	"github.com/scrypster/agenda/pkg/types"
)

// Outcome is what happened to one candidate.
type Outcome string

const (
	OutcomeCreated Outcome = "created"

	// OutcomeSkippedDuplicate is normal control flow, not an error: the
	// candidate restates an existing proposed or confirmed entity.
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"

	// OutcomeSkippedUndated marks a task without a due date under the skip policy.
	OutcomeSkippedUndated Outcome = "skipped_undated"

	// OutcomeDroppedInvalidTime marks a candidate whose times could not be
	// normalized, whose end precedes its start or whose recurrence rule
	// cannot be expanded.
	OutcomeDroppedInvalidTime Outcome = "dropped_invalid_time"

	// OutcomeFailed marks a storage failure for this candidate only.
	OutcomeFailed Outcome = "failed"
)

// StorageFailure is a lookup or create error for one candidate.
type StorageFailure struct {
	Op    string // "lookup", "create" or "course"
	Title string
	Err   error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage %s failed for %q: %v", e.Op, e.Title, e.Err)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

// CandidateResult records the outcome for one candidate, in extraction order.
type CandidateResult struct {
	Kind    types.EntityKind `json:"kind"`
	Title   string           `json:"title"`
	Anchor  *time.Time       `json:"anchor,omitempty"`
	Outcome Outcome          `json:"outcome"`

	// EntityID is set for created candidates.
	EntityID string `json:"entity_id,omitempty"`
	// ExistingID is the entity a duplicate matched.
	ExistingID string `json:"existing_id,omitempty"`

	Err error `json:"-"`
}

// BatchResult accumulates candidate outcomes for one request.
type BatchResult struct {
	Candidates []CandidateResult `json:"candidates"`
}

func (b *BatchResult) add(r CandidateResult) {
	b.Candidates = append(b.Candidates, r)
}

// Count returns the number of candidates with the given outcome.
func (b *BatchResult) Count(o Outcome) int {
	n := 0
	for _, c := range b.Candidates {
		if c.Outcome == o {
			n++
		}
	}
	return n
}

// Failures returns the storage failures of the batch.
func (b *BatchResult) Failures() []error {
	var errs []error
	for _, c := range b.Candidates {
		if c.Outcome == OutcomeFailed && c.Err != nil {
			errs = append(errs, c.Err)
		}
	}
	return errs
}

// Result is the answer to one SubmitExtraction call.
type Result struct {
	RunID           string   `json:"run_id,omitempty"`
	CreatedEventIDs []string `json:"created_event_ids"`
	CreatedTaskIDs  []string `json:"created_task_ids"`

	// Reply is only set for chat requests.
	Reply string `json:"reply,omitempty"`

	CourseIDs  []string    `json:"course_ids,omitempty"`
	ModelUsed  string      `json:"model_used"`
	Confidence float64     `json:"confidence"`
	Escalated  bool        `json:"escalated"`
	Batch      BatchResult `json:"batch"`
}

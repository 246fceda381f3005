package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/pkg/types"
)

// ListProposals returns the owner's proposed events and tasks with their
// evidence, ordered by anchor time. Undated tasks come last.
func (p *Pipeline) ListProposals(ctx context.Context, ownerID string, limit int) ([]types.Proposal, error) {
	proposed := []types.Status{types.StatusProposed}

	events, err := p.store.ListEvents(ctx, storage.EventFilter{OwnerID: ownerID, Statuses: proposed, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list proposed events: %w", err)
	}
	tasks, err := p.store.ListTasks(ctx, storage.TaskFilter{OwnerID: ownerID, Statuses: proposed, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list proposed tasks: %w", err)
	}

	out := make([]types.Proposal, 0, len(events)+len(tasks))
	for _, ev := range events {
		out = append(out, types.Proposal{Kind: types.EntityKindEvent, Event: ev, Evidence: p.evidenceFor(ctx, types.EntityKindEvent, ev.ID)})
	}
	for _, t := range tasks {
		out = append(out, types.Proposal{Kind: types.EntityKindTask, Task: t, Evidence: p.evidenceFor(ctx, types.EntityKindTask, t.ID)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].Anchor(), out[j].Anchor()
		switch {
		case ai.IsZero():
			return false
		case aj.IsZero():
			return true
		}
		return ai.Before(aj)
	})
	if n := storage.NormalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// evidenceFor returns the entity's evidence, or nil when it has none.
func (p *Pipeline) evidenceFor(ctx context.Context, kind types.EntityKind, id string) *types.EvidenceRecord {
	rec, err := p.store.GetEvidence(ctx, kind, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Pipeline: evidence lookup for %s %s failed: %v", kind, id, err)
		}
		return nil
	}
	return rec
}

// SetStatus confirms or dismisses a proposal. Dismissed entities no longer
// count as dedup targets, so a later extraction may propose them again.
func (p *Pipeline) SetStatus(ctx context.Context, ownerID string, kind types.EntityKind, id string, next types.Status) (*types.Proposal, error) {
	switch kind {
	case types.EntityKindEvent:
		ev, err := p.store.UpdateEventStatus(ctx, ownerID, id, next)
		if err != nil {
			return nil, err
		}
		return &types.Proposal{Kind: kind, Event: ev}, nil
	case types.EntityKindTask:
		t, err := p.store.UpdateTaskStatus(ctx, ownerID, id, next)
		if err != nil {
			return nil, err
		}
		return &types.Proposal{Kind: kind, Task: t}, nil
	}
	return nil, fmt.Errorf("%w: entity kind %q", storage.ErrInvalidInput, kind)
}

// Get returns one entity with its evidence.
func (p *Pipeline) Get(ctx context.Context, ownerID string, kind types.EntityKind, id string) (*types.Proposal, error) {
	out := &types.Proposal{Kind: kind}
	switch kind {
	case types.EntityKindEvent:
		ev, err := p.store.GetEvent(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		out.Event = ev
	case types.EntityKindTask:
		t, err := p.store.GetTask(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		out.Task = t
	default:
		return nil, fmt.Errorf("%w: entity kind %q", storage.ErrInvalidInput, kind)
	}
	out.Evidence = p.evidenceFor(ctx, kind, id)
	return out, nil
}

// CreateManualEvent stores a user-authored event. It skips the proposal
// stage and carries no dedupe key.
func (p *Pipeline) CreateManualEvent(ctx context.Context, ev *types.Event) error {
	if ev.EndTime.IsZero() {
		ev.EndTime = ev.StartTime.Add(p.cfg.DefaultEventDuration)
	}
	ev.Status = types.StatusConfirmed
	ev.Source = types.SourceManual
	ev.DedupeKey = ""
	ev.SourceDocumentID = ""
	return p.store.CreateEvent(ctx, ev)
}

// CreateManualTask stores a user-authored task as confirmed.
func (p *Pipeline) CreateManualTask(ctx context.Context, t *types.Task) error {
	t.Status = types.StatusConfirmed
	t.Source = types.SourceManual
	t.DedupeKey = ""
	t.SourceDocumentID = ""
	return p.store.CreateTask(ctx, t)
}

// Calendar is the owner's visible agenda for a window.
type Calendar struct {
	Events []*types.Event `json:"events"`
	Tasks  []*types.Task  `json:"tasks"`
}

// ListCalendar returns proposed and confirmed events overlapping [from, to)
// and tasks due in the same window.
func (p *Pipeline) ListCalendar(ctx context.Context, ownerID string, from, to time.Time) (*Calendar, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: window end must be after its start", storage.ErrInvalidInput)
	}
	events, err := p.store.ListEvents(ctx, storage.EventFilter{
		OwnerID:  ownerID,
		Statuses: types.ActiveStatuses,
		From:     from,
		To:       to,
		Limit:    storage.MaxListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	tasks, err := p.store.ListTasks(ctx, storage.TaskFilter{
		OwnerID:  ownerID,
		Statuses: types.ActiveStatuses,
		DueFrom:  from,
		DueTo:    to,
		Limit:    storage.MaxListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list calendar tasks: %w", err)
	}
	return &Calendar{Events: events, Tasks: tasks}, nil
}

// SetTaskCompleted toggles a task's completion flag.
func (p *Pipeline) SetTaskCompleted(ctx context.Context, ownerID, id string, completed bool) (*types.Task, error) {
	return p.store.SetTaskCompleted(ctx, ownerID, id, completed)
}

// ListRuns returns the owner's most recent ingestion runs.
func (p *Pipeline) ListRuns(ctx context.Context, ownerID string, limit int) ([]*types.IngestionRun, error) {
	return p.store.ListRuns(ctx, ownerID, limit)
}

// ListCourses returns the owner's courses.
func (p *Pipeline) ListCourses(ctx context.Context, ownerID string) ([]*types.Course, error) {
	return p.store.ListCourses(ctx, ownerID)
}

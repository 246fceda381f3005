// Package ingest turns raw syllabus, email and chat text into proposed
// calendar entities. Every source funnels into one candidate pipeline:
// normalize times, fingerprint, reconcile against durable storage, create
// and attach evidence. Re-running a request is safe because already
// created candidates reconcile as duplicates.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/agenda/internal/dedupe"
	"github.com/scrypster/agenda/internal/evidence"
	"github.com/scrypster/agenda/internal/extraction"
	"github.com/scrypster/agenda/internal/recurrence"
	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/internal/timenorm"
	"github.com/scrypster/agenda/pkg/types"
)

// ErrInvalidRequest is returned for requests missing an owner, document id
// or text, or carrying an unknown source kind.
var ErrInvalidRequest = errors.New("invalid extraction request")

// UndatedTaskPolicy decides what happens to tasks without a due date.
// Such tasks can never be deduplicated.
type UndatedTaskPolicy string

const (
	// UndatedSkip drops undated tasks, keeping re-runs idempotent.
	UndatedSkip UndatedTaskPolicy = "skip"

	// UndatedCreate creates undated tasks without a dedupe key. Every run
	// creates them again.
	UndatedCreate UndatedTaskPolicy = "create"
)

// DefaultEventDuration is applied to email and chat events without an end.
const DefaultEventDuration = time.Hour

// Config tunes the candidate pipeline.
type Config struct {
	Tolerance            time.Duration
	ExcerptLimit         int
	MaxOccurrences       int
	DefaultEventDuration time.Duration
	UndatedTasks         UndatedTaskPolicy

	// Now is used for the chat prompt's "today". Defaults to time.Now.
	Now func() time.Time
}

// Pipeline is the single entry point for extraction requests.
type Pipeline struct {
	store      storage.Store
	extractor  *extraction.Extractor
	norm       *timenorm.Normalizer
	reconciler *dedupe.Reconciler
	linker     *evidence.Linker
	expander   *recurrence.Expander
	cfg        Config
}

// NewPipeline wires the pipeline components around store.
func NewPipeline(store storage.Store, extractor *extraction.Extractor, norm *timenorm.Normalizer, cfg Config) *Pipeline {
	if cfg.DefaultEventDuration <= 0 {
		cfg.DefaultEventDuration = DefaultEventDuration
	}
	if cfg.UndatedTasks == "" {
		cfg.UndatedTasks = UndatedSkip
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		store:      store,
		extractor:  extractor,
		norm:       norm,
		reconciler: dedupe.NewReconciler(store, cfg.Tolerance),
		linker:     evidence.NewLinker(store, cfg.ExcerptLimit),
		expander:   recurrence.NewExpander(norm, cfg.MaxOccurrences),
		cfg:        cfg,
	}
}

// Store returns the backing store.
func (p *Pipeline) Store() storage.Store { return p.store }

// SubmitExtraction extracts candidates from req and reconciles each one.
//
// An extraction failure is returned as *extraction.ExtractionFailure and
// nothing is created. Per-candidate storage failures do not stop sibling
// candidates; they are joined into the returned error while the Result
// still reports everything that was created.
func (p *Pipeline) SubmitExtraction(ctx context.Context, req types.ExtractionRequest) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	run := &types.IngestionRun{
		OwnerID:          req.OwnerID,
		SourceKind:       req.SourceKind,
		SourceDocumentID: req.SourceDocumentID,
		StartedAt:        time.Now().UTC(),
	}

	schema, err := extraction.SchemaFor(req.SourceKind)
	if err != nil {
		return nil, err
	}

	log.Printf("Pipeline: extracting %s %s for %s", req.SourceKind, req.SourceDocumentID, req.OwnerID)
	extracted, err := p.extractor.Extract(ctx, buildPrompt(req, p.norm.Location(), p.cfg.Now()), schema)
	if err != nil {
		run.Error = err.Error()
		p.recordRun(ctx, run)
		return nil, err
	}

	res := &Result{
		CreatedEventIDs: []string{},
		CreatedTaskIDs:  []string{},
		ModelUsed:       extracted.ModelUsed,
		Confidence:      extracted.Confidence,
		Escalated:       extracted.Escalated,
	}
	run.ModelUsed = extracted.ModelUsed
	run.Confidence = extracted.Confidence
	run.Escalated = extracted.Escalated

	if err := p.processLocked(ctx, req, extracted, res); err != nil {
		return nil, err
	}

	for _, c := range res.Batch.Candidates {
		if c.Outcome != OutcomeCreated {
			continue
		}
		if c.Kind == types.EntityKindEvent {
			res.CreatedEventIDs = append(res.CreatedEventIDs, c.EntityID)
		} else {
			res.CreatedTaskIDs = append(res.CreatedTaskIDs, c.EntityID)
		}
	}

	run.Created = res.Batch.Count(OutcomeCreated)
	run.Skipped = res.Batch.Count(OutcomeSkippedDuplicate) + res.Batch.Count(OutcomeSkippedUndated)
	run.Dropped = res.Batch.Count(OutcomeDroppedInvalidTime)
	run.Failed = res.Batch.Count(OutcomeFailed)

	failures := res.Batch.Failures()
	if len(failures) > 0 {
		run.Error = errors.Join(failures...).Error()
	}
	p.recordRun(ctx, run)
	res.RunID = run.ID

	log.Printf("Pipeline: %s %s done: created=%d skipped=%d dropped=%d failed=%d (model %s, confidence %.2f)",
		req.SourceKind, req.SourceDocumentID, run.Created, run.Skipped, run.Dropped, run.Failed,
		extracted.ModelUsed, extracted.Confidence)

	if len(failures) > 0 {
		return res, errors.Join(failures...)
	}
	return res, nil
}

func validateRequest(req types.ExtractionRequest) error {
	switch {
	case !req.SourceKind.IsValid():
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidRequest, req.SourceKind)
	case strings.TrimSpace(req.OwnerID) == "":
		return fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	case strings.TrimSpace(req.SourceDocumentID) == "":
		return fmt.Errorf("%w: source document id is required", ErrInvalidRequest)
	case strings.TrimSpace(req.RawText) == "":
		return fmt.Errorf("%w: text is empty", ErrInvalidRequest)
	}
	return nil
}

// recordRun writes the audit row. A failure here is logged only.
func (p *Pipeline) recordRun(ctx context.Context, run *types.IngestionRun) {
	run.FinishedAt = time.Now().UTC()
	if err := p.store.CreateRun(ctx, run); err != nil {
		log.Printf("Pipeline: failed to record run for %s %s: %v", run.SourceKind, run.SourceDocumentID, err)
	}
}

// processLocked runs process under the owner's lock. Reconcile-then-create
// must not interleave with another request of the same owner.
func (p *Pipeline) processLocked(ctx context.Context, req types.ExtractionRequest, extracted *extraction.Result, res *Result) error {
	unlock, err := p.store.LockOwner(ctx, req.OwnerID)
	if err != nil {
		return fmt.Errorf("pipeline: lock owner %s: %w", req.OwnerID, err)
	}
	defer unlock()

	p.process(ctx, req, extracted, res)
	return nil
}

// process walks the payload's candidates in extraction order so that later
// candidates see entities created by earlier ones.
func (p *Pipeline) process(ctx context.Context, req types.ExtractionRequest, extracted *extraction.Result, res *Result) {
	src := batchSource{
		req:    req,
		source: req.SourceKind.PersistedSource(),
		result: extracted,
	}

	switch payload := extracted.Payload.(type) {
	case *extraction.CoursesPayload:
		for _, course := range payload.Courses {
			c, err := p.store.UpsertCourse(ctx, req.OwnerID, strings.TrimSpace(course.Name), course.Code, course.Term)
			if err != nil {
				failure := &StorageFailure{Op: "course", Title: course.Name, Err: err}
				log.Printf("Pipeline: %v", failure)
				res.Batch.add(CandidateResult{Title: course.Name, Outcome: OutcomeFailed, Err: failure})
				continue
			}
			res.CourseIDs = append(res.CourseIDs, c.ID)

			for _, ev := range course.Events {
				p.handleEvent(ctx, src, c.ID, ev, false, &res.Batch)
			}
			for _, t := range course.Tasks {
				p.handleTask(ctx, src, c.ID, t, &res.Batch)
			}
		}

	case *extraction.EmailPayload:
		for _, ev := range payload.Events {
			p.handleEvent(ctx, src, "", ev, true, &res.Batch)
		}
		for _, t := range payload.Tasks {
			p.handleTask(ctx, src, "", t, &res.Batch)
		}

	case *extraction.ChatPayload:
		res.Reply = payload.Reply
		for _, ev := range payload.Events {
			p.handleEvent(ctx, src, "", ev, true, &res.Batch)
		}
		for _, t := range payload.Tasks {
			p.handleTask(ctx, src, "", t, &res.Batch)
		}
	}
}

// batchSource carries what every candidate of one request shares.
type batchSource struct {
	req    types.ExtractionRequest
	source types.Source
	result *extraction.Result
}

func (s batchSource) raw() json.RawMessage { return s.result.RawResponse }

// handleEvent normalizes an event candidate, expands recurrence and runs
// each occurrence through reconciliation. defaultEnd allows a missing end
// time to be filled with the default duration.
func (p *Pipeline) handleEvent(ctx context.Context, src batchSource, courseID string, ev extraction.CandidateEvent, defaultEnd bool, batch *BatchResult) {
	title := strings.TrimSpace(ev.Title)

	start, err := p.norm.Normalize(ev.StartTime)
	if err != nil {
		p.drop(batch, types.EntityKindEvent, title, err)
		return
	}
	var end time.Time
	if strings.TrimSpace(ev.EndTime) == "" && defaultEnd {
		end = start.Add(p.cfg.DefaultEventDuration)
	} else {
		end, err = p.norm.Normalize(ev.EndTime)
		if err != nil {
			p.drop(batch, types.EntityKindEvent, title, err)
			return
		}
	}
	if end.Before(start) {
		p.drop(batch, types.EntityKindEvent, title, fmt.Errorf("end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)))
		return
	}

	occurrences, err := p.expander.Expand(start, end, ev.Recurring)
	if err != nil {
		p.drop(batch, types.EntityKindEvent, title, fmt.Errorf("invalid recurrence: %w", err))
		return
	}

	for _, occ := range occurrences {
		event := &types.Event{
			OwnerID:          src.req.OwnerID,
			CourseID:         courseID,
			Title:            title,
			Description:      strings.TrimSpace(ev.Description),
			Location:         strings.TrimSpace(ev.Location),
			StartTime:        occ.Start.UTC(),
			EndTime:          occ.End.UTC(),
			Status:           types.StatusProposed,
			Source:           src.source,
			SourceDocumentID: src.req.SourceDocumentID,
			Confidence:       src.result.Confidence,
		}
		event.DedupeKey = dedupe.Key(src.source, src.req.SourceDocumentID, title, event.StartTime)
		p.reconcileAndCreate(ctx, src, types.EntityKindEvent, title, event.StartTime, event.DedupeKey, batch,
			func() (string, error) {
				if err := p.store.CreateEvent(ctx, event); err != nil {
					return "", err
				}
				return event.ID, nil
			})
	}
}

// handleTask normalizes a task candidate and runs it through reconciliation.
func (p *Pipeline) handleTask(ctx context.Context, src batchSource, courseID string, t extraction.CandidateTask, batch *BatchResult) {
	title := strings.TrimSpace(t.Title)
	task := &types.Task{
		OwnerID:          src.req.OwnerID,
		CourseID:         courseID,
		Title:            title,
		Description:      strings.TrimSpace(t.Description),
		Status:           types.StatusProposed,
		Source:           src.source,
		SourceDocumentID: src.req.SourceDocumentID,
		Confidence:       src.result.Confidence,
	}
	create := func() (string, error) {
		if err := p.store.CreateTask(ctx, task); err != nil {
			return "", err
		}
		return task.ID, nil
	}

	if strings.TrimSpace(t.DueDate) == "" {
		if p.cfg.UndatedTasks != UndatedCreate {
			batch.add(CandidateResult{Kind: types.EntityKindTask, Title: title, Outcome: OutcomeSkippedUndated})
			return
		}
		// Undated tasks are not matchable, so they skip reconciliation.
		p.create(ctx, src, types.EntityKindTask, title, nil, batch, create)
		return
	}

	due, err := p.norm.Normalize(t.DueDate)
	if err != nil {
		p.drop(batch, types.EntityKindTask, title, err)
		return
	}
	due = due.UTC()
	task.DueDate = &due
	task.DedupeKey = dedupe.Key(src.source, src.req.SourceDocumentID, title, due)
	p.reconcileAndCreate(ctx, src, types.EntityKindTask, title, due, task.DedupeKey, batch, create)
}

func (p *Pipeline) drop(batch *BatchResult, kind types.EntityKind, title string, err error) {
	log.Printf("Pipeline: dropping %s %q: %v", kind, title, err)
	batch.add(CandidateResult{Kind: kind, Title: title, Outcome: OutcomeDroppedInvalidTime, Err: err})
}

func (p *Pipeline) reconcileAndCreate(ctx context.Context, src batchSource, kind types.EntityKind, title string,
	anchor time.Time, key string, batch *BatchResult, create func() (string, error)) {

	decision, err := p.reconciler.Reconcile(ctx, key, anchor, src.req.OwnerID, kind)
	if err != nil {
		failure := &StorageFailure{Op: "lookup", Title: title, Err: err}
		log.Printf("Pipeline: %v", failure)
		batch.add(CandidateResult{Kind: kind, Title: title, Anchor: &anchor, Outcome: OutcomeFailed, Err: failure})
		return
	}
	if decision.IsDuplicate {
		batch.add(CandidateResult{
			Kind:       kind,
			Title:      title,
			Anchor:     &anchor,
			Outcome:    OutcomeSkippedDuplicate,
			ExistingID: decision.ExistingID,
		})
		return
	}
	p.create(ctx, src, kind, title, &anchor, batch, create)
}

// create persists a new entity and then attaches its evidence. Evidence
// failures are logged and never undo the entity.
func (p *Pipeline) create(ctx context.Context, src batchSource, kind types.EntityKind, title string,
	anchor *time.Time, batch *BatchResult, create func() (string, error)) {

	id, err := create()
	if err != nil {
		failure := &StorageFailure{Op: "create", Title: title, Err: err}
		log.Printf("Pipeline: %v", failure)
		batch.add(CandidateResult{Kind: kind, Title: title, Anchor: anchor, Outcome: OutcomeFailed, Err: failure})
		return
	}

	if _, err := p.linker.Attach(ctx, id, kind, src.req.SourceKind, src.req.SourceDocumentID, src.req.RawText, src.raw()); err != nil {
		log.Printf("Pipeline: %s %s created without evidence: %v", kind, id, err)
	}
	batch.add(CandidateResult{Kind: kind, Title: title, Anchor: anchor, Outcome: OutcomeCreated, EntityID: id})
}

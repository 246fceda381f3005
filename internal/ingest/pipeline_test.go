package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agenda/internal/extraction"
	"github.com/scrypster/agenda/internal/llm/llmtest"
	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/internal/storage/sqlite"
	"github.com/scrypster/agenda/internal/timenorm"
	"github.com/scrypster/agenda/pkg/types"
)

const cs101Syllabus = `{"courses":[{"name":"Intro to Computer Science","code":"CS 101","term":"Spring 2025",
"events":[{"title":"CS 101 Lecture","startTime":"2025-01-06T10:00:00","endTime":"2025-01-06T10:50:00",
"location":"Room 204","recurring":{"frequency":"weekly","daysOfWeek":["MO"],"until":"2025-01-27"}}],
"tasks":[{"title":"HW 1","dueDate":"2025-01-10T23:59:00"},{"title":"Read chapter 1"}]}],"confidence":0.9}`

func newTestPipeline(t *testing.T, backend *llmtest.Completer, cfg Config) (*Pipeline, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return newPipelineOn(t, backend, store, cfg), store
}

// newPipelineOn builds a pipeline over an existing store.
func newPipelineOn(t *testing.T, backend *llmtest.Completer, store storage.Store, cfg Config) *Pipeline {
	t.Helper()
	extractor, err := extraction.NewExtractor(backend, nil, extraction.DefaultConfig())
	require.NoError(t, err)

	norm, err := timenorm.New(timenorm.DefaultReferenceTimezone)
	require.NoError(t, err)

	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC) }
	}
	return NewPipeline(store, extractor, norm, cfg)
}

func repeating(text string) *llmtest.Completer {
	c := llmtest.New(text)
	c.Repeat = true
	return c
}

func emailReq(doc string) types.ExtractionRequest {
	return EmailRequest("u1", EmailMessage{ID: doc, Subject: "Schedule", TextBody: "Meeting notes"})
}

func TestSubmitExtraction_SyllabusRunTwice(t *testing.T) {
	p, store := newTestPipeline(t, repeating(cs101Syllabus), Config{})
	ctx := context.Background()
	req := SyllabusRequest("u1", "syllabus-cs101", "CS 101 Lecture, Mondays 10:00-10:50, starting 2025-01-06")

	first, err := p.SubmitExtraction(ctx, req)
	require.NoError(t, err)
	assert.Len(t, first.CreatedEventIDs, 4, "weekly sessions Jan 6 through Jan 27")
	assert.Len(t, first.CreatedTaskIDs, 1, "undated task skipped by default")
	assert.Equal(t, 1, first.Batch.Count(OutcomeSkippedUndated))
	require.Len(t, first.CourseIDs, 1)

	events, err := store.ListEvents(ctx, storage.EventFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 4)
	chicago, _ := time.LoadLocation("America/Chicago")
	for i, ev := range events {
		assert.Equal(t, types.StatusProposed, ev.Status)
		assert.Equal(t, types.SourceSyllabus, ev.Source)
		assert.Equal(t, first.CourseIDs[0], ev.CourseID)
		assert.Equal(t, 50*time.Minute, ev.EndTime.Sub(ev.StartTime))
		local := ev.StartTime.In(chicago)
		assert.Equal(t, time.Monday, local.Weekday())
		assert.Equal(t, 10, local.Hour())
		assert.Equal(t, 6+7*i, local.Day())
	}

	second, err := p.SubmitExtraction(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, second.CreatedEventIDs)
	assert.Empty(t, second.CreatedTaskIDs)
	assert.Equal(t, 5, second.Batch.Count(OutcomeSkippedDuplicate))
	assert.Equal(t, first.CourseIDs, second.CourseIDs, "course is upserted, not duplicated")

	courses, err := store.ListCourses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "CS 101", courses[0].Code)

	runs, err := store.ListRuns(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	var totalCreated, totalSkipped int
	for _, r := range runs {
		totalCreated += r.Created
		totalSkipped += r.Skipped
		assert.Equal(t, "gpt-4o-mini", r.ModelUsed)
	}
	assert.Equal(t, 5, totalCreated)
	assert.Equal(t, 1+6, totalSkipped)
}

func TestSubmitExtraction_EvidenceAttached(t *testing.T) {
	p, store := newTestPipeline(t, repeating(cs101Syllabus), Config{})
	ctx := context.Background()
	long := strings.Repeat("é", 1500)

	res, err := p.SubmitExtraction(ctx, SyllabusRequest("u1", "doc-1", long))
	require.NoError(t, err)
	require.NotEmpty(t, res.CreatedEventIDs)

	rec, err := store.GetEvidence(ctx, types.EntityKindEvent, res.CreatedEventIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1000, len([]rune(rec.Excerpt)))
	assert.Equal(t, "doc-1", rec.SourceDocumentID)
	assert.Equal(t, types.SourceKindSyllabus, rec.SourceKind)
	assert.JSONEq(t, strings.ReplaceAll(cs101Syllabus, "\n", ""), string(rec.RawExtraction))

	taskRec, err := store.GetEvidence(ctx, types.EntityKindTask, res.CreatedTaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, rec.Excerpt, taskRec.Excerpt)
}

func TestSubmitExtraction_ToleranceBoundary(t *testing.T) {
	tests := []struct {
		name        string
		secondStart string
		wantCreated int
	}{
		{"exactly 15 minutes is a duplicate", "2025-03-03T10:15:00", 1},
		{"15 minutes and 1ms is distinct", "2025-03-03T10:15:00.001", 2},
		{"40 minutes in the same hour is distinct", "2025-03-03T10:40:00", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"events":[
				{"title":"Office Hours","startTime":"2025-03-03T10:00:00"},
				{"title":"office  hours","startTime":"` + tt.secondStart + `"}],"confidence":0.9}`
			p, _ := newTestPipeline(t, llmtest.New(payload), Config{})

			res, err := p.SubmitExtraction(context.Background(), emailReq("msg-1"))
			require.NoError(t, err)
			assert.Len(t, res.CreatedEventIDs, tt.wantCreated)
			if tt.wantCreated == 1 {
				dup := res.Batch.Candidates[1]
				assert.Equal(t, OutcomeSkippedDuplicate, dup.Outcome)
				assert.Equal(t, res.CreatedEventIDs[0], dup.ExistingID)
			}
		})
	}
}

func TestSubmitExtraction_EmailDefaultsEndTime(t *testing.T) {
	payload := `{"events":[{"title":"Review session","startTime":"2025-03-03T18:00:00-06:00","location":"Library"}],"confidence":0.8}`
	p, store := newTestPipeline(t, llmtest.New(payload), Config{})
	ctx := context.Background()

	res, err := p.SubmitExtraction(ctx, emailReq("msg-2"))
	require.NoError(t, err)
	require.Len(t, res.CreatedEventIDs, 1)

	ev, err := store.GetEvent(ctx, "u1", res.CreatedEventIDs[0])
	require.NoError(t, err)
	assert.True(t, ev.StartTime.Equal(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Hour, ev.EndTime.Sub(ev.StartTime))
	assert.Equal(t, types.SourceEmail, ev.Source)
	assert.Equal(t, "msg-2", ev.SourceDocumentID)
	assert.InDelta(t, 0.8, ev.Confidence, 1e-9)
}

func TestSubmitExtraction_InvalidTimeDroppedSiblingsContinue(t *testing.T) {
	payload := `{"events":[
		{"title":"Broken","startTime":"next tuesday-ish"},
		{"title":"Backwards","startTime":"2025-03-03T10:00","endTime":"2025-03-03T09:00"},
		{"title":"Fine","startTime":"2025-03-04T10:00"}],
		"tasks":[{"title":"Bad due","dueDate":"soon"},{"title":"Essay","dueDate":"2025-03-07"}],
		"confidence":0.9}`
	p, _ := newTestPipeline(t, llmtest.New(payload), Config{})

	res, err := p.SubmitExtraction(context.Background(), emailReq("msg-3"))
	require.NoError(t, err)
	assert.Len(t, res.CreatedEventIDs, 1)
	assert.Len(t, res.CreatedTaskIDs, 1)
	assert.Equal(t, 3, res.Batch.Count(OutcomeDroppedInvalidTime))

	var parseErr *timenorm.TimeParseError
	assert.True(t, errors.As(res.Batch.Candidates[0].Err, &parseErr))
}

func TestSubmitExtraction_ExtractionFailureCreatesNothing(t *testing.T) {
	p, store := newTestPipeline(t, llmtest.New("not json", `{"events": "nope"}`), Config{})
	ctx := context.Background()

	res, err := p.SubmitExtraction(ctx, emailReq("msg-4"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, extraction.ErrExtractionFailed))

	events, err := store.ListEvents(ctx, storage.EventFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, events)

	runs, err := store.ListRuns(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
}

func TestSubmitExtraction_LowConfidenceUsesEscalation(t *testing.T) {
	primary := `{"events":[{"title":"Guess","startTime":"2025-03-03T10:00"}],"confidence":0.3}`
	escalated := `{"events":[{"title":"Lab","startTime":"2025-03-03T13:00"}],"confidence":0.95}`
	backend := llmtest.New(primary, escalated)
	p, _ := newTestPipeline(t, backend, Config{})

	res, err := p.SubmitExtraction(context.Background(), emailReq("msg-5"))
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Calls())
	assert.True(t, res.Escalated)
	assert.Equal(t, "gpt-4o", res.ModelUsed)
	require.Len(t, res.Batch.Candidates, 1)
	assert.Equal(t, "Lab", res.Batch.Candidates[0].Title)
}

func TestSubmitExtraction_BlankTitleEscalates(t *testing.T) {
	primary := `{"events":[{"title":"   ","startTime":"2025-03-03T10:00"},{"title":"Real","startTime":"2025-03-04T10:00"}],"confidence":0.9}`
	escalated := `{"events":[{"title":"Review session","startTime":"2025-03-03T10:00"},{"title":"Real","startTime":"2025-03-04T10:00"}],"confidence":0.9}`
	backend := llmtest.New(primary, escalated)
	p, store := newTestPipeline(t, backend, Config{})
	ctx := context.Background()

	res, err := p.SubmitExtraction(ctx, emailReq("msg-blank"))
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Calls())
	assert.True(t, res.Escalated)
	assert.Len(t, res.CreatedEventIDs, 2)
	assert.Zero(t, res.Batch.Count(OutcomeFailed))

	events, err := store.ListEvents(ctx, storage.EventFilter{OwnerID: "u1"})
	require.NoError(t, err)
	for _, ev := range events {
		assert.NotEmpty(t, strings.TrimSpace(ev.Title))
	}
}

func TestProcess_InvalidRecurrenceDropsEntry(t *testing.T) {
	p, store := newTestPipeline(t, llmtest.New(), Config{})
	ctx := context.Background()

	// The schema only admits weekly or daily rules, so this payload is
	// built by hand.
	extracted := &extraction.Result{
		Payload: &extraction.CoursesPayload{Courses: []extraction.CandidateCourse{{
			Name: "Biology",
			Events: []extraction.CandidateEvent{
				{
					Title:     "Lab",
					StartTime: "2025-01-07T09:00",
					EndTime:   "2025-01-07T11:00",
					Recurring: &extraction.Recurrence{Frequency: "monthly"},
				},
				{Title: "Field trip", StartTime: "2025-01-09T08:00", EndTime: "2025-01-09T17:00"},
			},
		}}},
		RawResponse: []byte(`{}`),
	}
	res := &Result{}
	req := SyllabusRequest("u1", "syllabus-bio", "Lab meets monthly")
	require.NoError(t, p.processLocked(ctx, req, extracted, res))

	require.Len(t, res.Batch.Candidates, 2)
	assert.Equal(t, OutcomeDroppedInvalidTime, res.Batch.Candidates[0].Outcome)
	assert.ErrorContains(t, res.Batch.Candidates[0].Err, "invalid recurrence")
	assert.Equal(t, OutcomeCreated, res.Batch.Candidates[1].Outcome)

	events, err := store.ListEvents(ctx, storage.EventFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Field trip", events[0].Title)
}

// panickingStore panics on its first CreateEvent.
type panickingStore struct {
	storage.Store
	once sync.Once
}

func (s *panickingStore) CreateEvent(ctx context.Context, event *types.Event) error {
	fire := false
	s.once.Do(func() { fire = true })
	if fire {
		panic("create event: disk on fire")
	}
	return s.Store.CreateEvent(ctx, event)
}

func TestSubmitExtraction_PanicReleasesOwnerLock(t *testing.T) {
	base, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	payload := `{"events":[{"title":"Office hours","startTime":"2025-03-05T15:00"}],"confidence":0.9}`
	p := newPipelineOn(t, repeating(payload), &panickingStore{Store: base}, Config{})

	assert.Panics(t, func() { _, _ = p.SubmitExtraction(context.Background(), emailReq("msg-panic")) })

	// A leaked lock would make this call wait out the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := p.SubmitExtraction(ctx, emailReq("msg-panic"))
	require.NoError(t, err)
	assert.Len(t, res.CreatedEventIDs, 1)
}

func TestSubmitExtraction_DismissedCanBeRecreated(t *testing.T) {
	payload := `{"events":[{"title":"Midterm","startTime":"2025-03-10T14:00"}],"confidence":0.9}`
	p, _ := newTestPipeline(t, repeating(payload), Config{})
	ctx := context.Background()

	first, err := p.SubmitExtraction(ctx, emailReq("msg-6"))
	require.NoError(t, err)
	require.Len(t, first.CreatedEventIDs, 1)

	_, err = p.SetStatus(ctx, "u1", types.EntityKindEvent, first.CreatedEventIDs[0], types.StatusDismissed)
	require.NoError(t, err)

	second, err := p.SubmitExtraction(ctx, emailReq("msg-6"))
	require.NoError(t, err)
	require.Len(t, second.CreatedEventIDs, 1)
	assert.NotEqual(t, first.CreatedEventIDs[0], second.CreatedEventIDs[0])

	_, err = p.SetStatus(ctx, "u1", types.EntityKindEvent, second.CreatedEventIDs[0], types.StatusConfirmed)
	require.NoError(t, err)
	_, err = p.SetStatus(ctx, "u1", types.EntityKindEvent, second.CreatedEventIDs[0], types.StatusDismissed)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	third, err := p.SubmitExtraction(ctx, emailReq("msg-6"))
	require.NoError(t, err)
	assert.Empty(t, third.CreatedEventIDs, "confirmed entities still dedupe")
}

func TestSubmitExtraction_UndatedTaskPolicyCreate(t *testing.T) {
	payload := `{"tasks":[{"title":"Buy textbook"}],"confidence":0.9}`
	p, store := newTestPipeline(t, repeating(payload), Config{UndatedTasks: UndatedCreate})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.SubmitExtraction(ctx, emailReq("msg-7"))
		require.NoError(t, err)
		assert.Len(t, res.CreatedTaskIDs, 1, "undated tasks are never dedup targets")
	}

	tasks, err := store.ListTasks(ctx, storage.TaskFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Nil(t, tasks[0].DueDate)
	assert.Empty(t, tasks[0].DedupeKey)
}

func TestSubmitExtraction_ChatReply(t *testing.T) {
	payload := `{"reply":"Added your study group.","events":[{"title":"Study group","startTime":"2025-01-07T15:00"}],"tasks":[],"confidence":0.9}`
	backend := repeating(payload)
	p, store := newTestPipeline(t, backend, Config{})
	ctx := context.Background()
	req := ChatRequest("u1", "conv-1", []ChatTurn{{Role: "user", Content: "Add study group Tuesday 3pm"}})

	res, err := p.SubmitExtraction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Added your study group.", res.Reply)
	require.Len(t, res.CreatedEventIDs, 1)
	assert.Contains(t, backend.Requests()[0].Prompt, "Sunday, 2025-01-05")

	ev, err := store.GetEvent(ctx, "u1", res.CreatedEventIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.SourceManual, ev.Source)
	assert.Equal(t, "conv-1", ev.SourceDocumentID)
	assert.NotEmpty(t, ev.DedupeKey)

	again, err := p.SubmitExtraction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Added your study group.", again.Reply)
	assert.Empty(t, again.CreatedEventIDs, "chat runs through dedup too")
}

func TestSubmitExtraction_InvalidRequest(t *testing.T) {
	p, _ := newTestPipeline(t, llmtest.New(), Config{})
	ctx := context.Background()

	_, err := p.SubmitExtraction(ctx, types.ExtractionRequest{SourceKind: "fax", SourceDocumentID: "d", RawText: "x", OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = p.SubmitExtraction(ctx, types.ExtractionRequest{SourceKind: types.SourceKindEmail, SourceDocumentID: "d", RawText: " ", OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = p.SubmitExtraction(ctx, types.ExtractionRequest{SourceKind: types.SourceKindEmail, RawText: "x", OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitBatch_ConcurrentSameRequestCreatesOnce(t *testing.T) {
	payload := `{"events":[{"title":"Quiz","startTime":"2025-03-05T09:00"},{"title":"Lab","startTime":"2025-03-06T09:00"}],"confidence":0.9}`
	p, store := newTestPipeline(t, repeating(payload), Config{})
	ctx := context.Background()

	reqs := []types.ExtractionRequest{emailReq("msg-8"), emailReq("msg-8"), emailReq("msg-8"), emailReq("msg-8")}
	items := p.SubmitBatch(ctx, reqs, 4)
	require.Len(t, items, 4)

	created := 0
	for _, item := range items {
		require.NoError(t, item.Err)
		created += len(item.Result.CreatedEventIDs)
	}
	assert.Equal(t, 2, created)

	events, err := store.ListEvents(ctx, storage.EventFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

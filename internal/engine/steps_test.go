package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agenda/internal/extraction"
	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/internal/llm/llmtest"
	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/internal/storage/sqlite"
	"github.com/scrypster/agenda/internal/timenorm"
	"github.com/scrypster/agenda/pkg/types"
)

const examEmail = `{"events":[{"title":"Midterm","startTime":"2025-03-05T14:00"}],"confidence":0.9}`

func newIngestScheduler(t *testing.T, backend *llmtest.Completer) (*Scheduler, *sqlite.Store, <-chan completion) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s, done := newIngestSchedulerOn(t, backend, store)
	return s, store, done
}

func newIngestSchedulerOn(t *testing.T, backend *llmtest.Completer, store storage.Store) (*Scheduler, <-chan completion) {
	t.Helper()

	extractor, err := extraction.NewExtractor(backend, nil, extraction.DefaultConfig())
	require.NoError(t, err)
	norm, err := timenorm.New(timenorm.DefaultReferenceTimezone)
	require.NoError(t, err)

	p := ingest.NewPipeline(store, extractor, norm, ingest.Config{})

	s := newTestScheduler(t, 1)
	RegisterIngestSteps(s, p)
	done := collect(s)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Shutdown(ctx) })
	return s, done
}

func midtermRequest() types.ExtractionRequest {
	return ingest.EmailRequest("u1", ingest.EmailMessage{ID: "msg-1", Subject: "Midterm", TextBody: "Wed 2pm"})
}

func TestSubmitExtractionStep_RetriesExtractionFailure(t *testing.T) {
	backend := llmtest.New().
		PushError(errors.New("503 from provider")).
		PushError(errors.New("503 from provider")).
		PushText(examEmail)
	s, store, done := newIngestScheduler(t, backend)

	_, err := s.Enqueue(StepSubmitExtraction, midtermRequest())
	require.NoError(t, err)

	c := waitFor(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, 1, c.job.Attempt)

	events, err := store.ListEvents(context.Background(), storage.EventFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Midterm", events[0].Title)
	assert.Equal(t, time.Date(2025, 3, 5, 20, 0, 0, 0, time.UTC), events[0].StartTime)
}

func TestSubmitExtractionStep_InvalidRequestIsPermanent(t *testing.T) {
	backend := llmtest.New(examEmail)
	s, _, done := newIngestScheduler(t, backend)

	req := midtermRequest()
	req.OwnerID = ""
	_, err := s.Enqueue(StepSubmitExtraction, req)
	require.NoError(t, err)

	c := waitFor(t, done)
	assert.ErrorIs(t, c.err, ingest.ErrInvalidRequest)
	assert.True(t, IsPermanent(c.err))
	assert.Equal(t, 0, c.job.Attempt)
	assert.Empty(t, backend.Requests())
}

// flakyStore fails the first CreateEvent call.
type flakyStore struct {
	storage.Store

	mu     sync.Mutex
	failed bool
}

func (f *flakyStore) CreateEvent(ctx context.Context, event *types.Event) error {
	f.mu.Lock()
	first := !f.failed
	f.failed = true
	f.mu.Unlock()
	if first {
		return errors.New("database is locked")
	}
	return f.Store.CreateEvent(ctx, event)
}

func TestSubmitExtractionStep_RetriesCandidateFailure(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	payload := `{"events":[{"title":"Midterm","startTime":"2025-03-05T14:00"},{"title":"Final","startTime":"2025-05-07T09:00"}],"confidence":0.9}`
	backend := llmtest.New(payload)
	backend.Repeat = true
	s, done := newIngestSchedulerOn(t, backend, &flakyStore{Store: store})

	_, err = s.Enqueue(StepSubmitExtraction, midtermRequest())
	require.NoError(t, err)

	c := waitFor(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, 1, c.job.Attempt)
	assert.Len(t, backend.Requests(), 2)

	events, err := store.ListEvents(context.Background(), storage.EventFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 2, "the retry creates the failed candidate and skips the committed one")
	titles := []string{events[0].Title, events[1].Title}
	assert.ElementsMatch(t, []string{"Midterm", "Final"}, titles)
}

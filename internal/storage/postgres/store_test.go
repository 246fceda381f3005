package postgres_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/internal/storage/postgres"
	"github.com/scrypster/agenda/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	store, err := postgres.NewStore(postgresTestDSN(t))
	require.NoError(t, err, "NewStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgres_EventLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 9, 1, 14, 0, 0, 0, time.UTC)

	ev := &types.Event{
		OwnerID:   "u1",
		Title:     "Lecture 1",
		StartTime: start,
		EndTime:   start.Add(75 * time.Minute),
		Source:    types.SourceSyllabus,
		DedupeKey: "k1",
	}
	require.NoError(t, store.CreateEvent(ctx, ev))

	got, err := store.GetEvent(ctx, "u1", ev.ID)
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, types.StatusProposed, got.Status)

	refs, err := store.FindByDedupeKey(ctx, "u1", types.EntityKindEvent, "k1", types.ActiveStatuses)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Anchor.Equal(start))

	_, err = store.UpdateEventStatus(ctx, "u1", ev.ID, types.StatusDismissed)
	require.NoError(t, err)
	_, err = store.UpdateEventStatus(ctx, "u1", ev.ID, types.StatusConfirmed)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	refs, err = store.FindByDedupeKey(ctx, "u1", types.EntityKindEvent, "k1", types.ActiveStatuses)
	require.NoError(t, err)
	assert.Empty(t, refs)

	list, err := store.ListEvents(ctx, storage.EventFilter{OwnerID: "u1", From: start, To: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPostgres_TasksAndEvidence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	due := time.Date(2025, 9, 10, 23, 59, 0, 0, time.UTC)

	task := &types.Task{OwnerID: "u1", Title: "HW 1", DueDate: &due, DedupeKey: "t1"}
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, store.CreateTask(ctx, &types.Task{OwnerID: "u1", Title: "Undated"}))

	list, err := store.ListTasks(ctx, storage.TaskFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "HW 1", list[0].Title)

	rec := &types.EvidenceRecord{
		EntityID:         task.ID,
		EntityKind:       types.EntityKindTask,
		SourceKind:       types.SourceKindEmail,
		SourceDocumentID: "msg-1",
		Excerpt:          "HW 1 due Sept 10",
		RawExtraction:    []byte(`{"tasks":[]}`),
	}
	require.NoError(t, store.CreateEvidence(ctx, rec))
	rec.ID = ""
	assert.ErrorIs(t, store.CreateEvidence(ctx, rec), storage.ErrConflict)

	got, err := store.GetEvidence(ctx, types.EntityKindTask, task.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tasks":[]}`, string(got.RawExtraction))

	c1, err := store.UpsertCourse(ctx, "u1", "Intro to CS", "CS 101", "")
	require.NoError(t, err)
	c2, err := store.UpsertCourse(ctx, "u1", "Intro to CS", "", "")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
}

func TestPostgres_LockOwnerSerializes(t *testing.T) {
	store := newTestStore(t)
	var inside, overlap int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := store.LockOwner(context.Background(), "u1")
			if !assert.NoError(t, err) {
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, overlap)
}

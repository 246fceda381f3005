package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/pkg/types"
)

func TestListProposals_OrderedWithEvidence(t *testing.T) {
	payload := `{"events":[{"title":"Late","startTime":"2025-03-12T10:00"},{"title":"Early","startTime":"2025-03-03T10:00"}],
		"tasks":[{"title":"Essay","dueDate":"2025-03-05T17:00"}],"confidence":0.9}`
	p, _ := newTestPipeline(t, repeating(payload), Config{})
	ctx := context.Background()

	res, err := p.SubmitExtraction(ctx, emailReq("msg-10"))
	require.NoError(t, err)
	require.Len(t, res.CreatedEventIDs, 2)

	proposals, err := p.ListProposals(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, proposals, 3)
	assert.Equal(t, "Early", proposals[0].Event.Title)
	assert.Equal(t, "Essay", proposals[1].Task.Title)
	assert.Equal(t, "Late", proposals[2].Event.Title)
	for _, prop := range proposals {
		require.NotNil(t, prop.Evidence, "proposal %s has evidence", prop.ID())
		assert.Equal(t, "msg-10", prop.Evidence.SourceDocumentID)
	}

	_, err = p.SetStatus(ctx, "u1", types.EntityKindTask, proposals[1].ID(), types.StatusConfirmed)
	require.NoError(t, err)

	proposals, err = p.ListProposals(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, proposals, 2)

	got, err := p.Get(ctx, "u1", types.EntityKindTask, res.CreatedTaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, got.Task.Status)
	assert.NotNil(t, got.Evidence)
}

func TestSetStatus_Errors(t *testing.T) {
	p, _ := newTestPipeline(t, repeating(`{"confidence":0.9}`), Config{})
	ctx := context.Background()

	_, err := p.SetStatus(ctx, "u1", types.EntityKindEvent, "missing", types.StatusConfirmed)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = p.SetStatus(ctx, "u1", "note", "x", types.StatusConfirmed)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestManualEntitiesAndCalendar(t *testing.T) {
	p, _ := newTestPipeline(t, repeating(`{"events":[{"title":"Proposed","startTime":"2025-03-04T09:00"}],"confidence":0.9}`), Config{})
	ctx := context.Background()
	start := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

	ev := &types.Event{OwnerID: "u1", Title: "Dentist", StartTime: start, DedupeKey: "ignored"}
	require.NoError(t, p.CreateManualEvent(ctx, ev))
	assert.Equal(t, types.StatusConfirmed, ev.Status)
	assert.Equal(t, types.SourceManual, ev.Source)
	assert.Empty(t, ev.DedupeKey)
	assert.Equal(t, start.Add(time.Hour), ev.EndTime)

	due := start.Add(24 * time.Hour)
	task := &types.Task{OwnerID: "u1", Title: "Pay rent", DueDate: &due}
	require.NoError(t, p.CreateManualTask(ctx, task))
	assert.Equal(t, types.StatusConfirmed, task.Status)

	_, err := p.SubmitExtraction(ctx, emailReq("msg-11"))
	require.NoError(t, err)

	cal, err := p.ListCalendar(ctx, "u1", start.Add(-time.Hour), start.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, cal.Events, 2)
	assert.Len(t, cal.Tasks, 1)

	done, err := p.SetTaskCompleted(ctx, "u1", task.ID, true)
	require.NoError(t, err)
	assert.True(t, done.Completed)

	_, err = p.ListCalendar(ctx, "u1", start, start)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

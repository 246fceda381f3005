package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agenda/pkg/types"
)

type memStore struct {
	records []*types.EvidenceRecord
	err     error
}

func (m *memStore) CreateEvidence(ctx context.Context, rec *types.EvidenceRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("short", 1000))
	assert.Equal(t, "abc", Excerpt("abcdef", 3))
	assert.Equal(t, "", Excerpt("", 10))

	long := strings.Repeat("x", 2500)
	assert.Len(t, Excerpt(long, DefaultExcerptLimit), 1000)

	// multi-byte characters are counted as characters and never split
	accented := strings.Repeat("é", 1200)
	got := Excerpt(accented, 1000)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 1000, utf8.RuneCountInString(got))
}

func TestLinker_Attach(t *testing.T) {
	store := &memStore{}
	l := NewLinker(store, 0)

	raw := json.RawMessage(`{"events":[]}`)
	rec, err := l.Attach(context.Background(), "ev-1", types.EntityKindEvent, types.SourceKindEmail, "msg-9",
		strings.Repeat("a", 1500), raw)
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	assert.Equal(t, rec, store.records[0])
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "ev-1", rec.EntityID)
	assert.Equal(t, types.EntityKindEvent, rec.EntityKind)
	assert.Equal(t, types.SourceKindEmail, rec.SourceKind)
	assert.Equal(t, "msg-9", rec.SourceDocumentID)
	assert.Len(t, rec.Excerpt, 1000)
	assert.JSONEq(t, string(raw), string(rec.RawExtraction))
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestLinker_AttachErrors(t *testing.T) {
	boom := errors.New("insert failed")
	l := NewLinker(&memStore{err: boom}, 10)

	_, err := l.Attach(context.Background(), "t-1", types.EntityKindTask, types.SourceKindChat, "c", "text", nil)
	assert.ErrorIs(t, err, boom)

	_, err = l.Attach(context.Background(), "", types.EntityKindTask, types.SourceKindChat, "c", "text", nil)
	assert.Error(t, err)

	_, err = l.Attach(context.Background(), "x", types.EntityKind("memo"), types.SourceKindChat, "c", "text", nil)
	assert.Error(t, err)
}

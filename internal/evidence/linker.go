// Package evidence records the audit trail linking each created entity to
// the document and model output it came from.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/agenda/pkg/types"
)

// DefaultExcerptLimit is the maximum excerpt length in characters.
const DefaultExcerptLimit = 1000

// Store persists evidence records.
type Store interface {
	CreateEvidence(ctx context.Context, rec *types.EvidenceRecord) error
}

// Linker attaches evidence to freshly created entities.
type Linker struct {
	store Store
	limit int
}

// NewLinker creates a Linker. A non-positive limit selects DefaultExcerptLimit.
func NewLinker(store Store, limit int) *Linker {
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}
	return &Linker{store: store, limit: limit}
}

// Attach stores a bounded prefix of fullText and the raw extraction for
// entityID. Call it only after the entity is durably created and only for
// entities that are new.
func (l *Linker) Attach(ctx context.Context, entityID string, kind types.EntityKind, sourceKind types.SourceKind,
	sourceDocumentID, fullText string, rawExtraction json.RawMessage) (*types.EvidenceRecord, error) {

	if entityID == "" {
		return nil, fmt.Errorf("evidence: entity id is required")
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("evidence: invalid entity kind %q", kind)
	}

	rec := &types.EvidenceRecord{
		ID:               uuid.NewString(),
		EntityID:         entityID,
		EntityKind:       kind,
		SourceKind:       sourceKind,
		SourceDocumentID: sourceDocumentID,
		Excerpt:          Excerpt(fullText, l.limit),
		RawExtraction:    rawExtraction,
		CreatedAt:        time.Now().UTC(),
	}
	if err := l.store.CreateEvidence(ctx, rec); err != nil {
		return nil, fmt.Errorf("evidence: attach to %s %s: %w", kind, entityID, err)
	}
	return rec, nil
}

// Excerpt returns at most limit characters of text without splitting a
// multi-byte character.
func Excerpt(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}

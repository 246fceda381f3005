// Package dedupe derives deterministic fingerprints for candidate entities
// and decides whether a candidate restates an entity that already exists.
package dedupe

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/agenda/pkg/types"
)

// DefaultTolerance is the maximum anchor-time distance at which two
// entities with the same fingerprint are considered the same.
const DefaultTolerance = 15 * time.Minute

// Key returns the fingerprint for a candidate. The title is compared
// case-insensitively with whitespace collapsed, and the instant is truncated
// to the start of its UTC hour so small extraction jitter maps to one key.
func Key(source types.Source, sourceDocumentID, title string, instant time.Time) string {
	composite := strings.Join([]string{
		string(source),
		sourceDocumentID,
		NormalizeTitle(title),
		instant.UTC().Truncate(time.Hour).Format(time.RFC3339),
	}, ":")
	return base64.StdEncoding.EncodeToString([]byte(composite))
}

// NormalizeTitle lowercases a title and collapses runs of whitespace.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Finder looks up non-dismissed entities sharing a fingerprint.
type Finder interface {
	FindByDedupeKey(ctx context.Context, ownerID string, kind types.EntityKind, key string, statuses []types.Status) ([]types.EntityRef, error)
}

// Decision is the outcome of a reconciliation.
type Decision struct {
	IsDuplicate bool
	ExistingID  string
}

// Reconciler decides create-versus-skip for candidates.
type Reconciler struct {
	finder    Finder
	tolerance time.Duration
}

// NewReconciler creates a Reconciler. A zero tolerance selects DefaultTolerance.
func NewReconciler(finder Finder, tolerance time.Duration) *Reconciler {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Reconciler{finder: finder, tolerance: tolerance}
}

// Tolerance returns the configured match window.
func (r *Reconciler) Tolerance() time.Duration { return r.tolerance }

// Reconcile reports whether a proposed or confirmed entity of the same kind
// and owner shares key and has an anchor time within the tolerance of
// instant. The boundary is inclusive.
func (r *Reconciler) Reconcile(ctx context.Context, key string, instant time.Time, ownerID string, kind types.EntityKind) (Decision, error) {
	existing, err := r.finder.FindByDedupeKey(ctx, ownerID, kind, key, types.ActiveStatuses)
	if err != nil {
		return Decision{}, fmt.Errorf("dedupe lookup: %w", err)
	}

	for _, ref := range existing {
		if ref.Status == types.StatusDismissed {
			continue
		}
		if Within(ref.Anchor, instant, r.tolerance) {
			return Decision{IsDuplicate: true, ExistingID: ref.ID}, nil
		}
	}
	return Decision{}, nil
}

// Within reports whether |a-b| <= tolerance.
func Within(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

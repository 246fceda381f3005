package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/pkg/types"
)

// UpsertCourse returns the owner's course called name, creating it if needed.
func (s *Store) UpsertCourse(ctx context.Context, ownerID, name, code, term string) (*types.Course, error) {
	if ownerID == "" || name == "" {
		return nil, fmt.Errorf("%w: course owner and name are required", storage.ErrInvalidInput)
	}
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, owner_id, name, code, term, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, name) DO NOTHING`,
		uuid.NewString(), ownerID, name, nullString(code), nullString(term), now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upsert course: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, code, term, created_at, updated_at
		FROM courses WHERE owner_id = ? AND name = ?`, ownerID, name)
	return scanCourse(row)
}

// ListCourses returns the owner's courses ordered by name.
func (s *Store) ListCourses(ctx context.Context, ownerID string) ([]*types.Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, code, term, created_at, updated_at
		FROM courses WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list courses: %w", err)
	}
	defer rows.Close()

	var out []*types.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCourse(row scanner) (*types.Course, error) {
	var (
		c                types.Course
		code, term       sql.NullString
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &code, &term, &created, &updated); err != nil {
		return nil, fmt.Errorf("sqlite: scan course: %w", err)
	}
	c.Code = code.String
	c.Term = term.String
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// FindByDedupeKey returns the owner's entities sharing key with a status in statuses.
func (s *Store) FindByDedupeKey(ctx context.Context, ownerID string, kind types.EntityKind, key string, statuses []types.Status) ([]types.EntityRef, error) {
	if key == "" || len(statuses) == 0 {
		return nil, nil
	}

	var query string
	switch kind {
	case types.EntityKindEvent:
		query = `SELECT id, status, start_time FROM events WHERE owner_id = ? AND dedupe_key = ?`
	case types.EntityKindTask:
		query = `SELECT id, status, due_date FROM tasks WHERE owner_id = ? AND dedupe_key = ? AND due_date IS NOT NULL`
	default:
		return nil, fmt.Errorf("%w: entity kind %q", storage.ErrInvalidInput, kind)
	}
	query += " AND status IN (" + placeholders(len(statuses)) + ")"

	args := []interface{}{ownerID, key}
	for _, st := range statuses {
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find by dedupe key: %w", err)
	}
	defer rows.Close()

	var out []types.EntityRef
	for rows.Next() {
		var (
			ref    types.EntityRef
			status string
			anchor int64
		)
		if err := rows.Scan(&ref.ID, &status, &anchor); err != nil {
			return nil, fmt.Errorf("sqlite: scan dedupe match: %w", err)
		}
		ref.Kind = kind
		ref.Status = types.Status(status)
		ref.Anchor = fromMillis(anchor)
		out = append(out, ref)
	}
	return out, rows.Err()
}

// CreateEvidence inserts an evidence record.
func (s *Store) CreateEvidence(ctx context.Context, rec *types.EvidenceRecord) error {
	if rec == nil || rec.EntityID == "" || !rec.EntityKind.IsValid() {
		return fmt.Errorf("%w: evidence needs an entity", storage.ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var eventID, taskID sql.NullString
	if rec.EntityKind == types.EntityKindEvent {
		eventID = nullString(rec.EntityID)
	} else {
		taskID = nullString(rec.EntityID)
	}
	var raw sql.NullString
	if len(rec.RawExtraction) > 0 {
		raw = sql.NullString{String: string(rec.RawExtraction), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, event_id, task_id, source_kind, source_document_id, excerpt, raw_extraction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, eventID, taskID, string(rec.SourceKind), rec.SourceDocumentID, rec.Excerpt, raw, toMillis(rec.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s already has evidence", storage.ErrConflict, rec.EntityKind, rec.EntityID)
		}
		return fmt.Errorf("sqlite: insert evidence: %w", err)
	}
	return nil
}

// GetEvidence returns the evidence attached to an entity.
func (s *Store) GetEvidence(ctx context.Context, kind types.EntityKind, entityID string) (*types.EvidenceRecord, error) {
	column := "event_id"
	if kind == types.EntityKindTask {
		column = "task_id"
	}

	var (
		rec        types.EvidenceRecord
		sourceKind string
		raw        sql.NullString
		created    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_kind, source_document_id, excerpt, raw_extraction, created_at
		FROM evidence WHERE `+column+` = ?`, entityID).
		Scan(&rec.ID, &sourceKind, &rec.SourceDocumentID, &rec.Excerpt, &raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evidence for %s %s: %w", kind, entityID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get evidence: %w", err)
	}

	rec.EntityID = entityID
	rec.EntityKind = kind
	rec.SourceKind = types.SourceKind(sourceKind)
	if raw.Valid {
		rec.RawExtraction = json.RawMessage(raw.String)
	}
	rec.CreatedAt = fromMillis(created)
	return &rec, nil
}

// CreateRun records an ingestion run.
func (s *Store) CreateRun(ctx context.Context, run *types.IngestionRun) error {
	if run == nil || run.OwnerID == "" {
		return fmt.Errorf("%w: run owner is required", storage.ErrInvalidInput)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, owner_id, source_kind, source_document_id, model_used, confidence,
			escalated, created, skipped, dropped, failed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OwnerID, string(run.SourceKind), run.SourceDocumentID, nullString(run.ModelUsed),
		run.Confidence, run.Escalated, run.Created, run.Skipped, run.Dropped, run.Failed,
		nullString(run.Error), toMillis(run.StartedAt), toMillis(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert run: %w", err)
	}
	return nil
}

// ListRuns returns the owner's most recent runs first.
func (s *Store) ListRuns(ctx context.Context, ownerID string, limit int) ([]*types.IngestionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, source_kind, source_document_id, model_used, confidence, escalated,
			created, skipped, dropped, failed, error, started_at, finished_at
		FROM ingestion_runs WHERE owner_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, ownerID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var out []*types.IngestionRun
	for rows.Next() {
		var (
			run               types.IngestionRun
			kind              string
			model, errText    sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&run.ID, &run.OwnerID, &kind, &run.SourceDocumentID, &model, &run.Confidence,
			&run.Escalated, &run.Created, &run.Skipped, &run.Dropped, &run.Failed, &errText,
			&started, &finished); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		run.SourceKind = types.SourceKind(kind)
		run.ModelUsed = model.String
		run.Error = errText.String
		run.StartedAt = fromMillis(started)
		run.FinishedAt = fromMillis(finished)
		out = append(out, &run)
	}
	return out, rows.Err()
}

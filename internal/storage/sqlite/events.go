package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/pkg/types"
)

const eventColumns = `id, owner_id, course_id, title, description, location, start_time, end_time,
	status, source, source_document_id, dedupe_key, confidence, created_at, updated_at`

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, event *types.Event) error {
	if event == nil || event.OwnerID == "" || event.Title == "" {
		return fmt.Errorf("%w: event owner and title are required", storage.ErrInvalidInput)
	}
	if event.StartTime.IsZero() || event.EndTime.Before(event.StartTime) {
		return fmt.Errorf("%w: event needs a start time and an end not before it", storage.ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = types.StatusProposed
	}
	if event.Source == "" {
		event.Source = types.SourceManual
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OwnerID, nullString(event.CourseID), event.Title,
		nullString(event.Description), nullString(event.Location),
		toMillis(event.StartTime), toMillis(event.EndTime),
		string(event.Status), string(event.Source), nullString(event.SourceDocumentID),
		nullString(event.DedupeKey), nullFloat(event.Confidence),
		toMillis(event.CreatedAt), toMillis(event.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event %s exists", storage.ErrConflict, event.ID)
		}
		return fmt.Errorf("sqlite: insert event: %w", err)
	}
	return nil
}

// GetEvent returns the owner's event.
func (s *Store) GetEvent(ctx context.Context, ownerID, id string) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ? AND owner_id = ?`, id, ownerID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get event: %w", err)
	}
	return ev, nil
}

// ListEvents returns events matching filter ordered by start time.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	var where []string
	var args []interface{}

	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.CourseID != "" {
		where = append(where, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if !filter.To.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, toMillis(filter.To))
	}
	if !filter.From.IsZero() {
		where = append(where, "end_time > ?")
		args = append(args, toMillis(filter.From))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC LIMIT ?"
	args = append(args, storage.NormalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpdateEventStatus applies a status transition inside a transaction.
func (s *Store) UpdateEventStatus(ctx context.Context, ownerID, id string, next types.Status) (*types.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM events WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read event status: %w", err)
	}
	if err := storage.CheckTransition(types.Status(current), next); err != nil {
		return nil, fmt.Errorf("event %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE events SET status = ?, updated_at = ? WHERE id = ?`,
		string(next), toMillis(time.Now()), id); err != nil {
		return nil, fmt.Errorf("sqlite: update event status: %w", err)
	}

	ev, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: reload event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return ev, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*types.Event, error) {
	var (
		ev                                    types.Event
		courseID, desc, loc, docID, dedupeKey sql.NullString
		confidence                            sql.NullFloat64
		status, source                        string
		start, end, created, updated          int64
	)
	if err := row.Scan(&ev.ID, &ev.OwnerID, &courseID, &ev.Title, &desc, &loc, &start, &end,
		&status, &source, &docID, &dedupeKey, &confidence, &created, &updated); err != nil {
		return nil, err
	}
	ev.CourseID = courseID.String
	ev.Description = desc.String
	ev.Location = loc.String
	ev.StartTime = fromMillis(start)
	ev.EndTime = fromMillis(end)
	ev.Status = types.Status(status)
	ev.Source = types.Source(source)
	ev.SourceDocumentID = docID.String
	ev.DedupeKey = dedupeKey.String
	ev.Confidence = confidence.Float64
	ev.CreatedAt = fromMillis(created)
	ev.UpdatedAt = fromMillis(updated)
	return &ev, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

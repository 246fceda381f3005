package postgres

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

const taskColumns = `id, owner_id, course_id, title, description, due_date, completed,
	status, source, source_document_id, dedupe_key, confidence, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

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

	var a args
	values := a.addAll(event.ID, event.OwnerID, nullString(event.CourseID), event.Title,
		nullString(event.Description), nullString(event.Location),
		event.StartTime.UTC(), event.EndTime.UTC(),
		string(event.Status), string(event.Source), nullString(event.SourceDocumentID),
		nullString(event.DedupeKey), nullFloat(event.Confidence),
		event.CreatedAt, event.UpdatedAt)

	if _, err := s.db.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`) VALUES (`+values+`)`, a...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event %s exists", storage.ErrConflict, event.ID)
		}
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

// GetEvent returns the owner's event.
func (s *Store) GetEvent(ctx context.Context, ownerID, id string) (*types.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get event: %w", err)
	}
	return ev, nil
}

// ListEvents returns events matching filter ordered by start time.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]*types.Event, error) {
	var a args
	where := commonWhere(&a, filter.OwnerID, filter.Statuses, filter.Source, filter.CourseID)
	if !filter.To.IsZero() {
		where = append(where, "start_time < "+a.add(filter.To.UTC()))
	}
	if !filter.From.IsZero() {
		where = append(where, "end_time > "+a.add(filter.From.UTC()))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC LIMIT " + a.add(storage.NormalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpdateEventStatus applies a status transition under a row lock.
func (s *Store) UpdateEventStatus(ctx context.Context, ownerID, id string, next types.Status) (*types.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := transition(ctx, tx, "events", "event", ownerID, id, next); err != nil {
		return nil, err
	}
	ev, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("postgres: reload event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return ev, nil
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, task *types.Task) error {
	if task == nil || task.OwnerID == "" || task.Title == "" {
		return fmt.Errorf("%w: task owner and title are required", storage.ErrInvalidInput)
	}
	if task.DueDate == nil && task.DedupeKey != "" {
		return fmt.Errorf("%w: undated task cannot carry a dedupe key", storage.ErrInvalidInput)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = types.StatusProposed
	}
	if task.Source == "" {
		task.Source = types.SourceManual
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	var a args
	values := a.addAll(task.ID, task.OwnerID, nullString(task.CourseID), task.Title, nullString(task.Description),
		nullTime(task.DueDate), task.Completed,
		string(task.Status), string(task.Source), nullString(task.SourceDocumentID),
		nullString(task.DedupeKey), nullFloat(task.Confidence),
		task.CreatedAt, task.UpdatedAt)

	if _, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (`+values+`)`, a...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task %s exists", storage.ErrConflict, task.ID)
		}
		return fmt.Errorf("postgres: insert task: %w", err)
	}
	return nil
}

// GetTask returns the owner's task.
func (s *Store) GetTask(ctx context.Context, ownerID, id string) (*types.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter ordered by due date, undated last.
func (s *Store) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	var a args
	where := commonWhere(&a, filter.OwnerID, filter.Statuses, filter.Source, filter.CourseID)
	if filter.Completed != nil {
		where = append(where, "completed = "+a.add(*filter.Completed))
	}
	if !filter.DueFrom.IsZero() || !filter.DueTo.IsZero() {
		var window []string
		if !filter.DueFrom.IsZero() {
			window = append(window, "due_date >= "+a.add(filter.DueFrom.UTC()))
		}
		if !filter.DueTo.IsZero() {
			window = append(window, "due_date < "+a.add(filter.DueTo.UTC()))
		}
		clause := "(" + strings.Join(window, " AND ") + ")"
		if filter.IncludeUndated {
			clause = "(" + clause + " OR due_date IS NULL)"
		}
		where = append(where, clause)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_date ASC NULLS LAST, id ASC LIMIT " + a.add(storage.NormalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// UpdateTaskStatus applies a status transition under a row lock.
func (s *Store) UpdateTaskStatus(ctx context.Context, ownerID, id string, next types.Status) (*types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := transition(ctx, tx, "tasks", "task", ownerID, id, next); err != nil {
		return nil, err
	}
	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("postgres: reload task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return task, nil
}

// SetTaskCompleted toggles the completion flag.
func (s *Store) SetTaskCompleted(ctx context.Context, ownerID, id string, completed bool) (*types.Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = $1, updated_at = $2 WHERE id = $3 AND owner_id = $4`,
		completed, time.Now().UTC(), id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: set task completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return s.GetTask(ctx, ownerID, id)
}

// transition locks the row, checks the state machine and writes the new status.
func transition(ctx context.Context, tx *sql.Tx, table, noun, ownerID, id string, next types.Status) error {
	var current string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM `+table+` WHERE id = $1 AND owner_id = $2 FOR UPDATE`, id, ownerID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", noun, id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: read %s status: %w", noun, err)
	}
	if err := storage.CheckTransition(types.Status(current), next); err != nil {
		return fmt.Errorf("%s %s: %w", noun, id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET status = $1, updated_at = $2 WHERE id = $3`,
		string(next), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("postgres: update %s status: %w", noun, err)
	}
	return nil
}

func commonWhere(a *args, ownerID string, statuses []types.Status, source types.Source, courseID string) []string {
	var where []string
	if ownerID != "" {
		where = append(where, "owner_id = "+a.add(ownerID))
	}
	if len(statuses) > 0 {
		vals := make([]interface{}, len(statuses))
		for i, st := range statuses {
			vals[i] = string(st)
		}
		where = append(where, "status IN ("+a.addAll(vals...)+")")
	}
	if source != "" {
		where = append(where, "source = "+a.add(string(source)))
	}
	if courseID != "" {
		where = append(where, "course_id = "+a.add(courseID))
	}
	return where
}

func scanEvent(row scanner) (*types.Event, error) {
	var (
		ev                                    types.Event
		courseID, desc, loc, docID, dedupeKey sql.NullString
		confidence                            sql.NullFloat64
		status, source                        string
	)
	if err := row.Scan(&ev.ID, &ev.OwnerID, &courseID, &ev.Title, &desc, &loc, &ev.StartTime, &ev.EndTime,
		&status, &source, &docID, &dedupeKey, &confidence, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return nil, err
	}
	ev.CourseID = courseID.String
	ev.Description = desc.String
	ev.Location = loc.String
	ev.StartTime = ev.StartTime.UTC()
	ev.EndTime = ev.EndTime.UTC()
	ev.Status = types.Status(status)
	ev.Source = types.Source(source)
	ev.SourceDocumentID = docID.String
	ev.DedupeKey = dedupeKey.String
	ev.Confidence = confidence.Float64
	return &ev, nil
}

func scanTask(row scanner) (*types.Task, error) {
	var (
		task                             types.Task
		courseID, desc, docID, dedupeKey sql.NullString
		due                              sql.NullTime
		confidence                       sql.NullFloat64
		status, source                   string
	)
	if err := row.Scan(&task.ID, &task.OwnerID, &courseID, &task.Title, &desc, &due, &task.Completed,
		&status, &source, &docID, &dedupeKey, &confidence, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	task.CourseID = courseID.String
	task.Description = desc.String
	if due.Valid {
		d := due.Time.UTC()
		task.DueDate = &d
	}
	task.Status = types.Status(status)
	task.Source = types.Source(source)
	task.SourceDocumentID = docID.String
	task.DedupeKey = dedupeKey.String
	task.Confidence = confidence.Float64
	return &task, nil
}

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

const taskColumns = `id, owner_id, course_id, title, description, due_date, completed,
	status, source, source_document_id, dedupe_key, confidence, created_at, updated_at`

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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OwnerID, nullString(task.CourseID), task.Title, nullString(task.Description),
		nullMillis(task.DueDate), task.Completed,
		string(task.Status), string(task.Source), nullString(task.SourceDocumentID),
		nullString(task.DedupeKey), nullFloat(task.Confidence),
		toMillis(task.CreatedAt), toMillis(task.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task %s exists", storage.ErrConflict, task.ID)
		}
		return fmt.Errorf("sqlite: insert task: %w", err)
	}
	return nil
}

// GetTask returns the owner's task.
func (s *Store) GetTask(ctx context.Context, ownerID, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter ordered by due date, undated last.
func (s *Store) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
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
	if filter.Completed != nil {
		where = append(where, "completed = ?")
		args = append(args, *filter.Completed)
	}
	if !filter.DueFrom.IsZero() || !filter.DueTo.IsZero() {
		var window []string
		if !filter.DueFrom.IsZero() {
			window = append(window, "due_date >= ?")
			args = append(args, toMillis(filter.DueFrom))
		}
		if !filter.DueTo.IsZero() {
			window = append(window, "due_date < ?")
			args = append(args, toMillis(filter.DueTo))
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
	query += " ORDER BY due_date IS NULL, due_date ASC, id ASC LIMIT ?"
	args = append(args, storage.NormalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// UpdateTaskStatus applies a status transition inside a transaction.
func (s *Store) UpdateTaskStatus(ctx context.Context, ownerID, id string, next types.Status) (*types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read task status: %w", err)
	}
	if err := storage.CheckTransition(types.Status(current), next); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(next), toMillis(time.Now()), id); err != nil {
		return nil, fmt.Errorf("sqlite: update task status: %w", err)
	}

	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: reload task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return task, nil
}

// SetTaskCompleted toggles the completion flag.
func (s *Store) SetTaskCompleted(ctx context.Context, ownerID, id string, completed bool) (*types.Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		completed, toMillis(time.Now()), id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: set task completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return s.GetTask(ctx, ownerID, id)
}

func scanTask(row scanner) (*types.Task, error) {
	var (
		task                            types.Task
		courseID, desc, docID, dedupeKey sql.NullString
		due                             sql.NullInt64
		confidence                      sql.NullFloat64
		status, source                  string
		created, updated                int64
	)
	if err := row.Scan(&task.ID, &task.OwnerID, &courseID, &task.Title, &desc, &due, &task.Completed,
		&status, &source, &docID, &dedupeKey, &confidence, &created, &updated); err != nil {
		return nil, err
	}
	task.CourseID = courseID.String
	task.Description = desc.String
	if due.Valid {
		d := fromMillis(due.Int64)
		task.DueDate = &d
	}
	task.Status = types.Status(status)
	task.Source = types.Source(source)
	task.SourceDocumentID = docID.String
	task.DedupeKey = dedupeKey.String
	task.Confidence = confidence.Float64
	task.CreatedAt = fromMillis(created)
	task.UpdatedAt = fromMillis(updated)
	return &task, nil
}

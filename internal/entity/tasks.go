package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/db"
)

const taskColumns = `id, title, status, priority, urgency, due_date, project_ref, context_tags,
	created_at, last_touched, completed_at, version`

// TaskFilter controls which tasks QueryTasks returns. Tags match when any
// task tag matches any filter pattern (glob syntax, e.g. "errands:*").
type TaskFilter struct {
	Statuses      []TaskStatus
	Tags          []string
	ProjectRef    string
	DueAfter      time.Time
	DueBefore     time.Time
	TouchedBefore time.Time
	OrderBy       string
	Ascending     bool
	Limit         int
}

var taskOrderKeys = map[string]string{
	"last_touched": "last_touched",
	"due_date":     "COALESCE(due_date, 9223372036854775807)",
	"priority":     "priority",
	"urgency":      "urgency",
	"created_at":   "created_at",
	"title":        "title COLLATE NOCASE",
}

// TaskPatch holds optional field updates. Status is not patchable; use the
// status operations.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	Urgency     *float64   `json:"urgency,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	ClearDue    bool       `json:"clear_due,omitempty"`
	ContextTags *[]string  `json:"context_tags,omitempty"`
}

// CreateTask inserts a new task. If t.ID is empty a UUID is generated.
func (s *Store) CreateTask(ctx context.Context, t Task) (*Task, error) {
	var created *Task
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = s.insertTask(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) insertTask(ctx context.Context, q db.Querier, t Task) (*Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return nil, apperr.NewInvalidInput("task title is required")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if _, ok := taskTransitions[t.Status]; !ok {
		return nil, apperr.NewInvalidInput(fmt.Sprintf("invalid task status %q", t.Status))
	}
	now := s.now()
	t.CreatedAt, t.LastTouched = now, now
	t.Version = 1
	if t.ContextTags == nil {
		t.ContextTags = []string{}
	}

	if t.ProjectRef != "" {
		ok, err := exists(ctx, q, "projects", t.ProjectRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NewEntityNotFound(string(KindProject), t.ProjectRef)
		}
		if _, err := q.ExecContext(ctx, `UPDATE projects SET last_touched = ?, version = version + 1 WHERE id = ?`,
			db.Millis(now), t.ProjectRef); err != nil {
			return nil, storageErr("touching project", err)
		}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, urgency, due_date, project_ref, context_tags,
			created_at, last_touched, completed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		t.ID, t.Title, string(t.Status), t.Priority, t.Urgency, db.NullMillis(t.DueDate),
		db.NullString(t.ProjectRef), db.EncodeStrings(t.ContextTags),
		db.Millis(now), db.Millis(now), db.NullMillis(t.CompletedAt),
	)
	if err != nil {
		return nil, storageErr("inserting task", err)
	}
	return &t, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	return getTask(ctx, s.db, id)
}

func getTask(ctx context.Context, q db.Querier, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewEntityNotFound(string(KindTask), id)
	}
	if err != nil {
		return nil, storageErr("getting task", err)
	}
	return t, nil
}

// QueryTasks returns tasks matching the filter, ordered by filter.OrderBy
// (default last_touched descending).
func (s *Store) QueryTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var (
		clauses []string
		args    []any
	)

	if len(filter.Statuses) > 0 {
		clauses = append(clauses, inClause("status", len(filter.Statuses)))
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.ProjectRef != "" {
		clauses = append(clauses, "project_ref = ?")
		args = append(args, filter.ProjectRef)
	}
	if !filter.DueAfter.IsZero() {
		clauses = append(clauses, "due_date >= ?")
		args = append(args, db.Millis(filter.DueAfter))
	}
	if !filter.DueBefore.IsZero() {
		clauses = append(clauses, "due_date <= ?")
		args = append(args, db.Millis(filter.DueBefore))
	}
	if !filter.TouchedBefore.IsZero() {
		clauses = append(clauses, "last_touched <= ?")
		args = append(args, db.Millis(filter.TouchedBefore))
	}

	order, err := orderClause(taskOrderKeys, filter.OrderBy, filter.Ascending, "last_touched")
	if err != nil {
		return nil, err
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += order
	// Tag filtering happens in Go, so the limit can only be pushed down
	// when no tags were requested.
	if filter.Limit > 0 && len(filter.Tags) == 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying tasks", err)
	}
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storageErr("scanning task", err)
		}
		if len(filter.Tags) > 0 && !MatchTags(filter.Tags, t.ContextTags) {
			continue
		}
		result = append(result, *t)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating tasks", err)
	}
	return result, nil
}

// MatchTags reports whether any tag matches any pattern. Patterns use glob
// syntax and compare case-insensitively.
func MatchTags(patterns, tags []string) bool {
	for _, p := range patterns {
		p = strings.ToLower(p)
		for _, tag := range tags {
			if ok, _ := doublestar.Match(p, strings.ToLower(tag)); ok {
				return true
			}
		}
	}
	return false
}

// UpdateTask applies a patch and touches the task.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	var updated *Task
	err := retryCAS(ctx, func() error {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return apperr.NewInvalidInput("task title is required")
			}
			t.Title = title
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		if patch.Urgency != nil {
			t.Urgency = *patch.Urgency
		}
		if patch.ClearDue {
			t.DueDate = nil
		} else if patch.DueDate != nil {
			due := patch.DueDate.UTC()
			t.DueDate = &due
		}
		if patch.ContextTags != nil {
			t.ContextTags = *patch.ContextTags
		}
		now := s.now()
		err = casUpdate(ctx, s.db, KindTask, "tasks", id, t.Version,
			"title = ?, priority = ?, urgency = ?, due_date = ?, context_tags = ?, last_touched = ?",
			t.Title, t.Priority, t.Urgency, db.NullMillis(t.DueDate), db.EncodeStrings(t.ContextTags), db.Millis(now))
		if err != nil {
			return err
		}
		t.LastTouched = now
		t.Version++
		updated = t
		return nil
	})
	return updated, err
}

// SetTaskStatus moves a task through its lifecycle. Re-entering the current
// status is a no-op reported by changed=false.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status TaskStatus) (task *Task, changed bool, err error) {
	if _, ok := taskTransitions[status]; !ok {
		return nil, false, apperr.NewInvalidInput(fmt.Sprintf("invalid task status %q", status))
	}
	err = retryCAS(ctx, func() error {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == status {
			task, changed = t, false
			return nil
		}
		if !allowed(taskTransitions, t.Status, status) {
			return apperr.NewInvalidInput(fmt.Sprintf("task %s cannot move from %s to %s", id, t.Status, status))
		}
		now := s.now()
		var completedAt *time.Time
		if status == TaskDone {
			completedAt = &now
		}
		err = casUpdate(ctx, s.db, KindTask, "tasks", id, t.Version,
			"status = ?, completed_at = ?, last_touched = ?",
			string(status), db.NullMillis(completedAt), db.Millis(now))
		if err != nil {
			return err
		}
		t.Status, t.CompletedAt, t.LastTouched = status, completedAt, now
		t.Version++
		task, changed = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return task, changed, nil
}

// MarkTaskDone completes a task. Calling it on a done task is a no-op.
func (s *Store) MarkTaskDone(ctx context.Context, id string) (*Task, bool, error) {
	return s.SetTaskStatus(ctx, id, TaskDone)
}

// TouchTask records activity on a task without changing anything else.
func (s *Store) TouchTask(ctx context.Context, id string) error {
	return retryCAS(ctx, func() error {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return err
		}
		return casUpdate(ctx, s.db, KindTask, "tasks", id, t.Version, "last_touched = ?", db.Millis(s.now()))
	})
}

// AssignTaskToProject links a task to a project and touches both.
func (s *Store) AssignTaskToProject(ctx context.Context, taskID, projectID string) (*Task, error) {
	var updated *Task
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		ok, err := exists(ctx, tx, "projects", projectID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewEntityNotFound(string(KindProject), projectID)
		}
		now := s.now()
		if err := casUpdate(ctx, tx, KindTask, "tasks", taskID, t.Version,
			"project_ref = ?, last_touched = ?", projectID, db.Millis(now)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET last_touched = ?, version = version + 1 WHERE id = ?`,
			db.Millis(now), projectID); err != nil {
			return storageErr("touching project", err)
		}
		t.ProjectRef, t.LastTouched = projectID, now
		t.Version++
		updated = t
		return nil
	})
	return updated, err
}

// FindOpenTasksByReference returns open or blocked tasks whose normalized
// title contains, or is contained by, the normalized reference text.
func (s *Store) FindOpenTasksByReference(ctx context.Context, text string) ([]Task, error) {
	ref := Normalize(text)
	if ref == "" {
		return nil, nil
	}
	tasks, err := s.QueryTasks(ctx, TaskFilter{Statuses: []TaskStatus{TaskPending, TaskInProgress, TaskBlocked}})
	if err != nil {
		return nil, err
	}
	var exact, partial []Task
	for _, t := range tasks {
		title := Normalize(t.Title)
		switch {
		case title == ref:
			exact = append(exact, t)
		case title != "" && (strings.Contains(ref, title) || strings.Contains(title, ref)):
			partial = append(partial, t)
		}
	}
	if len(exact) > 0 {
		return exact, nil
	}
	return partial, nil
}

func deleteTask(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return storageErr("deleting task", err)
	}
	return nil
}

func scanTask(row scanner) (*Task, error) {
	var (
		t           Task
		status      string
		due         sql.NullInt64
		projectRef  sql.NullString
		tags        string
		created     int64
		touched     int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Title, &status, &t.Priority, &t.Urgency, &due, &projectRef, &tags,
		&created, &touched, &completedAt, &t.Version); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	t.DueDate = db.TimePtr(due)
	t.ProjectRef = projectRef.String
	t.ContextTags = db.DecodeStrings(tags)
	if t.ContextTags == nil {
		t.ContextTags = []string{}
	}
	t.CreatedAt = db.FromMillis(created)
	t.LastTouched = db.FromMillis(touched)
	t.CompletedAt = db.TimePtr(completedAt)
	return &t, nil
}

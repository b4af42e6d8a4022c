package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/db"
)

const projectColumns = `id, name, status, current_phase, next_step, blockers, target_date,
	created_at, last_touched, version`

// ProjectFilter controls which projects QueryProjects returns.
type ProjectFilter struct {
	Statuses  []ProjectStatus
	OrderBy   string
	Ascending bool
	Limit     int
}

var projectOrderKeys = map[string]string{
	"last_touched": "last_touched",
	"created_at":   "created_at",
	"name":         "name COLLATE NOCASE",
	"target_date":  "COALESCE(target_date, 9223372036854775807)",
}

// ProjectPatch holds optional field updates.
type ProjectPatch struct {
	Name         *string    `json:"name,omitempty"`
	CurrentPhase *string    `json:"current_phase,omitempty"`
	NextStep     *string    `json:"next_step,omitempty"`
	Blockers     *[]string  `json:"blockers,omitempty"`
	TargetDate   *time.Time `json:"target_date,omitempty"`
}

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p Project) (*Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, apperr.NewInvalidInput("project name is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = ProjectActive
	}
	if _, ok := projectTransitions[p.Status]; !ok {
		return nil, apperr.NewInvalidInput(fmt.Sprintf("invalid project status %q", p.Status))
	}
	if p.Blockers == nil {
		p.Blockers = []string{}
	}
	p.TaskRefs = []string{}
	now := s.now()
	p.CreatedAt, p.LastTouched, p.Version = now, now, 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, status, current_phase, next_step, blockers, target_date,
			created_at, last_touched, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		p.ID, p.Name, string(p.Status), p.CurrentPhase, p.NextStep, db.EncodeStrings(p.Blockers),
		db.NullMillis(p.TargetDate), db.Millis(now), db.Millis(now),
	)
	if err != nil {
		return nil, storageErr("inserting project", err)
	}
	return &p, nil
}

// GetProject retrieves a project and its task refs.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewEntityNotFound(string(KindProject), id)
	}
	if err != nil {
		return nil, storageErr("getting project", err)
	}
	if err := s.loadTaskRefs(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// FindProjectByName returns the live project whose name matches, preferring
// an exact case-insensitive match over a normalized containment match.
// It returns nil, nil when nothing matches.
func (s *Store) FindProjectByName(ctx context.Context, name string) (*Project, error) {
	want := Normalize(name)
	if want == "" {
		return nil, nil
	}
	projects, err := s.QueryProjects(ctx, ProjectFilter{Statuses: []ProjectStatus{ProjectActive, ProjectPaused}})
	if err != nil {
		return nil, err
	}
	var partial *Project
	for i := range projects {
		got := Normalize(projects[i].Name)
		if got == want {
			return &projects[i], nil
		}
		if partial == nil && got != "" && (strings.Contains(got, want) || strings.Contains(want, got)) {
			partial = &projects[i]
		}
	}
	return partial, nil
}

// QueryProjects returns projects matching the filter.
func (s *Store) QueryProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
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
	order, err := orderClause(projectOrderKeys, filter.OrderBy, filter.Ascending, "last_touched")
	if err != nil {
		return nil, err
	}
	query := "SELECT " + projectColumns + " FROM projects"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += order
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying projects", err)
	}
	var result []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, storageErr("scanning project", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storageErr("iterating projects", err)
	}
	rows.Close()

	for i := range result {
		if err := s.loadTaskRefs(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UpdateProject applies a patch and touches the project.
func (s *Store) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (*Project, error) {
	var updated *Project
	err := retryCAS(ctx, func() error {
		p, err := s.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return apperr.NewInvalidInput("project name is required")
			}
			p.Name = name
		}
		if patch.CurrentPhase != nil {
			p.CurrentPhase = *patch.CurrentPhase
		}
		if patch.NextStep != nil {
			p.NextStep = *patch.NextStep
		}
		if patch.Blockers != nil {
			p.Blockers = *patch.Blockers
		}
		if patch.TargetDate != nil {
			td := patch.TargetDate.UTC()
			p.TargetDate = &td
		}
		now := s.now()
		err = casUpdate(ctx, s.db, KindProject, "projects", id, p.Version,
			"name = ?, current_phase = ?, next_step = ?, blockers = ?, target_date = ?, last_touched = ?",
			p.Name, p.CurrentPhase, p.NextStep, db.EncodeStrings(p.Blockers), db.NullMillis(p.TargetDate), db.Millis(now))
		if err != nil {
			return err
		}
		p.LastTouched = now
		p.Version++
		updated = p
		return nil
	})
	return updated, err
}

// SetProjectStatus moves a project through its lifecycle. Re-entering the
// current status is a no-op.
func (s *Store) SetProjectStatus(ctx context.Context, id string, status ProjectStatus) (*Project, error) {
	if _, ok := projectTransitions[status]; !ok {
		return nil, apperr.NewInvalidInput(fmt.Sprintf("invalid project status %q", status))
	}
	var updated *Project
	err := retryCAS(ctx, func() error {
		p, err := s.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == status {
			updated = p
			return nil
		}
		if !allowed(projectTransitions, p.Status, status) {
			return apperr.NewInvalidInput(fmt.Sprintf("project %s cannot move from %s to %s", id, p.Status, status))
		}
		now := s.now()
		if err := casUpdate(ctx, s.db, KindProject, "projects", id, p.Version,
			"status = ?, last_touched = ?", string(status), db.Millis(now)); err != nil {
			return err
		}
		p.Status, p.LastTouched = status, now
		p.Version++
		updated = p
		return nil
	})
	return updated, err
}

// TouchProject records activity on a project.
func (s *Store) TouchProject(ctx context.Context, id string) error {
	return retryCAS(ctx, func() error {
		var version int
		err := s.db.QueryRowContext(ctx, "SELECT version FROM projects WHERE id = ?", id).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NewEntityNotFound(string(KindProject), id)
		}
		if err != nil {
			return storageErr("getting project", err)
		}
		return casUpdate(ctx, s.db, KindProject, "projects", id, version, "last_touched = ?", db.Millis(s.now()))
	})
}

func (s *Store) loadTaskRefs(ctx context.Context, p *Project) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM tasks WHERE project_ref = ? ORDER BY created_at", p.ID)
	if err != nil {
		return storageErr("loading project tasks", err)
	}
	defer rows.Close()
	p.TaskRefs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return storageErr("scanning project task", err)
		}
		p.TaskRefs = append(p.TaskRefs, id)
	}
	if err := rows.Err(); err != nil {
		return storageErr("iterating project tasks", err)
	}
	return nil
}

func scanProject(row scanner) (*Project, error) {
	var (
		p        Project
		status   string
		blockers string
		target   sql.NullInt64
		created  int64
		touched  int64
	)
	if err := row.Scan(&p.ID, &p.Name, &status, &p.CurrentPhase, &p.NextStep, &blockers, &target,
		&created, &touched, &p.Version); err != nil {
		return nil, err
	}
	p.Status = ProjectStatus(status)
	p.Blockers = db.DecodeStrings(blockers)
	if p.Blockers == nil {
		p.Blockers = []string{}
	}
	p.TargetDate = db.TimePtr(target)
	p.CreatedAt = db.FromMillis(created)
	p.LastTouched = db.FromMillis(touched)
	return &p, nil
}

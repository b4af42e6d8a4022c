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

const commitmentColumns = `id, what, to_whom, when_made, due_by, status, linked_task_ref, last_touched, version`

// CommitmentFilter controls which commitments QueryCommitments returns.
type CommitmentFilter struct {
	Statuses  []CommitmentStatus
	ToWhom    string
	DueBefore time.Time
	OrderBy   string
	Ascending bool
	Limit     int
}

var commitmentOrderKeys = map[string]string{
	"last_touched": "last_touched",
	"when_made":    "when_made",
	"due_by":       "COALESCE(due_by, 9223372036854775807)",
}

// CreateCommitment inserts a new commitment.
func (s *Store) CreateCommitment(ctx context.Context, c Commitment) (*Commitment, error) {
	var created *Commitment
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = s.insertCommitment(ctx, tx, c)
		return err
	})
	return created, err
}

func (s *Store) insertCommitment(ctx context.Context, q db.Querier, c Commitment) (*Commitment, error) {
	c.What = strings.TrimSpace(c.What)
	if c.What == "" {
		return nil, apperr.NewInvalidInput("commitment description is required")
	}
	if c.LinkedTaskRef != "" {
		ok, err := exists(ctx, q, "tasks", c.LinkedTaskRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NewEntityNotFound(string(KindTask), c.LinkedTaskRef)
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = CommitmentPending
	}
	now := s.now()
	if c.WhenMade.IsZero() {
		c.WhenMade = now
	}
	c.LastTouched, c.Version = now, 1

	_, err := q.ExecContext(ctx, `
		INSERT INTO commitments (id, what, to_whom, when_made, due_by, status, linked_task_ref, last_touched, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		c.ID, c.What, c.ToWhom, db.Millis(c.WhenMade), db.NullMillis(c.DueBy), string(c.Status),
		db.NullString(c.LinkedTaskRef), db.Millis(now),
	)
	if err != nil {
		return nil, storageErr("inserting commitment", err)
	}
	return &c, nil
}

// GetCommitment retrieves a commitment by ID.
func (s *Store) GetCommitment(ctx context.Context, id string) (*Commitment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+commitmentColumns+" FROM commitments WHERE id = ?", id)
	c, err := scanCommitment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewEntityNotFound(string(KindCommitment), id)
	}
	if err != nil {
		return nil, storageErr("getting commitment", err)
	}
	return c, nil
}

// QueryCommitments returns commitments matching the filter.
func (s *Store) QueryCommitments(ctx context.Context, filter CommitmentFilter) ([]Commitment, error) {
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
	if filter.ToWhom != "" {
		clauses = append(clauses, "to_whom = ? COLLATE NOCASE")
		args = append(args, filter.ToWhom)
	}
	if !filter.DueBefore.IsZero() {
		clauses = append(clauses, "due_by <= ?")
		args = append(args, db.Millis(filter.DueBefore))
	}
	order, err := orderClause(commitmentOrderKeys, filter.OrderBy, filter.Ascending, "last_touched")
	if err != nil {
		return nil, err
	}
	query := "SELECT " + commitmentColumns + " FROM commitments"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += order
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying commitments", err)
	}
	defer rows.Close()
	var result []Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, storageErr("scanning commitment", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating commitments", err)
	}
	return result, nil
}

// SetCommitmentStatus moves a commitment through its lifecycle. A
// renegotiation may carry a new due date.
func (s *Store) SetCommitmentStatus(ctx context.Context, id string, status CommitmentStatus, newDue *time.Time) (*Commitment, error) {
	switch status {
	case CommitmentPending, CommitmentFulfilled, CommitmentBroken, CommitmentRenegotiated:
	default:
		return nil, apperr.NewInvalidInput(fmt.Sprintf("invalid commitment status %q", status))
	}
	var updated *Commitment
	err := retryCAS(ctx, func() error {
		c, err := s.GetCommitment(ctx, id)
		if err != nil {
			return err
		}
		if c.Status == status && newDue == nil {
			updated = c
			return nil
		}
		if c.Status != status && !allowed(commitmentTransitions, c.Status, status) {
			return apperr.NewInvalidInput(fmt.Sprintf("commitment %s cannot move from %s to %s", id, c.Status, status))
		}
		due := c.DueBy
		if newDue != nil {
			d := newDue.UTC()
			due = &d
		}
		now := s.now()
		if err := casUpdate(ctx, s.db, KindCommitment, "commitments", id, c.Version,
			"status = ?, due_by = ?, last_touched = ?", string(status), db.NullMillis(due), db.Millis(now)); err != nil {
			return err
		}
		c.Status, c.DueBy, c.LastTouched = status, due, now
		c.Version++
		updated = c
		return nil
	})
	return updated, err
}

func deleteCommitment(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM commitments WHERE id = ?", id); err != nil {
		return storageErr("deleting commitment", err)
	}
	return nil
}

func scanCommitment(row scanner) (*Commitment, error) {
	var (
		c       Commitment
		made    int64
		due     sql.NullInt64
		status  string
		linked  sql.NullString
		touched int64
	)
	if err := row.Scan(&c.ID, &c.What, &c.ToWhom, &made, &due, &status, &linked, &touched, &c.Version); err != nil {
		return nil, err
	}
	c.WhenMade = db.FromMillis(made)
	c.DueBy = db.TimePtr(due)
	c.Status = CommitmentStatus(status)
	c.LinkedTaskRef = linked.String
	c.LastTouched = db.FromMillis(touched)
	return &c, nil
}

package entity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/db"
)

// casAttempts bounds read-modify-write retries after a version conflict.
const casAttempts = 3

// Store provides create/read/update/query operations for every entity kind.
// Each mutation is atomic for its entity; cross-entity operations run in a
// single transaction. The store never retries I/O faults: they surface as
// apperr.StorageUnavailable.
type Store struct {
	db    *db.DB
	clock clock.Clock
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB, clk clock.Clock) *Store {
	return &Store{db: database, clock: clock.OrSystem(clk)}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

func storageErr(op string, err error) error {
	return apperr.FromStorage(op, err)
}

// casUpdate applies set to the row only if its version still matches,
// bumping the version. It distinguishes a missing row from a lost race.
func casUpdate(ctx context.Context, q db.Querier, kind Kind, table, id string, version int, set string, args ...any) error {
	query := fmt.Sprintf("UPDATE %s SET %s, version = version + 1 WHERE id = ? AND version = ?", table, set)
	args = append(args, id, version)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr("updating "+string(kind), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("updating "+string(kind), err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", table), id).Scan(&exists)
	if err != nil {
		return storageErr("checking "+string(kind), err)
	}
	if exists == 0 {
		return apperr.NewEntityNotFound(string(kind), id)
	}
	return apperr.NewConflict(string(kind), id)
}

// retryCAS reruns a read-modify-write until it stops losing version races.
func retryCAS(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < casAttempts; attempt++ {
		if err = fn(); !apperr.Is(err, apperr.ConflictDetected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func exists(ctx context.Context, q db.Querier, table, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", table), id).Scan(&n); err != nil {
		return false, storageErr("checking "+table, err)
	}
	return n > 0, nil
}

// orderClause validates a caller-specified ordering against the allowed
// columns. The default is last_touched descending.
func orderClause(allowedKeys map[string]string, key string, ascending bool, fallback string) (string, error) {
	if key == "" {
		key = fallback
	}
	col, ok := allowedKeys[key]
	if !ok {
		keys := make([]string, 0, len(allowedKeys))
		for k := range allowedKeys {
			keys = append(keys, k)
		}
		return "", apperr.NewInvalidInput(fmt.Sprintf("unsupported order key %q (allowed: %s)", key, strings.Join(keys, ", ")))
	}
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir), nil
}

func inClause(column string, n int) string {
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

// IsActive reports whether ref points at a task, project or commitment that
// is still alive. Missing entities are not active.
func (s *Store) IsActive(ctx context.Context, ref Ref) (bool, error) {
	var query string
	switch ref.Kind {
	case KindTask:
		query = `SELECT COUNT(*) FROM tasks WHERE id = ? AND status IN ('pending','in_progress','blocked')`
	case KindProject:
		query = `SELECT COUNT(*) FROM projects WHERE id = ? AND status IN ('active','paused')`
	case KindCommitment:
		query = `SELECT COUNT(*) FROM commitments WHERE id = ? AND status IN ('pending','renegotiated')`
	default:
		return false, nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, ref.ID).Scan(&n); err != nil {
		return false, storageErr("checking activity", err)
	}
	return n > 0, nil
}

package activecontext

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/db"
)

// checkpoint upserts the session row.
func checkpoint(ctx context.Context, database *db.DB, ac ActiveContext, now time.Time) error {
	state, err := json.Marshal(ac)
	if err != nil {
		return fmt.Errorf("encoding active context: %w", err)
	}
	_, err = database.ExecContext(ctx, `
		INSERT INTO active_context (session_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		ac.SessionID, string(state), db.Millis(now))
	if err != nil {
		return apperr.FromStorage("saving active context", err)
	}
	return nil
}

// latest returns the most recently saved context, or nil when none exists.
func latest(ctx context.Context, database *db.DB) (*ActiveContext, error) {
	var state string
	err := database.QueryRowContext(ctx,
		"SELECT state FROM active_context ORDER BY updated_at DESC LIMIT 1").Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromStorage("loading active context", err)
	}
	var ac ActiveContext
	if err := json.Unmarshal([]byte(state), &ac); err != nil {
		return nil, fmt.Errorf("decoding active context: %w", err)
	}
	return &ac, nil
}

// purgeBefore drops saved sessions last updated before cutoff.
func purgeBefore(ctx context.Context, database *db.DB, cutoff time.Time) (int, error) {
	res, err := database.ExecContext(ctx, "DELETE FROM active_context WHERE updated_at < ?", db.Millis(cutoff))
	if err != nil {
		return 0, apperr.FromStorage("purging active context", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.FromStorage("purging active context", err)
	}
	return int(n), nil
}

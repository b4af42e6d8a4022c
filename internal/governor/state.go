package governor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/db"
)

// Keys in the governor_state table.
const (
	keyIntensity = "intensity"
	keyQuiet     = "quiet"
	keyCounter   = "counter"
	keySurfaced  = "surfaced"
	keySnoozes   = "snoozes"
	keyPaused    = "paused"
	keyPending   = "pending"
)

type counterState struct {
	Day        string    `json:"day"`
	Sent       int       `json:"sent"`
	LastPrompt time.Time `json:"last_prompt"`
}

// persisted is the durable part of the governor's state.
type persisted struct {
	Intensity config.IntensityLevel
	Quiet     bool
	Counter   counterState
	Surfaced  map[string]time.Time
	Snoozes   map[string]time.Time
	Paused    map[string]bool
	Pending   []Item

	// seq orders snapshots taken under the governor's lock; it is not stored.
	seq uint64
}

func (p persisted) values() map[string]any {
	return map[string]any{
		keyIntensity: p.Intensity,
		keyQuiet:     p.Quiet,
		keyCounter:   p.Counter,
		keySurfaced:  p.Surfaced,
		keySnoozes:   p.Snoozes,
		keyPaused:    p.Paused,
		keyPending:   p.Pending,
	}
}

func saveState(ctx context.Context, database *db.DB, p persisted, now time.Time) error {
	return database.WithTx(ctx, func(tx *sql.Tx) error {
		for key, v := range p.values() {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encoding governor %s: %w", key, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO governor_state (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, string(raw), db.Millis(now))
			if err != nil {
				return apperr.FromStorage("saving governor state", err)
			}
		}
		return nil
	})
}

// loadState reads whatever keys exist; missing keys leave p untouched.
func loadState(ctx context.Context, database *db.DB, p *persisted) error {
	rows, err := database.QueryContext(ctx, "SELECT key, value FROM governor_state")
	if err != nil {
		return apperr.FromStorage("loading governor state", err)
	}
	defer rows.Close()

	targets := map[string]any{
		keyIntensity: &p.Intensity,
		keyQuiet:     &p.Quiet,
		keyCounter:   &p.Counter,
		keySurfaced:  &p.Surfaced,
		keySnoozes:   &p.Snoozes,
		keyPaused:    &p.Paused,
		keyPending:   &p.Pending,
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return apperr.FromStorage("loading governor state", err)
		}
		target, ok := targets[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(value), target); err != nil {
			return fmt.Errorf("decoding governor %s: %w", key, err)
		}
	}
	if err := rows.Err(); err != nil {
		return apperr.FromStorage("loading governor state", err)
	}
	return nil
}

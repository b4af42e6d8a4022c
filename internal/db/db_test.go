package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenMemory(t *testing.T) {
	d, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	defer d.Close()

	// Verify tables exist by counting rows in each one.
	tables := []string{
		"captures", "projects", "tasks", "reminders", "commitments",
		"measurements", "episodes", "facts", "active_context",
		"governor_state", "job_runs",
	}

	for _, table := range tables {
		var count int
		err := d.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}

	version, err := d.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("user_version = %d, want %d", version, len(migrations))
	}
}

func TestMigrateIdempotent(t *testing.T) {
	d, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	defer d.Close()

	// Running migrate again should not fail.
	if err := d.migrate(); err != nil {
		t.Fatalf("second migrate() error: %v", err)
	}
}

func TestOpenFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cadence.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := d.Exec(`INSERT INTO governor_state (key, value, updated_at) VALUES ('quiet', 'true', 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	var value string
	if err := d.QueryRow(`SELECT value FROM governor_state WHERE key = 'quiet'`).Scan(&value); err != nil {
		t.Fatalf("select: %v", err)
	}
	if value != "true" {
		t.Errorf("value = %q, want true", value)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	d, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	defer d.Close()

	boom := errors.New("boom")
	err = d.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO governor_state (key, value, updated_at) VALUES ('k', 'v', 1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	var count int
	if err := d.QueryRow(`SELECT COUNT(*) FROM governor_state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback, found %d rows", count)
	}
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	if got := FromMillis(Millis(now)); !got.Equal(now) {
		t.Errorf("FromMillis(Millis(t)) = %v, want %v", got, now)
	}
	if TimePtr(NullMillis(nil)) != nil {
		t.Error("nil time should stay nil")
	}
	if got := DecodeStrings(EncodeStrings([]string{"a", "b"})); len(got) != 2 || got[1] != "b" {
		t.Errorf("DecodeStrings = %v", got)
	}
	if DecodeStrings("not json") != nil {
		t.Error("malformed JSON should decode as empty")
	}
}

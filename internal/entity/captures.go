package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/ids"
)

const captureColumns = `id, raw_text, timestamp, context_hint, processed, converted_kind, converted_id,
	pending_confirmation, triage_reason, archived_at, version`

// Triage reasons recorded on unresolved captures.
const (
	TriageLowConfidence    = "low_confidence"
	TriageExtractionFailed = "extraction_failed"
	TriageConversionFailed = "conversion_failed"
	TriageRejected         = "rejected"
	TriageNoIntent         = "no_intent"
)

// CreateCapture records a raw utterance. Inserting an ID that already
// exists is a no-op so a spilled capture can be flushed more than once.
func (s *Store) CreateCapture(ctx context.Context, c Capture) (*Capture, error) {
	if strings.TrimSpace(c.RawText) == "" {
		return nil, apperr.NewInvalidInput("capture text is required")
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now()
	}
	c.Timestamp = c.Timestamp.UTC()
	if c.ID == "" {
		c.ID = ids.New(c.Timestamp)
	}
	c.Processed, c.ConvertedTo, c.PendingConfirmation, c.ArchivedAt = false, nil, false, nil
	c.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (id, raw_text, timestamp, context_hint, processed, pending_confirmation,
			triage_reason, version)
		VALUES (?, ?, ?, ?, 0, 0, ?, 1)
		ON CONFLICT(id) DO NOTHING`,
		c.ID, c.RawText, db.Millis(c.Timestamp), c.ContextHint, c.TriageReason,
	)
	if err != nil {
		return nil, storageErr("inserting capture", err)
	}
	return &c, nil
}

// GetCapture retrieves a capture by ID.
func (s *Store) GetCapture(ctx context.Context, id string) (*Capture, error) {
	return getCapture(ctx, s.db, id)
}

func getCapture(ctx context.Context, q db.Querier, id string) (*Capture, error) {
	row := q.QueryRowContext(ctx, "SELECT "+captureColumns+" FROM captures WHERE id = ?", id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewEntityNotFound(string(KindCapture), id)
	}
	if err != nil {
		return nil, storageErr("getting capture", err)
	}
	return c, nil
}

// ConvertCaptureToTask creates a task from a capture and marks the capture
// converted in one transaction. pending leaves the conversion awaiting a
// yes/no confirmation.
func (s *Store) ConvertCaptureToTask(ctx context.Context, captureID string, t Task, pending bool) (*Task, error) {
	var created *Task
	err := s.convert(ctx, captureID, pending, func(q db.Querier) (Ref, error) {
		var err error
		created, err = s.insertTask(ctx, q, t)
		if err != nil {
			return Ref{}, err
		}
		return created.Ref(), nil
	})
	return created, err
}

// ConvertCaptureToReminder creates a reminder from a capture atomically.
func (s *Store) ConvertCaptureToReminder(ctx context.Context, captureID string, r Reminder, pending bool) (*Reminder, error) {
	var created *Reminder
	err := s.convert(ctx, captureID, pending, func(q db.Querier) (Ref, error) {
		var err error
		created, err = s.insertReminder(ctx, q, r)
		if err != nil {
			return Ref{}, err
		}
		return created.Ref(), nil
	})
	return created, err
}

// ConvertCaptureToCommitment creates a commitment from a capture atomically.
func (s *Store) ConvertCaptureToCommitment(ctx context.Context, captureID string, c Commitment, pending bool) (*Commitment, error) {
	var created *Commitment
	err := s.convert(ctx, captureID, pending, func(q db.Querier) (Ref, error) {
		var err error
		created, err = s.insertCommitment(ctx, q, c)
		if err != nil {
			return Ref{}, err
		}
		return created.Ref(), nil
	})
	return created, err
}

func (s *Store) convert(ctx context.Context, captureID string, pending bool, create func(q db.Querier) (Ref, error)) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := getCapture(ctx, tx, captureID)
		if err != nil {
			return err
		}
		if c.Processed {
			return apperr.NewConflict(string(KindCapture), captureID)
		}
		ref, err := create(tx)
		if err != nil {
			return err
		}
		return casUpdate(ctx, tx, KindCapture, "captures", captureID, c.Version,
			"processed = 1, converted_kind = ?, converted_id = ?, pending_confirmation = ?, triage_reason = ''",
			string(ref.Kind), ref.ID, db.Flag(pending))
	})
}

// ConfirmCapture finalizes a pending conversion. Confirming twice is a no-op.
func (s *Store) ConfirmCapture(ctx context.Context, captureID string) (*Capture, error) {
	var updated *Capture
	err := retryCAS(ctx, func() error {
		c, err := s.GetCapture(ctx, captureID)
		if err != nil {
			return err
		}
		if !c.PendingConfirmation {
			if c.ConvertedTo == nil {
				return apperr.NewInvalidInput(fmt.Sprintf("capture %s has no conversion to confirm", captureID))
			}
			updated = c
			return nil
		}
		if err := casUpdate(ctx, s.db, KindCapture, "captures", captureID, c.Version, "pending_confirmation = 0"); err != nil {
			return err
		}
		c.PendingConfirmation = false
		c.Version++
		updated = c
		return nil
	})
	return updated, err
}

// RejectCapture rolls back a pending conversion: the created entity is
// deleted and the capture returns to the triage queue unprocessed, in one
// transaction.
func (s *Store) RejectCapture(ctx context.Context, captureID string) (*Capture, error) {
	var updated *Capture
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := getCapture(ctx, tx, captureID)
		if err != nil {
			return err
		}
		if !c.PendingConfirmation || c.ConvertedTo == nil {
			return apperr.NewInvalidInput(fmt.Sprintf("capture %s is not awaiting confirmation", captureID))
		}
		switch c.ConvertedTo.Kind {
		case KindTask:
			err = deleteTask(ctx, tx, c.ConvertedTo.ID)
		case KindReminder:
			err = deleteReminder(ctx, tx, c.ConvertedTo.ID)
		case KindCommitment:
			err = deleteCommitment(ctx, tx, c.ConvertedTo.ID)
		}
		if err != nil {
			return err
		}
		if err := casUpdate(ctx, tx, KindCapture, "captures", captureID, c.Version,
			"processed = 0, converted_kind = NULL, converted_id = NULL, pending_confirmation = 0, triage_reason = ?",
			TriageRejected); err != nil {
			return err
		}
		c.Processed, c.ConvertedTo, c.PendingConfirmation, c.TriageReason = false, nil, false, TriageRejected
		c.Version++
		updated = c
		return nil
	})
	return updated, err
}

// QueueForTriage flags an unprocessed capture for manual resolution.
func (s *Store) QueueForTriage(ctx context.Context, captureID, reason string) error {
	return retryCAS(ctx, func() error {
		c, err := s.GetCapture(ctx, captureID)
		if err != nil {
			return err
		}
		if c.Processed {
			return nil
		}
		return casUpdate(ctx, s.db, KindCapture, "captures", captureID, c.Version, "triage_reason = ?", reason)
	})
}

// TriageQueue returns unresolved captures flagged for triage, oldest first.
func (s *Store) TriageQueue(ctx context.Context, limit int) ([]Capture, error) {
	query := "SELECT " + captureColumns + ` FROM captures
		WHERE processed = 0 AND triage_reason != '' ORDER BY timestamp, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryCaptures(ctx, query)
}

// PendingConfirmations returns captures whose conversion awaits a yes/no.
func (s *Store) PendingConfirmations(ctx context.Context) ([]Capture, error) {
	return s.queryCaptures(ctx, "SELECT "+captureColumns+` FROM captures
		WHERE pending_confirmation = 1 ORDER BY timestamp, id`)
}

// ArchiveStaleCaptures archives every unprocessed capture recorded before
// cutoff: processed is set with no conversion. Rows are never deleted.
func (s *Store) ArchiveStaleCaptures(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE captures
		SET processed = 1, converted_kind = NULL, converted_id = NULL, archived_at = ?, version = version + 1
		WHERE processed = 0 AND timestamp < ?`,
		db.Millis(s.now()), db.Millis(cutoff))
	if err != nil {
		return 0, storageErr("archiving captures", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("archiving captures", err)
	}
	return int(n), nil
}

// DismissCapture archives a single unprocessed capture immediately.
func (s *Store) DismissCapture(ctx context.Context, captureID string) (*Capture, error) {
	var updated *Capture
	err := retryCAS(ctx, func() error {
		c, err := s.GetCapture(ctx, captureID)
		if err != nil {
			return err
		}
		if c.Processed {
			updated = c
			return nil
		}
		now := s.now()
		if err := casUpdate(ctx, s.db, KindCapture, "captures", captureID, c.Version,
			"processed = 1, archived_at = ?", db.Millis(now)); err != nil {
			return err
		}
		c.Processed, c.ArchivedAt = true, &now
		c.Version++
		updated = c
		return nil
	})
	return updated, err
}

func (s *Store) queryCaptures(ctx context.Context, query string, args ...any) ([]Capture, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying captures", err)
	}
	defer rows.Close()

	var result []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, storageErr("scanning capture", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating captures", err)
	}
	return result, nil
}

func scanCapture(row scanner) (*Capture, error) {
	var (
		c         Capture
		ts        int64
		processed int64
		kind      sql.NullString
		convID    sql.NullString
		pending   int64
		archived  sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.RawText, &ts, &c.ContextHint, &processed, &kind, &convID,
		&pending, &c.TriageReason, &archived, &c.Version); err != nil {
		return nil, err
	}
	c.Timestamp = db.FromMillis(ts)
	c.Processed = db.Bool(processed)
	if kind.Valid && convID.Valid {
		c.ConvertedTo = &Ref{Kind: Kind(kind.String), ID: convID.String}
	}
	c.PendingConfirmation = db.Bool(pending)
	c.ArchivedAt = db.TimePtr(archived)
	return &c, nil
}

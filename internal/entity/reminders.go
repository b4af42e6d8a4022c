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

const reminderColumns = `id, message, trigger_time, recurrence, task_ref, snoozed_until, fired, fired_at,
	acknowledged, created_at, version`

// dueExpr is the effective firing time of a reminder row.
const dueExpr = "COALESCE(snoozed_until, trigger_time)"

// ReminderFilter controls which reminders QueryReminders returns.
type ReminderFilter struct {
	Fired        *bool
	Acknowledged *bool
	TaskRef      string
	DueAfter     time.Time
	DueBefore    time.Time
	Limit        int
}

// FireResult describes the outcome of FireReminder.
type FireResult struct {
	Reminder Reminder  `json:"reminder"`
	Fired    bool      `json:"fired"`
	Next     *Reminder `json:"next,omitempty"`
}

// CreateReminder inserts a new reminder.
func (s *Store) CreateReminder(ctx context.Context, r Reminder) (*Reminder, error) {
	var created *Reminder
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = s.insertReminder(ctx, tx, r)
		return err
	})
	return created, err
}

func (s *Store) insertReminder(ctx context.Context, q db.Querier, r Reminder) (*Reminder, error) {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return nil, apperr.NewInvalidInput("reminder message is required")
	}
	if r.TriggerTime.IsZero() {
		return nil, apperr.NewInvalidInput("reminder trigger_time is required")
	}
	if !r.Recurrence.Valid() {
		return nil, apperr.NewInvalidInput(fmt.Sprintf("invalid recurrence %q", r.Recurrence))
	}
	if r.TaskRef != "" {
		ok, err := exists(ctx, q, "tasks", r.TaskRef)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NewEntityNotFound(string(KindTask), r.TaskRef)
		}
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.TriggerTime = r.TriggerTime.UTC()
	r.Fired, r.FiredAt, r.Acknowledged = false, nil, false
	r.CreatedAt, r.Version = s.now(), 1

	_, err := q.ExecContext(ctx, `
		INSERT INTO reminders (id, message, trigger_time, recurrence, task_ref, snoozed_until, fired,
			fired_at, acknowledged, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, 0, ?, 1)`,
		r.ID, r.Message, db.Millis(r.TriggerTime), string(r.Recurrence), db.NullString(r.TaskRef),
		db.NullMillis(r.SnoozedUntil), db.Millis(r.CreatedAt),
	)
	if err != nil {
		return nil, storageErr("inserting reminder", err)
	}
	return &r, nil
}

// GetReminder retrieves a reminder by ID.
func (s *Store) GetReminder(ctx context.Context, id string) (*Reminder, error) {
	return getReminder(ctx, s.db, id)
}

func getReminder(ctx context.Context, q db.Querier, id string) (*Reminder, error) {
	row := q.QueryRowContext(ctx, "SELECT "+reminderColumns+" FROM reminders WHERE id = ?", id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewEntityNotFound(string(KindReminder), id)
	}
	if err != nil {
		return nil, storageErr("getting reminder", err)
	}
	return r, nil
}

// DueReminders returns every unfired reminder whose effective time is at or
// before now, oldest first. It is the catch-up scan: nothing missed during
// downtime is skipped because only the fired flag gates selection.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	return s.queryReminders(ctx,
		"SELECT "+reminderColumns+" FROM reminders WHERE fired = 0 AND "+dueExpr+" <= ? ORDER BY "+dueExpr+", id",
		db.Millis(now))
}

// QueryReminders returns reminders matching the filter ordered by effective
// due time.
func (s *Store) QueryReminders(ctx context.Context, filter ReminderFilter) ([]Reminder, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Fired != nil {
		clauses = append(clauses, "fired = ?")
		args = append(args, db.Flag(*filter.Fired))
	}
	if filter.Acknowledged != nil {
		clauses = append(clauses, "acknowledged = ?")
		args = append(args, db.Flag(*filter.Acknowledged))
	}
	if filter.TaskRef != "" {
		clauses = append(clauses, "task_ref = ?")
		args = append(args, filter.TaskRef)
	}
	if !filter.DueAfter.IsZero() {
		clauses = append(clauses, dueExpr+" >= ?")
		args = append(args, db.Millis(filter.DueAfter))
	}
	if !filter.DueBefore.IsZero() {
		clauses = append(clauses, dueExpr+" <= ?")
		args = append(args, db.Millis(filter.DueBefore))
	}
	query := "SELECT " + reminderColumns + " FROM reminders"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY " + dueExpr + ", id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryReminders(ctx, query, args...)
}

func (s *Store) queryReminders(ctx context.Context, query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying reminders", err)
	}
	defer rows.Close()

	var result []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, storageErr("scanning reminder", err)
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating reminders", err)
	}
	return result, nil
}

// FireReminder marks a reminder fired. For a recurring reminder the next
// occurrence is created in the same transaction and the series moves to
// the new row. Firing an already-fired reminder reports Fired=false.
func (s *Store) FireReminder(ctx context.Context, id string) (*FireResult, error) {
	var result *FireResult
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		r, err := getReminder(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Fired {
			result = &FireResult{Reminder: *r}
			return nil
		}
		now := s.now()
		err = casUpdate(ctx, tx, KindReminder, "reminders", id, r.Version,
			"fired = 1, fired_at = ?, recurrence = ''", db.Millis(now))
		if err != nil {
			return err
		}
		series := r.Recurrence
		r.Fired, r.FiredAt, r.Recurrence = true, &now, RecurNone
		r.Version++
		result = &FireResult{Reminder: *r, Fired: true}

		if series == RecurNone {
			return nil
		}
		next := r.TriggerTime
		for !next.After(now) {
			next = series.Next(next)
		}
		n, err := s.insertReminder(ctx, tx, Reminder{
			Message:     r.Message,
			TriggerTime: next,
			Recurrence:  series,
			TaskRef:     r.TaskRef,
		})
		if err != nil {
			return err
		}
		result.Next = n
		return nil
	})
	return result, err
}

// SnoozeReminder pushes a reminder to until and re-arms it. Snoozing to the
// same time twice is a no-op.
func (s *Store) SnoozeReminder(ctx context.Context, id string, until time.Time) (*Reminder, error) {
	until = until.UTC()
	var updated *Reminder
	err := retryCAS(ctx, func() error {
		r, err := s.GetReminder(ctx, id)
		if err != nil {
			return err
		}
		if !r.Fired && r.SnoozedUntil != nil && r.SnoozedUntil.Equal(until) {
			updated = r
			return nil
		}
		if err := casUpdate(ctx, s.db, KindReminder, "reminders", id, r.Version,
			"snoozed_until = ?, fired = 0, fired_at = NULL, acknowledged = 0", db.Millis(until)); err != nil {
			return err
		}
		r.SnoozedUntil, r.Fired, r.FiredAt, r.Acknowledged = &until, false, nil, false
		r.Version++
		updated = r
		return nil
	})
	return updated, err
}

// AcknowledgeReminder records that the user saw a fired reminder. It is
// idempotent.
func (s *Store) AcknowledgeReminder(ctx context.Context, id string) (*Reminder, error) {
	var updated *Reminder
	err := retryCAS(ctx, func() error {
		r, err := s.GetReminder(ctx, id)
		if err != nil {
			return err
		}
		if r.Acknowledged {
			updated = r
			return nil
		}
		if err := casUpdate(ctx, s.db, KindReminder, "reminders", id, r.Version, "acknowledged = 1"); err != nil {
			return err
		}
		r.Acknowledged = true
		r.Version++
		updated = r
		return nil
	})
	return updated, err
}

func deleteReminder(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM reminders WHERE id = ?", id); err != nil {
		return storageErr("deleting reminder", err)
	}
	return nil
}

func scanReminder(row scanner) (*Reminder, error) {
	var (
		r          Reminder
		trigger    int64
		recurrence string
		taskRef    sql.NullString
		snoozed    sql.NullInt64
		fired      int64
		firedAt    sql.NullInt64
		acked      int64
		created    int64
	)
	if err := row.Scan(&r.ID, &r.Message, &trigger, &recurrence, &taskRef, &snoozed, &fired, &firedAt,
		&acked, &created, &r.Version); err != nil {
		return nil, err
	}
	r.TriggerTime = db.FromMillis(trigger)
	r.Recurrence = Recurrence(recurrence)
	r.TaskRef = taskRef.String
	r.SnoozedUntil = db.TimePtr(snoozed)
	r.Fired = db.Bool(fired)
	r.FiredAt = db.TimePtr(firedAt)
	r.Acknowledged = db.Bool(acked)
	r.CreatedAt = db.FromMillis(created)
	return &r, nil
}

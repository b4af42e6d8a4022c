package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/cadence/internal/apperr"
)

func TestDueRemindersCatchUpAfterDowntime(t *testing.T) {
	store, clk := setupTestStore(t)
	ctx := context.Background()

	// Three reminders fall inside a window where nothing was running.
	for i, msg := range []string{"stretch", "water plants", "call mom"} {
		_, err := store.CreateReminder(ctx, Reminder{Message: msg, TriggerTime: t0.Add(time.Duration(i+1) * time.Hour)})
		require.NoError(t, err)
	}
	_, err := store.CreateReminder(ctx, Reminder{Message: "future", TriggerTime: t0.Add(48 * time.Hour)})
	require.NoError(t, err)

	clk.Advance(10 * time.Hour)
	due, err := store.DueReminders(ctx, clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "stretch", due[0].Message)

	for _, r := range due {
		res, err := store.FireReminder(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, res.Fired)
		assert.True(t, res.Reminder.Fired)
		assert.False(t, res.Reminder.Acknowledged, "firing does not acknowledge")
	}

	due, err = store.DueReminders(ctx, clk.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestFireReminderIsIdempotent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	r, err := store.CreateReminder(ctx, Reminder{Message: "stand up", TriggerTime: t0})
	require.NoError(t, err)

	res, err := store.FireReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, res.Fired)

	res, err = store.FireReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, res.Fired)

	_, err = store.FireReminder(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.EntityNotFound))
}

func TestRecurringReminderSpawnsNext(t *testing.T) {
	store, clk := setupTestStore(t)
	ctx := context.Background()

	r, err := store.CreateReminder(ctx, Reminder{Message: "take vitamins", TriggerTime: t0, Recurrence: RecurDaily})
	require.NoError(t, err)

	// Three days of downtime: the next occurrence lands after now, not in
	// the past.
	clk.Advance(3*24*time.Hour + time.Hour)
	res, err := store.FireReminder(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, RecurDaily, res.Next.Recurrence)
	assert.True(t, res.Next.TriggerTime.Equal(t0.Add(4*24*time.Hour)))
	assert.Equal(t, RecurNone, res.Reminder.Recurrence)

	// Snoozing the fired instance re-arms it without spawning a second series.
	_, err = store.SnoozeReminder(ctx, r.ID, clk.Now().Add(time.Minute))
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	res, err = store.FireReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Nil(t, res.Next)
}

func TestMonthlyRecurrence(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), RecurMonthly.Next(jan31))
	assert.Equal(t, jan31.AddDate(1, 0, 0), RecurYearly.Next(jan31))
	assert.False(t, Recurrence("hourly").Valid())
}

func TestSnoozeAndAcknowledge(t *testing.T) {
	store, clk := setupTestStore(t)
	ctx := context.Background()

	r, err := store.CreateReminder(ctx, Reminder{Message: "check oven", TriggerTime: t0})
	require.NoError(t, err)
	_, err = store.FireReminder(ctx, r.ID)
	require.NoError(t, err)

	until := t0.Add(15 * time.Minute)
	snoozed, err := store.SnoozeReminder(ctx, r.ID, until)
	require.NoError(t, err)
	assert.False(t, snoozed.Fired)
	assert.True(t, snoozed.DueAt().Equal(until))

	again, err := store.SnoozeReminder(ctx, r.ID, until)
	require.NoError(t, err)
	assert.Equal(t, snoozed.Version, again.Version, "second identical snooze is a no-op")

	due, err := store.DueReminders(ctx, clk.Now())
	require.NoError(t, err)
	assert.Empty(t, due, "snoozed reminder waits for snoozed_until")

	clk.Advance(15 * time.Minute)
	due, err = store.DueReminders(ctx, clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	acked, err := store.AcknowledgeReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	acked2, err := store.AcknowledgeReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, acked.Version, acked2.Version)
}

func TestCreateReminderValidation(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateReminder(ctx, Reminder{Message: "x"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	_, err = store.CreateReminder(ctx, Reminder{Message: "x", TriggerTime: t0, TaskRef: "missing"})
	assert.True(t, apperr.Is(err, apperr.EntityNotFound))
	_, err = store.CreateReminder(ctx, Reminder{Message: "x", TriggerTime: t0, Recurrence: "hourly"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

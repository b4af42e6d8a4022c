package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/governor"
)

// Submitter queues unsolicited output for the governor.
type Submitter interface {
	Submit(ctx context.Context, items ...governor.Item) error
}

// ReminderFirer fires every reminder whose effective trigger time has
// passed. It scans for all unfired due reminders rather than the last
// window, so downtime never skips one.
type ReminderFirer struct {
	entities *entity.Store
	clock    clock.Clock
	logger   *zap.Logger
	events   events.Publisher
	out      Submitter
}

// NewReminderFirer creates a ReminderFirer. out may be nil.
func NewReminderFirer(entities *entity.Store, clk clock.Clock, logger *zap.Logger, pub events.Publisher, out Submitter) *ReminderFirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderFirer{
		entities: entities,
		clock:    clock.OrSystem(clk),
		logger:   logger,
		events:   events.OrNop(pub),
		out:      out,
	}
}

// FireDue fires due reminders and returns how many it fired.
func (f *ReminderFirer) FireDue(ctx context.Context) (int, error) {
	due, err := f.entities.DueReminders(ctx, f.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	fired := 0
	var items []governor.Item
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			break
		}
		res, err := f.entities.FireReminder(ctx, r.ID)
		if err != nil {
			// A lost race with a snooze or a concurrent fire affects only
			// this reminder; the rest of the batch carries on.
			f.logger.Warn("firing reminder", zap.String("reminder", r.ID), zap.Error(err))
			continue
		}
		if !res.Fired {
			continue
		}
		fired++
		f.events.Publish(events.ReminderDue, res.Reminder)
		items = append(items, governor.Item{
			Ref:        res.Reminder.Ref().String(),
			Kind:       governor.KindReminder,
			ContextKey: "reminders",
			Text:       res.Reminder.Message,
			Detail:     res.Reminder,
		})
		if res.Next != nil {
			f.logger.Debug("scheduled next occurrence",
				zap.String("reminder", res.Next.ID), zap.Time("at", res.Next.TriggerTime))
		}
	}
	if fired > 0 {
		f.logger.Info("reminders fired", zap.Int("count", fired))
	}
	if f.out != nil && len(items) > 0 {
		if err := f.out.Submit(ctx, items...); err != nil {
			return fired, err
		}
	}
	return fired, ctx.Err()
}

package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/governor"
)

// commitmentHorizon is how far ahead the morning briefing looks for owed
// commitments.
const commitmentHorizon = 48 * time.Hour

const briefingKey = "briefing"

// MorningBriefing is the day's agenda as structured data.
type MorningBriefing struct {
	Date        string              `json:"date"`
	Tasks       []entity.Task       `json:"tasks"`
	Reminders   []entity.Reminder   `json:"reminders"`
	Commitments []entity.Commitment `json:"commitments"`
	StallCount  int                 `json:"stall_count"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Empty reports whether there is nothing to brief on.
func (b *MorningBriefing) Empty() bool {
	return len(b.Tasks) == 0 && len(b.Reminders) == 0 && len(b.Commitments) == 0 && b.StallCount == 0
}

// Headline is a one-line count summary used as the prompt text.
func (b *MorningBriefing) Headline() string {
	var parts []string
	add := func(n int, one, many string) {
		switch {
		case n == 1:
			parts = append(parts, "1 "+one)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %s", n, many))
		}
	}
	add(len(b.Tasks), "task due", "tasks due")
	add(len(b.Reminders), "reminder", "reminders")
	add(len(b.Commitments), "commitment coming up", "commitments coming up")
	add(b.StallCount, "stalled item", "stalled items")
	if len(parts) == 0 {
		return "Nothing scheduled today"
	}
	return "Today: " + strings.Join(parts, ", ")
}

// BuildMorningBriefing collects tasks due by the end of today (overdue
// included), today's unacknowledged reminders, open commitments due within
// 48 hours and the current stall count.
func (e *Engine) BuildMorningBriefing(ctx context.Context) (*MorningBriefing, error) {
	now := e.clock.Now()
	local := now.In(e.loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, e.loc)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)

	tasks, err := e.Entities.QueryTasks(ctx, entity.TaskFilter{
		Statuses:  []entity.TaskStatus{entity.TaskPending, entity.TaskInProgress, entity.TaskBlocked},
		DueBefore: end,
		OrderBy:   "due_date",
		Ascending: true,
	})
	if err != nil {
		return nil, err
	}
	unacked := false
	reminders, err := e.Entities.QueryReminders(ctx, entity.ReminderFilter{
		Acknowledged: &unacked,
		DueAfter:     start,
		DueBefore:    end,
	})
	if err != nil {
		return nil, err
	}
	commitments, err := e.Entities.QueryCommitments(ctx, entity.CommitmentFilter{
		Statuses:  []entity.CommitmentStatus{entity.CommitmentPending, entity.CommitmentRenegotiated},
		DueBefore: now.Add(commitmentHorizon),
		OrderBy:   "due_by",
		Ascending: true,
	})
	if err != nil {
		return nil, err
	}
	stalls, _ := e.Stalls.Candidates()

	return &MorningBriefing{
		Date:        start.Format("2006-01-02"),
		Tasks:       nonNil(tasks),
		Reminders:   nonNil(reminders),
		Commitments: nonNil(commitments),
		StallCount:  len(stalls),
		GeneratedAt: now.UTC(),
	}, nil
}

// MorningBriefing builds the briefing and hands it to the governor. The
// returned decision is nil when there was nothing to brief on.
func (e *Engine) MorningBriefing(ctx context.Context) (*MorningBriefing, *governor.Decision, error) {
	b, err := e.BuildMorningBriefing(ctx)
	if err != nil {
		return nil, nil, err
	}
	if b.Empty() {
		return b, nil, nil
	}
	item := governor.Item{
		Ref:        "briefing:" + b.Date,
		Kind:       governor.KindBriefing,
		ContextKey: briefingKey,
		Text:       b.Headline(),
		Detail:     b,
	}
	if err := e.Governor.Submit(ctx, item); err != nil {
		return b, nil, err
	}
	decisions, err := e.Governor.Drain(ctx)
	if err != nil {
		return b, nil, err
	}
	for i := range decisions {
		if decisions[i].ContextKey == briefingKey {
			return b, &decisions[i], nil
		}
	}
	return b, nil, nil
}

func (e *Engine) morningBriefingJob(ctx context.Context) error {
	b, dec, err := e.MorningBriefing(ctx)
	if err != nil {
		return err
	}
	if dec != nil {
		e.logger.Info("morning briefing", zap.String("date", b.Date), zap.String("outcome", string(dec.Outcome)))
	}
	return nil
}

func (e *Engine) handleMorningBriefing(w http.ResponseWriter, r *http.Request) {
	b, err := e.BuildMorningBriefing(r.Context())
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

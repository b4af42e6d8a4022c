// Package stall finds tasks, projects and commitments that have sat idle
// past their threshold and queues them for the governor.
package stall

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/governor"
)

// FallbackAction is proposed when an entity has no stored next step.
const FallbackAction = "What's blocking this?"

// Next action sources.
const (
	SourceNextStep = "next_step"
	SourceBlockers = "blockers"
	SourceFallback = "fallback"
)

// Candidate is an entity idle at or past its threshold.
type Candidate struct {
	Ref        entity.Ref `json:"ref"`
	Title      string     `json:"title"`
	StallDays  int        `json:"stall_days"`
	Threshold  int        `json:"threshold"`
	Urgency    float64    `json:"urgency"`
	NextAction string     `json:"next_action"`
	Source     string     `json:"next_action_source"`
	DetectedAt time.Time  `json:"detected_at"`
}

func (c Candidate) weight() float64 {
	return c.Urgency * float64(c.StallDays) / float64(c.Threshold)
}

// Stalled reports whether days idle reach the threshold. A non-positive
// threshold disables detection for that entity type.
func Stalled(days, threshold int) bool {
	return threshold > 0 && days >= threshold
}

// Queue receives candidates for delivery.
type Queue interface {
	Submit(ctx context.Context, items ...governor.Item) error
}

// Options configures a Detector.
type Options struct {
	Config config.StallConfig
	// Thresholds returns the table in force, normally the active intensity
	// profile's. When nil Config.Thresholds is used.
	Thresholds func() config.StallThresholds
	Clock      clock.Clock
	Logger     *zap.Logger
	Events     events.Publisher
	Queue      Queue
}

// Detector scans the entity store for stalls.
type Detector struct {
	entities   *entity.Store
	base       config.StallThresholds
	thresholds func() config.StallThresholds
	urgency    float64
	clock      clock.Clock
	logger     *zap.Logger
	events     events.Publisher
	queue      Queue

	mu       sync.Mutex
	last     []Candidate
	lastScan time.Time
}

// NewDetector creates a Detector.
func NewDetector(entities *entity.Store, opts Options) *Detector {
	cfg := opts.Config
	if cfg.Thresholds == (config.StallThresholds{}) {
		cfg.Thresholds = config.BaseStallThresholds
	}
	if cfg.CommitmentUrgency <= 0 {
		cfg.CommitmentUrgency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		entities:   entities,
		base:       cfg.Thresholds,
		thresholds: opts.Thresholds,
		urgency:    cfg.CommitmentUrgency,
		clock:      clock.OrSystem(opts.Clock),
		logger:     logger,
		events:     events.OrNop(opts.Events),
		queue:      opts.Queue,
	}
}

func (d *Detector) table() config.StallThresholds {
	if d.thresholds != nil {
		return d.thresholds()
	}
	return d.base
}

// Scan evaluates every open task, active project and open commitment. It
// stops at an entity boundary when ctx is cancelled.
func (d *Detector) Scan(ctx context.Context) ([]Candidate, error) {
	now := d.clock.Now().UTC()
	th := d.table()

	projects, err := d.entities.QueryProjects(ctx, entity.ProjectFilter{Statuses: []entity.ProjectStatus{entity.ProjectActive}})
	if err != nil {
		return nil, err
	}
	tasks, err := d.entities.QueryTasks(ctx, entity.TaskFilter{Statuses: []entity.TaskStatus{entity.TaskPending, entity.TaskInProgress}})
	if err != nil {
		return nil, err
	}
	commitments, err := d.entities.QueryCommitments(ctx, entity.CommitmentFilter{
		Statuses: []entity.CommitmentStatus{entity.CommitmentPending, entity.CommitmentRenegotiated},
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]entity.Project, len(projects))
	var out []Candidate
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		byID[p.ID] = p
		days, ok := p.StallDays(now)
		if !ok || !Stalled(days, th.Project) {
			continue
		}
		c := Candidate{Ref: p.Ref(), Title: p.Name, StallDays: days, Threshold: th.Project, Urgency: 1, DetectedAt: now}
		c.NextAction, c.Source = projectAction(p)
		out = append(out, c)
	}
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		days, ok := t.StallDays(now)
		threshold := th.Task
		if t.ProjectRef != "" {
			threshold = th.ProjectTask
		}
		if !ok || !Stalled(days, threshold) {
			continue
		}
		c := Candidate{Ref: t.Ref(), Title: t.Title, StallDays: days, Threshold: threshold, Urgency: 1, DetectedAt: now}
		c.NextAction, c.Source = FallbackAction, SourceFallback
		if p, ok := byID[t.ProjectRef]; ok && p.NextStep != "" {
			c.NextAction, c.Source = p.NextStep, SourceNextStep
		}
		out = append(out, c)
	}
	for _, cm := range commitments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		days, ok := cm.StallDays(now)
		if !ok || !Stalled(days, th.Commitment) {
			continue
		}
		out = append(out, Candidate{
			Ref:        cm.Ref(),
			Title:      cm.What,
			StallDays:  days,
			Threshold:  th.Commitment,
			Urgency:    d.urgency,
			NextAction: FallbackAction,
			Source:     SourceFallback,
			DetectedAt: now,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if wi, wj := out[i].weight(), out[j].weight(); wi != wj {
			return wi > wj
		}
		return out[i].Ref.String() < out[j].Ref.String()
	})

	d.mu.Lock()
	d.last, d.lastScan = out, now
	d.mu.Unlock()

	d.logger.Info("stall scan finished",
		zap.Int("projects", len(projects)),
		zap.Int("tasks", len(tasks)),
		zap.Int("commitments", len(commitments)),
		zap.Int("candidates", len(out)))
	for _, c := range out {
		d.events.Publish(events.StallDetected, c)
	}
	if d.queue != nil && len(out) > 0 {
		items := make([]governor.Item, 0, len(out))
		for _, c := range out {
			items = append(items, governor.Item{
				Ref:        c.Ref.String(),
				Kind:       governor.KindStall,
				ContextKey: "stall",
				Text:       c.Title,
				Detail:     c,
			})
		}
		if err := d.queue.Submit(ctx, items...); err != nil {
			return out, err
		}
	}
	return out, nil
}

func projectAction(p entity.Project) (string, string) {
	switch {
	case p.NextStep != "":
		return p.NextStep, SourceNextStep
	case len(p.Blockers) > 0:
		return "Unblock: " + p.Blockers[0], SourceBlockers
	}
	return FallbackAction, SourceFallback
}

// Candidates returns the result of the last scan and when it ran.
func (d *Detector) Candidates() ([]Candidate, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Candidate{}, d.last...), d.lastScan
}

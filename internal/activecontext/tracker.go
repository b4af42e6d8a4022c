package activecontext

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/ids"
	"github.com/ziadkadry99/cadence/internal/memory"
)

const briefingCrumbs = 3

var verbalCue = regexp.MustCompile(`(?i)\b(hold on|hang on|one (?:sec|second|moment)|just a (?:sec|second|moment|minute)|wait a (?:sec|second|minute)|be right back|brb|gotta go|got to go|give me a (?:sec|second|minute))\b`)

// Recall supplies related memories for a briefing.
type Recall interface {
	GetContext(ctx context.Context, q memory.ContextQuery) (*memory.Context, error)
}

// Options configures a Tracker.
type Options struct {
	Config config.ContextConfig
	Clock  clock.Clock
	Logger *zap.Logger
	Recall Recall
}

// Tracker maintains the single live ActiveContext. State changes are
// checkpointed to the database so a restarted daemon can pick up where it
// left off.
type Tracker struct {
	entities *entity.Store
	db       *db.DB
	cfg      config.ContextConfig
	clock    clock.Clock
	logger   *zap.Logger
	recall   Recall

	mu             sync.Mutex
	ac             ActiveContext
	seq            uint64
	lastCheckpoint time.Time

	persistMu sync.Mutex
	persisted uint64
}

// NewTracker starts an idle session. Call Load to resume a saved one.
func NewTracker(entities *entity.Store, database *db.DB, opts Options) *Tracker {
	cfg := opts.Config
	def := config.DefaultConfig().Context
	if cfg.SilenceGap <= 0 {
		cfg.SilenceGap = def.SilenceGap
	}
	if cfg.BreadcrumbLimit <= 0 {
		cfg.BreadcrumbLimit = def.BreadcrumbLimit
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = def.CheckpointInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := clock.OrSystem(opts.Clock)
	now := clk.Now().UTC()
	return &Tracker{
		entities: entities,
		db:       database,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		recall:   opts.Recall,
		ac: ActiveContext{
			SessionID:    ids.New(now),
			State:        StateIdle,
			SessionStart: now,
			Breadcrumbs:  []Breadcrumb{},
		},
	}
}

func (t *Tracker) now() time.Time {
	return t.clock.Now().UTC()
}

// Load restores the most recently saved context if its last interaction is
// within the retention window. It reports whether anything was restored.
func (t *Tracker) Load(ctx context.Context) (bool, error) {
	saved, err := latest(ctx, t.db)
	if err != nil || saved == nil {
		return false, err
	}
	now := t.now()
	if now.Sub(saved.LastInteraction) > t.cfg.Retention {
		t.logger.Debug("saved context expired", zap.String("session", saved.SessionID),
			zap.Time("last_interaction", saved.LastInteraction))
		return false, nil
	}
	saved.Breadcrumbs = retain(saved.Breadcrumbs, now.Add(-t.cfg.Retention))

	t.mu.Lock()
	t.ac = *saved
	t.lastCheckpoint = now
	t.mu.Unlock()
	t.logger.Info("restored active context",
		zap.String("session", saved.SessionID),
		zap.String("state", string(saved.State)),
		zap.Int("breadcrumbs", len(saved.Breadcrumbs)))
	return true, nil
}

// Current returns a copy of the live context.
func (t *Tracker) Current() ActiveContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ac.clone()
}

// Observe feeds one utterance or action into the state machine.
func (t *Tracker) Observe(ctx context.Context, obs Observation) (*ActiveContext, error) {
	obs.Text = strings.TrimSpace(obs.Text)
	if obs.Kind == "" {
		obs.Kind = KindUtterance
	}
	if obs.Kind != KindUtterance && obs.Kind != KindAction {
		return nil, apperr.NewInvalidInput(fmt.Sprintf("unknown observation kind %q", obs.Kind))
	}
	if obs.Text == "" && obs.TaskRef == "" && obs.ProjectRef == "" {
		return nil, apperr.NewInvalidInput("observation needs text or a reference")
	}
	now := obs.Timestamp.UTC()
	if obs.Timestamp.IsZero() {
		now = t.now()
	}

	cue := obs.Kind == KindUtterance && verbalCue.MatchString(obs.Text)
	var taskRef, projectRef string
	if !cue {
		var err error
		if taskRef, projectRef, err = t.resolve(ctx, obs); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	prev := t.ac.State
	if t.ac.State == StateEngaged && now.Sub(t.ac.LastInteraction) > t.cfg.SilenceGap {
		t.interruptLocked(ReasonSilence, now)
	}
	if t.ac.State == StateEngaged {
		switch {
		case cue:
			t.interruptLocked(ReasonCue, now)
		case obs.TopicShift:
			t.interruptLocked(ReasonTopicShift, now)
		}
	}
	if taskRef != "" || projectRef != "" {
		t.ac.State = StateEngaged
		t.ac.CurrentTask, t.ac.CurrentProject = taskRef, projectRef
	}
	t.appendLocked(Breadcrumb{
		ID:         ids.New(now),
		Timestamp:  now,
		Kind:       obs.Kind,
		Text:       obs.Text,
		TaskRef:    taskRef,
		ProjectRef: projectRef,
	})
	t.ac.LastInteraction = now
	if obs.Kind == KindUtterance && !cue && obs.Text != "" {
		t.ac.LastStatement = obs.Text
	}
	t.seq++
	snap, seq := t.ac.clone(), t.seq
	due := t.ac.State != prev || now.Sub(t.lastCheckpoint) >= t.cfg.CheckpointInterval
	t.mu.Unlock()

	if taskRef != "" {
		if err := t.entities.TouchTask(ctx, taskRef); err != nil {
			t.logger.Warn("touching task", zap.String("task", taskRef), zap.Error(err))
		}
	} else if projectRef != "" {
		if err := t.entities.TouchProject(ctx, projectRef); err != nil {
			t.logger.Warn("touching project", zap.String("project", projectRef), zap.Error(err))
		}
	}
	if due {
		t.persist(ctx, snap, seq, now)
	}
	return &snap, nil
}

// resolve finds the task and project an observation refers to. Explicit
// references win; otherwise the text is matched against open task titles
// and then project names.
func (t *Tracker) resolve(ctx context.Context, obs Observation) (taskRef, projectRef string, err error) {
	switch {
	case obs.TaskRef != "":
		task, err := t.entities.GetTask(ctx, obs.TaskRef)
		if err != nil {
			return "", "", err
		}
		projectRef = obs.ProjectRef
		if projectRef == "" {
			projectRef = task.ProjectRef
		}
		return task.ID, projectRef, nil
	case obs.ProjectRef != "":
		p, err := t.entities.GetProject(ctx, obs.ProjectRef)
		if err != nil {
			return "", "", err
		}
		return "", p.ID, nil
	case obs.Text == "":
		return "", "", nil
	}

	tasks, err := t.entities.FindOpenTasksByReference(ctx, obs.Text)
	if err != nil {
		return "", "", err
	}
	if len(tasks) == 1 {
		return tasks[0].ID, tasks[0].ProjectRef, nil
	}
	p, err := t.entities.FindProjectByName(ctx, obs.Text)
	if err != nil || p == nil {
		return "", "", err
	}
	return "", p.ID, nil
}

func (t *Tracker) appendLocked(b Breadcrumb) {
	t.ac.Breadcrumbs = append(t.ac.Breadcrumbs, b)
	if over := len(t.ac.Breadcrumbs) - t.cfg.BreadcrumbLimit; over > 0 {
		t.ac.Breadcrumbs = append([]Breadcrumb(nil), t.ac.Breadcrumbs[over:]...)
	}
}

// interruptLocked moves an engaged context to interrupted. An existing
// snapshot is kept as is until Restore consumes it.
func (t *Tracker) interruptLocked(reason string, now time.Time) {
	if t.ac.PreInterruption == nil {
		t.ac.PreInterruption = &Snapshot{
			TaskRef:       t.ac.CurrentTask,
			ProjectRef:    t.ac.CurrentProject,
			Breadcrumbs:   append([]Breadcrumb(nil), t.ac.Breadcrumbs...),
			LastStatement: t.ac.LastStatement,
			Reason:        reason,
			TakenAt:       now,
		}
	}
	t.ac.State = StateInterrupted
	t.ac.InterruptionFlag = true
	t.logger.Debug("context interrupted", zap.String("reason", reason), zap.String("task", t.ac.CurrentTask))
}

// SnapshotOnInterruption flags an interruption explicitly. Repeating it
// returns the snapshot already taken.
func (t *Tracker) SnapshotOnInterruption(ctx context.Context, reason string) (*Snapshot, error) {
	if reason == "" {
		reason = ReasonExplicit
	}
	now := t.now()
	t.mu.Lock()
	switch {
	case t.ac.State == StateInterrupted && t.ac.PreInterruption != nil:
		snap := t.ac.clone().PreInterruption
		t.mu.Unlock()
		return snap, nil
	case t.ac.State != StateEngaged:
		t.mu.Unlock()
		return nil, apperr.NewInvalidInput("no engaged context to snapshot")
	}
	t.interruptLocked(reason, now)
	t.seq++
	ac, seq := t.ac.clone(), t.seq
	t.mu.Unlock()

	t.persist(ctx, ac, seq, now)
	return ac.PreInterruption, nil
}

// CheckSilence interrupts an engaged context that has been quiet longer
// than the silence gap. It reports whether it did.
func (t *Tracker) CheckSilence(ctx context.Context) (bool, error) {
	now := t.now()
	t.mu.Lock()
	if t.ac.State != StateEngaged || now.Sub(t.ac.LastInteraction) <= t.cfg.SilenceGap {
		t.mu.Unlock()
		return false, nil
	}
	t.interruptLocked(ReasonSilence, now)
	t.seq++
	ac, seq := t.ac.clone(), t.seq
	t.mu.Unlock()

	t.persist(ctx, ac, seq, now)
	return true, nil
}

// Restore consumes the interruption snapshot, re-engages its task and
// project, and returns the briefing for it.
func (t *Tracker) Restore(ctx context.Context) (*Briefing, error) {
	now := t.now()
	t.mu.Lock()
	snap := t.ac.PreInterruption
	if snap == nil {
		t.mu.Unlock()
		return nil, apperr.NewInvalidInput("there is no interrupted context to restore")
	}
	restored := *snap
	t.ac.CurrentTask, t.ac.CurrentProject = snap.TaskRef, snap.ProjectRef
	t.ac.State = StateEngaged
	t.ac.InterruptionFlag = false
	t.ac.PreInterruption = nil
	t.ac.LastInteraction = now
	t.seq++
	ac, seq := t.ac.clone(), t.seq
	t.mu.Unlock()

	t.persist(ctx, ac, seq, now)
	b, err := t.briefing(ctx, StateEngaged, restored.TaskRef, restored.ProjectRef, restored.Breadcrumbs, restored.LastStatement)
	if err != nil {
		return nil, err
	}
	b.Reason, b.Since = restored.Reason, restored.TakenAt
	return b, nil
}

// ResumptionBriefing describes where the user left off: the interruption
// snapshot when there is one, the live context otherwise.
func (t *Tracker) ResumptionBriefing(ctx context.Context) (*Briefing, error) {
	ac := t.Current()
	if snap := ac.PreInterruption; snap != nil {
		b, err := t.briefing(ctx, ac.State, snap.TaskRef, snap.ProjectRef, snap.Breadcrumbs, snap.LastStatement)
		if err != nil {
			return nil, err
		}
		b.Interrupted, b.Reason, b.Since = true, snap.Reason, snap.TakenAt
		return b, nil
	}
	return t.briefing(ctx, ac.State, ac.CurrentTask, ac.CurrentProject, ac.Breadcrumbs, ac.LastStatement)
}

func (t *Tracker) briefing(ctx context.Context, state State, taskRef, projectRef string, crumbs []Breadcrumb, lastStatement string) (*Briefing, error) {
	b := &Briefing{State: state, Breadcrumbs: lastN(crumbs, briefingCrumbs), LastIntent: lastStatement}
	if b.LastIntent == "" {
		for i := len(crumbs) - 1; i >= 0; i-- {
			if crumbs[i].Kind == KindUtterance && crumbs[i].Text != "" {
				b.LastIntent = crumbs[i].Text
				break
			}
		}
	}

	if taskRef != "" {
		task, err := t.entities.GetTask(ctx, taskRef)
		switch {
		case err == nil:
			b.Task = task
			if projectRef == "" {
				projectRef = task.ProjectRef
			}
		case !apperr.Is(err, apperr.EntityNotFound):
			return nil, err
		}
	}
	if projectRef != "" {
		p, err := t.entities.GetProject(ctx, projectRef)
		switch {
		case err == nil:
			b.Project = p
		case !apperr.Is(err, apperr.EntityNotFound):
			return nil, err
		}
	}
	b.NextAction = proposeNext(b)
	b.Related = t.related(ctx, b)
	return b, nil
}

// proposeNext picks the smallest concrete step from stored fields.
func proposeNext(b *Briefing) NextAction {
	switch {
	case b.Project != nil && b.Project.NextStep != "":
		ref := b.Project.Ref()
		return NextAction{Kind: NextProjectStep, Ref: &ref, Text: b.Project.NextStep}
	case b.Task != nil && b.Task.Status == entity.TaskBlocked:
		ref := b.Task.Ref()
		return NextAction{Kind: NextUnblock, Ref: &ref, Text: b.Task.Title}
	case b.Task != nil:
		ref := b.Task.Ref()
		return NextAction{Kind: NextResumeTask, Ref: &ref, Text: b.Task.Title}
	case b.Project != nil && len(b.Project.Blockers) > 0:
		ref := b.Project.Ref()
		return NextAction{Kind: NextUnblock, Ref: &ref, Text: b.Project.Blockers[0]}
	case b.LastIntent != "":
		return NextAction{Kind: NextRecall, Text: b.LastIntent}
	}
	return NextAction{Kind: NextNone}
}

func (t *Tracker) related(ctx context.Context, b *Briefing) []memory.ScoredEpisode {
	if t.recall == nil {
		return nil
	}
	var entities []string
	if b.Task != nil {
		entities = append(entities, b.Task.Ref().String())
	}
	if b.Project != nil {
		entities = append(entities, b.Project.Ref().String())
	}
	if len(entities) == 0 {
		return nil
	}
	mc, err := t.recall.GetContext(ctx, memory.ContextQuery{Entities: entities, Limit: 3, FactLimit: 1})
	if err != nil {
		t.logger.Warn("recalling episodes for briefing", zap.Error(err))
		return nil
	}
	return mc.Episodes
}

// Checkpoint saves the live context now.
func (t *Tracker) Checkpoint(ctx context.Context) error {
	now := t.now()
	t.mu.Lock()
	t.seq++
	ac, seq := t.ac.clone(), t.seq
	t.mu.Unlock()
	return t.persist(ctx, ac, seq, now)
}

// PurgeExpired drops saved sessions and breadcrumbs older than the
// retention window.
func (t *Tracker) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := t.now().Add(-t.cfg.Retention)
	t.mu.Lock()
	t.ac.Breadcrumbs = retain(t.ac.Breadcrumbs, cutoff)
	t.mu.Unlock()
	return purgeBefore(ctx, t.db, cutoff)
}

// persist writes ac unless a newer state was already saved. A failed write
// is logged; the next state change or checkpoint tries again.
func (t *Tracker) persist(ctx context.Context, ac ActiveContext, seq uint64, now time.Time) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if seq <= t.persisted {
		return nil
	}
	if err := checkpoint(ctx, t.db, ac, now); err != nil {
		t.logger.Warn("checkpointing active context", zap.Error(err))
		return err
	}
	t.persisted = seq
	t.mu.Lock()
	t.lastCheckpoint = now
	t.mu.Unlock()
	return nil
}

func retain(crumbs []Breadcrumb, cutoff time.Time) []Breadcrumb {
	out := make([]Breadcrumb, 0, len(crumbs))
	for _, b := range crumbs {
		if !b.Timestamp.Before(cutoff) {
			out = append(out, b)
		}
	}
	return out
}

func lastN(crumbs []Breadcrumb, n int) []Breadcrumb {
	if len(crumbs) > n {
		crumbs = crumbs[len(crumbs)-n:]
	}
	return append([]Breadcrumb{}, crumbs...)
}

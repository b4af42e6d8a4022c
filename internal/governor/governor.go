package governor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/ids"
)

// TaskSource lists tasks for context activation.
type TaskSource interface {
	QueryTasks(ctx context.Context, filter entity.TaskFilter) ([]entity.Task, error)
}

// Options configures a Governor.
type Options struct {
	Config    config.GovernorConfig
	Intensity config.IntensityLevel
	Clock     clock.Clock
	Logger    *zap.Logger
	Events    events.Publisher
	// Location decides where the daily prompt counter rolls over.
	// Defaults to time.Local.
	Location *time.Location
}

// Governor gates all unsolicited output.
type Governor struct {
	db     *db.DB
	tasks  TaskSource
	cfg    config.GovernorConfig
	clock  clock.Clock
	logger *zap.Logger
	events events.Publisher
	loc    *time.Location

	// sent is the day's prompt count. It is only incremented through
	// reserve so concurrent deliveries can never overshoot the cap.
	sent atomic.Int32

	mu         sync.Mutex
	profile    config.Profile
	quiet      bool
	day        string
	lastPrompt time.Time
	surfaced   map[string]time.Time
	snoozes    map[string]time.Time
	paused     map[string]bool
	pending    []Item
	seq        uint64

	// saveMu orders state writes; saved is the seq of the newest one.
	saveMu sync.Mutex
	saved  uint64
}

// New creates a Governor. Call Load to restore persisted state.
func New(database *db.DB, tasks TaskSource, opts Options) *Governor {
	cfg := opts.Config
	def := config.DefaultConfig().Governor
	if cfg.DedupCooldown <= 0 {
		cfg.DedupCooldown = def.DedupCooldown
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Governor{
		db:       database,
		tasks:    tasks,
		cfg:      cfg,
		clock:    clock.OrSystem(opts.Clock),
		logger:   logger,
		events:   events.OrNop(opts.Events),
		loc:      loc,
		profile:  config.GetProfile(opts.Intensity),
		surfaced: make(map[string]time.Time),
		snoozes:  make(map[string]time.Time),
		paused:   make(map[string]bool),
	}
}

func (g *Governor) now() time.Time {
	return g.clock.Now().UTC()
}

// Load restores persisted state. A stored intensity overrides the one
// given in Options since it reflects the user's last explicit choice.
func (g *Governor) Load(ctx context.Context) error {
	p := persisted{}
	if err := loadState(ctx, g.db, &p); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Intensity.Valid() {
		g.profile = config.GetProfile(p.Intensity)
	}
	g.quiet = p.Quiet
	g.day, g.lastPrompt = p.Counter.Day, p.Counter.LastPrompt
	g.sent.Store(int32(p.Counter.Sent))
	if p.Surfaced != nil {
		g.surfaced = p.Surfaced
	}
	if p.Snoozes != nil {
		g.snoozes = p.Snoozes
	}
	if p.Paused != nil {
		g.paused = p.Paused
	}
	g.pending = p.Pending
	g.rollDayLocked(g.now())
	return nil
}

func (g *Governor) snapshotLocked(now time.Time) persisted {
	surfaced := make(map[string]time.Time, len(g.surfaced))
	for ref, at := range g.surfaced {
		if now.Sub(at) < g.cfg.DedupCooldown {
			surfaced[ref] = at
		}
	}
	g.surfaced = surfaced
	snoozes := make(map[string]time.Time, len(g.snoozes))
	for ref, until := range g.snoozes {
		if until.After(now) {
			snoozes[ref] = until
		}
	}
	g.snoozes = snoozes
	paused := make(map[string]bool, len(g.paused))
	for ref := range g.paused {
		paused[ref] = true
	}
	g.seq++
	return persisted{
		seq:       g.seq,
		Intensity: g.profile.Level,
		Quiet:     g.quiet,
		Counter:   counterState{Day: g.day, Sent: int(g.sent.Load()), LastPrompt: g.lastPrompt},
		Surfaced:  copyTimes(surfaced),
		Snoozes:   copyTimes(snoozes),
		Paused:    paused,
		Pending:   append([]Item(nil), g.pending...),
	}
}

// save writes p unless a newer snapshot was already written. Snapshots are
// cumulative, so skipping an older one loses nothing.
func (g *Governor) save(ctx context.Context, p persisted, now time.Time) error {
	g.saveMu.Lock()
	defer g.saveMu.Unlock()
	if p.seq <= g.saved {
		return nil
	}
	if err := saveState(ctx, g.db, p, now); err != nil {
		g.logger.Warn("saving governor state", zap.Error(err))
		return err
	}
	g.saved = p.seq
	return nil
}

// rollDayLocked resets the daily counter when the local date changes.
func (g *Governor) rollDayLocked(now time.Time) {
	day := now.In(g.loc).Format("2006-01-02")
	if day != g.day {
		g.day = day
		g.sent.Store(0)
	}
}

// reserve claims one slot of the daily budget.
func (g *Governor) reserve(max int) bool {
	for {
		n := g.sent.Load()
		if int(n) >= max {
			return false
		}
		if g.sent.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Profile returns the active intensity profile.
func (g *Governor) Profile() config.Profile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profile
}

// StallThresholds returns the active profile's stall table.
func (g *Governor) StallThresholds() config.StallThresholds {
	return g.Profile().StallThresholds
}

// SetIntensity switches the scaffolding profile.
func (g *Governor) SetIntensity(ctx context.Context, level config.IntensityLevel) (config.Profile, error) {
	if !level.Valid() {
		return config.Profile{}, apperr.NewInvalidInput(fmt.Sprintf("unknown intensity %q: must be one of light, moderate, heavy", level))
	}
	now := g.now()
	g.mu.Lock()
	g.profile = config.GetProfile(level)
	profile, p := g.profile, g.snapshotLocked(now)
	g.mu.Unlock()
	g.logger.Info("intensity changed", zap.String("level", string(level)))
	return profile, g.save(ctx, p, now)
}

// SetQuiet turns quiet mode on or off. While on, nothing unsolicited is
// delivered; items keep queueing.
func (g *Governor) SetQuiet(ctx context.Context, on bool) error {
	now := g.now()
	g.mu.Lock()
	g.quiet = on
	p := g.snapshotLocked(now)
	g.mu.Unlock()
	g.logger.Info("quiet mode", zap.Bool("on", on))
	return g.save(ctx, p, now)
}

// Snooze excludes ref from unsolicited output for d, or for the profile's
// default snooze when d is zero. Snoozing again moves the expiry.
func (g *Governor) Snooze(ctx context.Context, ref string, d time.Duration) (time.Time, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return time.Time{}, apperr.NewInvalidInput("entity reference is required")
	}
	if d < 0 {
		return time.Time{}, apperr.NewInvalidInput("snooze duration must not be negative")
	}
	now := g.now()
	g.mu.Lock()
	if d == 0 {
		d = g.profile.DefaultSnooze
	}
	until := now.Add(d)
	g.snoozes[ref] = until
	p := g.snapshotLocked(now)
	g.mu.Unlock()
	return until, g.save(ctx, p, now)
}

// Pause excludes ref until Resume is called.
func (g *Governor) Pause(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return apperr.NewInvalidInput("entity reference is required")
	}
	now := g.now()
	g.mu.Lock()
	g.paused[ref] = true
	p := g.snapshotLocked(now)
	g.mu.Unlock()
	return g.save(ctx, p, now)
}

// Resume lifts any snooze or pause on ref.
func (g *Governor) Resume(ctx context.Context, ref string) error {
	now := g.now()
	g.mu.Lock()
	delete(g.snoozes, ref)
	delete(g.paused, ref)
	p := g.snapshotLocked(now)
	g.mu.Unlock()
	return g.save(ctx, p, now)
}

// Status reports the current governor state.
func (g *Governor) Status() Status {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(now)
	st := Status{
		Profile:    g.profile,
		Quiet:      g.quiet,
		SentToday:  int(g.sent.Load()),
		LastPrompt: g.lastPrompt,
		Pending:    append([]Item{}, g.pending...),
		Snoozed:    map[string]time.Time{},
		Paused:     []string{},
	}
	for ref, until := range g.snoozes {
		if until.After(now) {
			st.Snoozed[ref] = until
		}
	}
	for ref := range g.paused {
		st.Paused = append(st.Paused, ref)
	}
	sort.Strings(st.Paused)
	return st
}

// Submit queues items for the next Drain. A queued item with the same ref
// and kind is replaced.
func (g *Governor) Submit(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	now := g.now()
	g.mu.Lock()
	for _, it := range items {
		if it.ContextKey == "" {
			it.ContextKey = string(it.Kind)
		}
		if it.QueuedAt.IsZero() {
			it.QueuedAt = now
		}
		g.enqueueLocked(it)
	}
	p := g.snapshotLocked(now)
	g.mu.Unlock()
	return g.save(ctx, p, now)
}

// enqueueLocked adds it to the pending queue, replacing a queued item with
// the same ref and kind.
func (g *Governor) enqueueLocked(it Item) {
	for i, q := range g.pending {
		if it.Ref != "" && q.Ref == it.Ref && q.Kind == it.Kind {
			g.pending[i] = it
			return
		}
	}
	g.pending = append(g.pending, it)
}

// Drain evaluates every queued item, one merged prompt per context key.
// Items rejected by the daily cap, spacing or quiet mode stay queued.
func (g *Governor) Drain(ctx context.Context) ([]Decision, error) {
	now := g.now()
	g.mu.Lock()
	g.rollDayLocked(now)

	var order []string
	groups := make(map[string][]Item)
	for _, it := range g.pending {
		if _, ok := groups[it.ContextKey]; !ok {
			order = append(order, it.ContextKey)
		}
		groups[it.ContextKey] = append(groups[it.ContextKey], it)
	}

	var (
		decisions []Decision
		keep      []Item
		delivered []*Prompt
	)
	for _, key := range order {
		items, suppressed := g.filterLocked(groups[key], now)
		if len(items) == 0 {
			if len(suppressed) > 0 {
				decisions = append(decisions, Decision{ContextKey: key, Outcome: OutcomeSilent, Suppressed: suppressed})
			}
			continue
		}
		if outcome := g.gateLocked(now); outcome != OutcomeDelivered {
			keep = append(keep, items...)
			decisions = append(decisions, Decision{ContextKey: key, Outcome: outcome, Pending: len(items), Suppressed: suppressed})
			continue
		}
		prompt := g.deliverLocked(now, key, items, false)
		delivered = append(delivered, prompt)
		decisions = append(decisions, Decision{ContextKey: key, Outcome: OutcomeDelivered, Prompt: prompt, Suppressed: suppressed})
	}
	g.pending = keep
	p := g.snapshotLocked(now)
	g.mu.Unlock()

	g.announce(delivered)
	return decisions, g.save(ctx, p, now)
}

// Activate surfaces the open tasks tagged with a situational context key
// such as "errands:Superstore". Keys may be glob patterns ("errands:*").
// With nothing to surface the result is silent and nothing is emitted.
func (g *Governor) Activate(ctx context.Context, contextKey string, force bool) (*Decision, error) {
	contextKey = strings.TrimSpace(contextKey)
	if contextKey == "" {
		return nil, apperr.NewInvalidInput("context key is required")
	}
	pattern := strings.ToLower(contextKey)
	if !doublestar.ValidatePattern(pattern) {
		return nil, apperr.NewInvalidInput(fmt.Sprintf("invalid context key %q", contextKey))
	}
	tasks, err := g.tasks.QueryTasks(ctx, entity.TaskFilter{
		Statuses: []entity.TaskStatus{entity.TaskPending, entity.TaskInProgress},
		OrderBy:  "created_at",
	})
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, t := range tasks {
		if tagged(t.ContextTags, pattern) {
			items = append(items, Item{
				Ref:        t.Ref().String(),
				Kind:       KindActivation,
				ContextKey: contextKey,
				Text:       t.Title,
			})
		}
	}

	now := g.now()
	g.mu.Lock()
	g.rollDayLocked(now)
	items, suppressed := g.filterLocked(items, now)
	d := &Decision{ContextKey: contextKey, Suppressed: suppressed}
	var delivered []*Prompt
	switch {
	case len(items) == 0:
		d.Outcome = OutcomeSilent
	default:
		if d.Outcome = g.gateLocked(now); d.Outcome == OutcomeDelivered {
			d.Prompt = g.deliverLocked(now, contextKey, items, force)
			delivered = append(delivered, d.Prompt)
			break
		}
		for _, it := range items {
			it.QueuedAt = now
			g.enqueueLocked(it)
		}
		d.Pending = len(items)
	}
	p := g.snapshotLocked(now)
	g.mu.Unlock()

	g.announce(delivered)
	if err := g.save(ctx, p, now); err != nil {
		return nil, err
	}
	return d, nil
}

func tagged(tags []string, pattern string) bool {
	for _, tag := range tags {
		if ok, err := doublestar.Match(pattern, strings.ToLower(tag)); err == nil && ok {
			return true
		}
	}
	return false
}

// filterLocked drops snoozed, paused and recently surfaced items.
func (g *Governor) filterLocked(items []Item, now time.Time) (kept []Item, suppressed []string) {
	for _, it := range items {
		if g.excludedLocked(it.Ref, now) {
			suppressed = append(suppressed, it.Ref)
			continue
		}
		if at, ok := g.surfaced[it.Ref]; ok && it.Ref != "" && now.Sub(at) < g.cfg.DedupCooldown {
			suppressed = append(suppressed, it.Ref)
			continue
		}
		kept = append(kept, it)
	}
	return kept, suppressed
}

func (g *Governor) excludedLocked(ref string, now time.Time) bool {
	for key := range g.paused {
		if refMatches(ref, key) {
			return true
		}
	}
	for key, until := range g.snoozes {
		if refMatches(ref, key) && until.After(now) {
			return true
		}
	}
	return false
}

// gateLocked applies quiet mode, the daily cap and prompt spacing, in that
// order. A delivered outcome has already claimed a slot of the budget.
func (g *Governor) gateLocked(now time.Time) Outcome {
	switch {
	case g.quiet:
		return OutcomeQuiet
	case int(g.sent.Load()) >= g.profile.MaxDailyPrompts:
		return OutcomeDailyCap
	case !g.lastPrompt.IsZero() && now.Sub(g.lastPrompt) < g.profile.MinPromptSpacing:
		return OutcomeSpacing
	case !g.reserve(g.profile.MaxDailyPrompts):
		return OutcomeDailyCap
	}
	return OutcomeDelivered
}

func (g *Governor) deliverLocked(now time.Time, key string, items []Item, force bool) *Prompt {
	g.lastPrompt = now
	for _, it := range items {
		if it.Ref != "" {
			g.surfaced[it.Ref] = now
		}
	}
	return &Prompt{
		ID:          ids.New(now),
		Kind:        items[0].Kind,
		ContextKey:  key,
		Shape:       ShapeFor(len(items), force),
		Count:       len(items),
		Items:       items,
		DeliveredAt: now,
	}
}

func (g *Governor) announce(prompts []*Prompt) {
	for _, p := range prompts {
		g.logger.Info("prompt delivered",
			zap.String("kind", string(p.Kind)),
			zap.String("context", p.ContextKey),
			zap.String("shape", string(p.Shape)),
			zap.Int("items", p.Count))
		g.events.Publish(events.PromptDelivered, p)
		if p.Kind == KindBriefing {
			g.events.Publish(events.BriefingReady, p)
		}
	}
}

func copyTimes(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

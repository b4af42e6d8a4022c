// Package scheduler owns the engine's background run loop: a bounded set of
// named recurring jobs, each of which runs at most once at a time. Run
// times are kept in the job_runs table so a restart can tell what it missed.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/db"
)

// Job is a named unit of background work.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// Status describes one registered job.
type Status struct {
	Name         string    `json:"name"`
	Next         time.Time `json:"next"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Running      bool      `json:"running"`
}

type jobState struct {
	job     Job
	running atomic.Bool

	// guarded by Scheduler.mu
	next         time.Time
	lastStarted  time.Time
	lastFinished time.Time
	lastErr      string
}

// Options configures a Scheduler.
type Options struct {
	Tick   time.Duration
	Clock  clock.Clock
	Logger *zap.Logger
}

// Scheduler runs registered jobs when they fall due.
type Scheduler struct {
	db     *db.DB
	tick   time.Duration
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	jobs   map[string]*jobState
	order  []string
	loaded bool
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(database *db.DB, opts Options) *Scheduler {
	tick := opts.Tick
	if tick <= 0 {
		tick = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		db:     database,
		tick:   tick,
		clock:  clock.OrSystem(opts.Clock),
		logger: logger,
		jobs:   make(map[string]*jobState),
	}
}

func (s *Scheduler) now() time.Time {
	return s.clock.Now().UTC()
}

// Register adds a job. Names must be unique.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Schedule == nil || job.Run == nil {
		return apperr.NewInvalidInput("job needs a name, a schedule and a run function")
	}
	if job.Schedule.Period() <= 0 {
		return apperr.NewInvalidInput(fmt.Sprintf("job %s has a non-positive period", job.Name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return apperr.NewInvalidInput(fmt.Sprintf("job %s already registered", job.Name))
	}
	st := &jobState{job: job}
	if s.loaded {
		st.next = job.Schedule.First(s.now())
	}
	s.jobs[job.Name] = st
	s.order = append(s.order, job.Name)
	return nil
}

// Load reads the run ledger and computes each job's next run. Run calls it;
// it is exported for callers that only use RunNow.
func (s *Scheduler) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT name, last_started_at, last_finished_at, last_error FROM job_runs")
	if err != nil {
		return apperr.FromStorage("loading job runs", err)
	}
	type run struct {
		started, finished time.Time
		errText           string
	}
	runs := make(map[string]run)
	for rows.Next() {
		var (
			name              string
			started, finished sql.NullInt64
			errText           string
		)
		if err := rows.Scan(&name, &started, &finished, &errText); err != nil {
			rows.Close()
			return apperr.FromStorage("loading job runs", err)
		}
		r := run{errText: errText}
		if started.Valid {
			r.started = db.FromMillis(started.Int64)
		}
		if finished.Valid {
			r.finished = db.FromMillis(finished.Int64)
		}
		runs[name] = r
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return apperr.FromStorage("loading job runs", err)
	}
	rows.Close()

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.jobs {
		r, ok := runs[st.job.Name]
		if ok && !r.started.IsZero() {
			st.lastStarted, st.lastFinished, st.lastErr = r.started, r.finished, r.errText
			st.next = st.job.Schedule.Next(r.started)
		} else {
			st.next = st.job.Schedule.First(now)
		}
	}
	s.loaded = true
	return nil
}

// Run loads the ledger and ticks until ctx is done, then waits for running
// jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.order)), zap.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts every due job that is not already running. A job whose last
// run is more than one period overdue logs a missed window and runs once to
// catch up.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*jobState
	for _, name := range s.order {
		st := s.jobs[name]
		if st.next.IsZero() || now.Before(st.next) {
			continue
		}
		if !st.running.CompareAndSwap(false, true) {
			continue
		}
		period := st.job.Schedule.Period()
		if late := now.Sub(st.next); late >= period {
			missed := int(late / period)
			s.logger.Warn("scheduler missed window",
				zap.String("job", name),
				zap.Int("missed", missed),
				zap.Error(apperr.NewMissedWindow(name, missed)))
		}
		st.next = st.job.Schedule.Next(now)
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		s.wg.Add(1)
		go func(st *jobState) {
			defer s.wg.Done()
			defer st.running.Store(false)
			s.execute(ctx, st, now)
		}(st)
	}
}

// RunNow runs the named job synchronously. It fails with ConflictDetected
// when the job is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return apperr.NewEntityNotFound("job", name)
	}
	if !st.running.CompareAndSwap(false, true) {
		return apperr.NewConflict("job", name)
	}
	defer st.running.Store(false)

	now := s.now()
	s.mu.Lock()
	st.next = st.job.Schedule.Next(now)
	s.mu.Unlock()
	return s.execute(ctx, st, now)
}

func (s *Scheduler) execute(ctx context.Context, st *jobState, started time.Time) error {
	name := st.job.Name
	s.mu.Lock()
	st.lastStarted = started
	s.mu.Unlock()
	s.record(ctx, name, started, nil, "")
	s.logger.Debug("job started", zap.String("job", name))

	err := s.invoke(ctx, st.job)
	finished := s.now()
	errText := ""
	if err != nil {
		errText = err.Error()
		s.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
	} else {
		s.logger.Debug("job finished", zap.String("job", name), zap.Duration("took", finished.Sub(started)))
	}

	s.mu.Lock()
	st.lastFinished, st.lastErr = finished, errText
	s.mu.Unlock()
	s.record(context.WithoutCancel(ctx), name, started, &finished, errText)
	return err
}

// invoke converts a panicking job into an error so one bad job cannot take
// down the loop.
func (s *Scheduler) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) record(ctx context.Context, name string, started time.Time, finished *time.Time, errText string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (name, last_started_at, last_finished_at, last_error) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_started_at = excluded.last_started_at,
			last_finished_at = COALESCE(excluded.last_finished_at, job_runs.last_finished_at),
			last_error = excluded.last_error`,
		name, db.Millis(started), db.NullMillis(finished), errText)
	if err != nil {
		s.logger.Warn("recording job run", zap.String("job", name), zap.Error(err))
	}
}

// Jobs reports every registered job.
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		st := s.jobs[name]
		out = append(out, Status{
			Name:         name,
			Next:         st.next,
			LastStarted:  st.lastStarted,
			LastFinished: st.lastFinished,
			LastError:    st.lastErr,
			Running:      st.running.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names lists registered job names in registration order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

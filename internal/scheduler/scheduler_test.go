package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/governor"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	sched *Scheduler
	db    *db.DB
	clock *clock.Manual
	logs  *observer.ObservedLogs
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	core, logs := observer.New(zapcore.DebugLevel)
	clk := clock.NewManual(t0)
	s := New(database, Options{Clock: clk, Logger: zap.New(core)})
	return &fixture{sched: s, db: database, clock: clk, logs: logs}
}

func counter(n *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestEveryRunsOncePerInterval(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	var runs atomic.Int32
	require.NoError(t, f.sched.Register(Job{Name: "flush", Schedule: Every(time.Minute), Run: counter(&runs)}))
	require.NoError(t, f.sched.Load(ctx))

	f.sched.Tick(ctx)
	f.sched.wg.Wait()
	assert.Equal(t, int32(1), runs.Load())

	f.clock.Advance(30 * time.Second)
	f.sched.Tick(ctx)
	f.sched.wg.Wait()
	assert.Equal(t, int32(1), runs.Load())

	f.clock.Advance(30 * time.Second)
	f.sched.Tick(ctx)
	f.sched.wg.Wait()
	assert.Equal(t, int32(2), runs.Load())
	assert.Empty(t, f.logs.FilterMessage("scheduler missed window").All())
}

func TestRegisterValidates(t *testing.T) {
	f := setupTest(t)
	job := Job{Name: "a", Schedule: Every(time.Minute), Run: func(context.Context) error { return nil }}
	require.NoError(t, f.sched.Register(job))
	assert.True(t, apperr.Is(f.sched.Register(job), apperr.InvalidInput))
	assert.True(t, apperr.Is(f.sched.Register(Job{Name: "b"}), apperr.InvalidInput))
	assert.True(t, apperr.Is(f.sched.Register(Job{Name: "c", Schedule: Every(0), Run: job.Run}), apperr.InvalidInput))
}

func TestJobNeverOverlapsItself(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs atomic.Int32
	require.NoError(t, f.sched.Register(Job{Name: "scan", Schedule: Every(time.Second), Run: func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}}))
	require.NoError(t, f.sched.Load(ctx))

	f.sched.Tick(ctx)
	<-started
	f.clock.Advance(5 * time.Second)
	f.sched.Tick(ctx)
	assert.True(t, apperr.Is(f.sched.RunNow(ctx, "scan"), apperr.ConflictDetected))
	close(release)
	f.sched.wg.Wait()
	assert.Equal(t, int32(1), runs.Load())

	assert.True(t, apperr.Is(f.sched.RunNow(ctx, "missing"), apperr.EntityNotFound))
}

func TestMissedWindowCatchesUpOnce(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	_, err := f.db.ExecContext(ctx, "INSERT INTO job_runs (name, last_started_at, last_finished_at) VALUES (?, ?, ?)",
		"stall.scan", db.Millis(t0.Add(-3*time.Hour)), db.Millis(t0.Add(-3*time.Hour)))
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, f.sched.Register(Job{Name: "stall.scan", Schedule: Every(time.Hour), Run: counter(&runs)}))
	require.NoError(t, f.sched.Load(ctx))
	assert.Equal(t, t0.Add(-2*time.Hour), f.sched.Jobs()[0].Next)

	f.sched.Tick(ctx)
	f.sched.wg.Wait()
	f.sched.Tick(ctx)
	f.sched.wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
	missed := f.logs.FilterMessage("scheduler missed window").All()
	require.Len(t, missed, 1)
	assert.Equal(t, t0.Add(time.Hour), f.sched.Jobs()[0].Next)
}

func TestLedgerSurvivesRestart(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	boom := errors.New("boom")
	job := Job{Name: "memory.compress", Schedule: Every(24 * time.Hour), Run: func(context.Context) error { return boom }}
	require.NoError(t, f.sched.Register(job))
	require.NoError(t, f.sched.Load(ctx))
	assert.ErrorIs(t, f.sched.RunNow(ctx, job.Name), boom)

	again := New(f.db, Options{Clock: f.clock})
	require.NoError(t, again.Register(job))
	require.NoError(t, again.Load(ctx))
	st := again.Jobs()[0]
	assert.Equal(t, t0, st.LastStarted)
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, t0.Add(24*time.Hour), st.Next)
}

func TestPanickingJobIsContained(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	require.NoError(t, f.sched.Register(Job{Name: "bad", Schedule: Every(time.Minute), Run: func(context.Context) error {
		panic("nil map")
	}}))
	require.NoError(t, f.sched.Load(ctx))
	err := f.sched.RunNow(ctx, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestDailyAt(t *testing.T) {
	d := DailyAt{Hour: 8, Location: time.UTC}
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), d.First(t0))
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), d.First(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), d.Next(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), d.Next(time.Date(2026, 3, 2, 8, 0, 1, 0, time.UTC)))
	assert.Equal(t, 24*time.Hour, d.Period())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := setupTest(t)
	var runs atomic.Int32
	require.NoError(t, f.sched.Register(Job{Name: "tick", Schedule: Every(time.Hour), Run: counter(&runs)}))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, f.sched.Run(ctx))
	}()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}

type submitted struct {
	mu    sync.Mutex
	items []governor.Item
}

func (s *submitted) Submit(_ context.Context, items ...governor.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

type countingPublisher struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *countingPublisher) Publish(eventType string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int{}
	}
	c.n[eventType]++
}

func TestReminderCatchUpAfterDowntime(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	entities := entity.NewStore(f.db, f.clock)
	for _, at := range []time.Time{t0.Add(-26 * time.Hour), t0.Add(-2 * time.Hour), t0} {
		_, err := entities.CreateReminder(ctx, entity.Reminder{Message: "Stretch", TriggerTime: at})
		require.NoError(t, err)
	}
	daily, err := entities.CreateReminder(ctx, entity.Reminder{
		Message: "Pills", TriggerTime: t0.Add(-time.Hour), Recurrence: entity.RecurDaily,
	})
	require.NoError(t, err)
	_, err = entities.CreateReminder(ctx, entity.Reminder{Message: "Later", TriggerTime: t0.Add(time.Hour)})
	require.NoError(t, err)

	pub := &countingPublisher{}
	out := &submitted{}
	firer := NewReminderFirer(entities, f.clock, nil, pub, out)
	n, err := firer.FireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, pub.n[events.ReminderDue])
	require.Len(t, out.items, 4)
	assert.Equal(t, governor.KindReminder, out.items[0].Kind)

	n, err = firer.FireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	upcoming, err := entities.QueryReminders(ctx, entity.ReminderFilter{TaskRef: "", Fired: ptr(false)})
	require.NoError(t, err)
	var next *entity.Reminder
	for i := range upcoming {
		if upcoming[i].Message == "Pills" {
			next = &upcoming[i]
		}
	}
	require.NotNil(t, next, "recurring reminder schedules its next occurrence")
	assert.Equal(t, daily.TriggerTime.Add(24*time.Hour), next.TriggerTime)
}

func ptr[T any](v T) *T { return &v }

func TestJobRoutes(t *testing.T) {
	f := setupTest(t)
	var runs atomic.Int32
	require.NoError(t, f.sched.Register(Job{Name: "stall.scan", Schedule: Every(time.Hour), Run: counter(&runs)}))
	require.NoError(t, f.sched.Load(context.Background()))
	r := chi.NewRouter()
	RegisterRoutes(r, f.sched)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs/stall.scan/run", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int32(1), runs.Load())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs/nope/run", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/", nil))
	assert.Contains(t, w.Body.String(), `"stall.scan"`)
}

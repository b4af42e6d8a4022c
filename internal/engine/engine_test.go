package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/cadence/internal/capture"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/embeddings"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/governor"
	"github.com/ziadkadry99/cadence/internal/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type collector struct {
	mu   sync.Mutex
	seen []events.Event
}

func (c *collector) run(sub *events.Subscription) {
	for e := range sub.C {
		c.mu.Lock()
		c.seen = append(c.seen, e)
		c.mu.Unlock()
	}
}

func (c *collector) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.seen {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	engine *Engine
	clock  *clock.Manual
	events *collector
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	clk := clock.NewManual(t0)
	e, err := New(cfg, database, Options{
		Clock:    clk,
		Embedder: embeddings.NewHashEmbedder(64),
		Location: time.UTC,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.Load(context.Background()))

	sub, err := e.Bus.Subscribe("*", 256)
	require.NoError(t, err)
	c := &collector{}
	go c.run(sub)
	return &fixture{engine: e, clock: clk, events: c}
}

func TestRegistersEveryJob(t *testing.T) {
	f := setupTest(t)
	assert.ElementsMatch(t, []string{
		JobFlushSpill, JobArchiveStale, JobFireReminders, JobSilence, JobCheckpoint, JobPurgeContext,
		JobStallScan, JobMemoryFlush, JobMemoryCompress, JobMemoryPrune, JobFactDecay,
		JobPersistIndex, JobGovernorDrain, JobMorning,
	}, f.engine.Scheduler.Names())
	assert.Equal(t, "none", f.engine.ProviderName())
}

func TestCapturedReminderFiresThroughGovernor(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	res, err := f.engine.Capture.Capture(ctx, "Remind me to stretch in 20 minutes", "")
	require.NoError(t, err)
	assert.Equal(t, capture.PolicyDirect, res.Policy)

	require.NoError(t, f.engine.Scheduler.RunNow(ctx, JobFireReminders))
	assert.Zero(t, f.events.count(events.ReminderDue))

	f.clock.Advance(21 * time.Minute)
	require.NoError(t, f.engine.Scheduler.RunNow(ctx, JobFireReminders))
	require.Eventually(t, func() bool {
		return f.events.count(events.ReminderDue) == 1 && f.events.count(events.PromptDelivered) == 1
	}, time.Second, 5*time.Millisecond)

	st := f.engine.Governor.Status()
	assert.Equal(t, 1, st.SentToday)
	assert.Empty(t, st.Pending)
}

func TestStallScanQueuesForGovernor(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	_, err := f.engine.Entities.CreateTask(ctx, entity.Task{Title: "Renew passport"})
	require.NoError(t, err)

	f.clock.Advance(4 * 24 * time.Hour)
	require.NoError(t, f.engine.Scheduler.RunNow(ctx, JobStallScan))

	cands, _ := f.engine.Stalls.Candidates()
	require.Len(t, cands, 1)
	require.Eventually(t, func() bool {
		return f.events.count(events.StallDetected) == 1 && f.events.count(events.PromptDelivered) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMorningBriefing(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	b, dec, err := f.engine.MorningBriefing(ctx)
	require.NoError(t, err)
	assert.True(t, b.Empty())
	assert.Nil(t, dec)

	today := t0.Add(6 * time.Hour)
	tomorrow := t0.Add(30 * time.Hour)
	nextWeek := t0.Add(7 * 24 * time.Hour)
	_, err = f.engine.Entities.CreateTask(ctx, entity.Task{Title: "File expenses", DueDate: &today})
	require.NoError(t, err)
	_, err = f.engine.Entities.CreateTask(ctx, entity.Task{Title: "Plan offsite", DueDate: &nextWeek})
	require.NoError(t, err)
	_, err = f.engine.Entities.CreateCommitment(ctx, entity.Commitment{What: "Send slides", ToWhom: "Dana", DueBy: &tomorrow})
	require.NoError(t, err)
	_, err = f.engine.Entities.CreateReminder(ctx, entity.Reminder{Message: "Standup", TriggerTime: t0.Add(time.Hour)})
	require.NoError(t, err)

	b, dec, err = f.engine.MorningBriefing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", b.Date)
	require.Len(t, b.Tasks, 1)
	assert.Equal(t, "File expenses", b.Tasks[0].Title)
	assert.Len(t, b.Commitments, 1)
	assert.Len(t, b.Reminders, 1)
	assert.Equal(t, "Today: 1 task due, 1 reminder, 1 commitment coming up", b.Headline())

	require.NotNil(t, dec)
	assert.Equal(t, governor.OutcomeDelivered, dec.Outcome)
	require.NotNil(t, dec.Prompt)
	assert.Equal(t, governor.KindBriefing, dec.Prompt.Kind)
	require.Eventually(t, func() bool { return f.events.count(events.BriefingReady) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunFlushesWorkingMemoryOnStop(t *testing.T) {
	f := setupTest(t)
	_, err := f.engine.Memory.RecordEpisode(context.Background(), memory.Episode{
		Type: memory.EpisodeDecision, Summary: "Chose the blue logo", Importance: 0.6,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	eps, err := f.engine.Memory.QueryEpisodes(context.Background(), memory.EpisodeQuery{Layers: []memory.Layer{memory.LayerRecent}})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "Chose the blue logo", eps[0].Episode.Summary)
}

func TestRunWithCancelledContextStillFlushes(t *testing.T) {
	f := setupTest(t)
	_, err := f.engine.Memory.RecordEpisode(context.Background(), memory.Episode{
		Type: memory.EpisodeDecision, Summary: "Moved standup to 10am", Importance: 0.5,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.engine.Run(ctx))

	eps, err := f.engine.Memory.QueryEpisodes(context.Background(), memory.EpisodeQuery{Layers: []memory.Layer{memory.LayerRecent}})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "Moved standup to 10am", eps[0].Episode.Summary)
}

func TestLoadErrorIsLabelledOnce(t *testing.T) {
	f := setupTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.engine.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), "loading governor state"))
}

func TestRoutesMounted(t *testing.T) {
	f := setupTest(t)
	r := chi.NewRouter()
	f.engine.RegisterRoutes(r)

	for _, path := range []string{"/api/briefing", "/api/tasks/", "/api/governor/", "/api/stalls/", "/api/jobs/", "/api/context/"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

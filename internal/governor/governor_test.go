package governor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordedEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordedEvents) Publish(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordedEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	gov      *Governor
	entities *entity.Store
	db       *db.DB
	clock    *clock.Manual
	events   *recordedEvents
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	f := &fixture{db: database, clock: clock.NewManual(t0), events: &recordedEvents{}}
	f.entities = entity.NewStore(database, f.clock)
	f.gov = f.newGovernor()
	return f
}

func (f *fixture) newGovernor() *Governor {
	return New(f.db, f.entities, Options{
		Config:    config.DefaultConfig().Governor,
		Intensity: config.IntensityModerate,
		Clock:     f.clock,
		Events:    f.events,
		Location:  time.UTC,
	})
}

func stallItem(ref string) Item {
	return Item{Ref: ref, Kind: KindStall, ContextKey: "stall", Text: "stalled " + ref}
}

func drainOne(t *testing.T, g *Governor) Decision {
	t.Helper()
	decisions, err := g.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	return decisions[0]
}

func TestShapeFor(t *testing.T) {
	cases := []struct {
		n     int
		force bool
		want  Shape
	}{
		{0, false, ShapeSilent},
		{0, true, ShapeSilent},
		{1, false, ShapeInline},
		{2, false, ShapeInline},
		{3, false, ShapeOfferList},
		{5, false, ShapeOfferList},
		{6, false, ShapeListMode},
		{40, false, ShapeListMode},
		{4, true, ShapeFull},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ShapeFor(c.n, c.force), "n=%d force=%v", c.n, c.force)
	}
}

func TestActivateErrandContext(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	task, err := f.entities.CreateTask(ctx, entity.Task{Title: "Buy batteries", ContextTags: []string{"errands:Superstore"}})
	require.NoError(t, err)
	_, err = f.entities.CreateTask(ctx, entity.Task{Title: "Pick up prescription", ContextTags: []string{"errands:Pharmacy"}})
	require.NoError(t, err)

	d, err := f.gov.Activate(ctx, "errands:Superstore", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, d.Outcome)
	require.NotNil(t, d.Prompt)
	assert.Equal(t, ShapeInline, d.Prompt.Shape)
	require.Len(t, d.Prompt.Items, 1)
	assert.Equal(t, task.Ref().String(), d.Prompt.Items[0].Ref)
	assert.Equal(t, 1, f.events.count(events.PromptDelivered))

	d, err = f.gov.Activate(ctx, "errands:Hardware", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSilent, d.Outcome)
	assert.Nil(t, d.Prompt)
	assert.Equal(t, 1, f.events.count(events.PromptDelivered), "an empty context emits nothing")
	assert.Empty(t, f.gov.Status().Pending)
}

func TestActivateForceEnumerates(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.entities.CreateTask(ctx, entity.Task{Title: fmt.Sprintf("Item %d", i), ContextTags: []string{"errands:Superstore"}})
		require.NoError(t, err)
	}
	d, err := f.gov.Activate(ctx, "errands:*", true)
	require.NoError(t, err)
	require.NotNil(t, d.Prompt)
	assert.Equal(t, ShapeFull, d.Prompt.Shape)
	assert.Equal(t, 4, d.Prompt.Count)
}

func TestDailyCapIsNeverExceeded(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, f.gov.Submit(ctx, Item{
			Ref: fmt.Sprintf("task:%02d", i), Kind: KindStall, ContextKey: fmt.Sprintf("key-%02d", i), Text: "x",
		}))
	}

	delivered := 0
	for step := 0; step < 7; step++ {
		decisions, err := f.gov.Drain(ctx)
		require.NoError(t, err)
		for _, d := range decisions {
			if d.Outcome == OutcomeDelivered {
				delivered++
			}
		}
		f.clock.Advance(2 * time.Hour)
	}
	// 09:00 through 21:00 on the same day: six slots, then the cap.
	assert.Equal(t, 6, delivered)
	assert.Equal(t, 6, f.gov.Status().SentToday)
	assert.Len(t, f.gov.Status().Pending, 14)

	f.clock.Set(time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC))
	decisions, err := f.gov.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, decisions[0].Outcome)
	assert.Equal(t, 1, f.gov.Status().SentToday)
}

func TestSpacingKeepsItemPending(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:a")))
	assert.Equal(t, OutcomeDelivered, drainOne(t, f.gov).Outcome)

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:b")))
	d := drainOne(t, f.gov)
	assert.Equal(t, OutcomeSpacing, d.Outcome)
	assert.Equal(t, 1, d.Pending)

	f.clock.Advance(time.Hour)
	d = drainOne(t, f.gov)
	assert.Equal(t, OutcomeDelivered, d.Outcome)
	assert.Equal(t, "task:b", d.Prompt.Items[0].Ref)
}

func TestDedupCooldown(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:a")))
	drainOne(t, f.gov)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:a")))
	d := drainOne(t, f.gov)
	assert.Equal(t, OutcomeSilent, d.Outcome)
	assert.Equal(t, []string{"task:a"}, d.Suppressed)
	assert.Empty(t, f.gov.Status().Pending, "dedup-suppressed items are dropped")

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:a")))
	assert.Equal(t, OutcomeDelivered, drainOne(t, f.gov).Outcome)
}

func TestSnoozeAndPause(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	until, err := f.gov.Snooze(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour), until)
	again, err := f.gov.Snooze(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, until, again)
	require.NoError(t, f.gov.Pause(ctx, "task:b"))

	require.NoError(t, f.gov.Submit(ctx, stallItem("task:a"), stallItem("task:b"), stallItem("task:c")))
	d := drainOne(t, f.gov)
	require.Equal(t, OutcomeDelivered, d.Outcome)
	assert.Equal(t, 1, d.Prompt.Count)
	assert.Equal(t, "task:c", d.Prompt.Items[0].Ref)
	assert.ElementsMatch(t, []string{"task:a", "task:b"}, d.Suppressed)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:a"), stallItem("task:b")))
	d = drainOne(t, f.gov)
	require.Equal(t, OutcomeDelivered, d.Outcome)
	assert.Equal(t, "task:a", d.Prompt.Items[0].Ref)
	assert.Equal(t, []string{"task:b"}, d.Suppressed)

	require.NoError(t, f.gov.Resume(ctx, "task:b"))
	assert.Empty(t, f.gov.Status().Paused)

	_, err = f.gov.Snooze(ctx, "", time.Hour)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestQuietModeOverridesEverything(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	require.NoError(t, f.gov.SetQuiet(ctx, true))
	require.NoError(t, f.gov.Submit(ctx, Item{Kind: KindBriefing, ContextKey: "briefing", Text: "Good morning"}))

	d := drainOne(t, f.gov)
	assert.Equal(t, OutcomeQuiet, d.Outcome)
	assert.Zero(t, f.events.count(events.PromptDelivered))

	require.NoError(t, f.gov.SetQuiet(ctx, false))
	d = drainOne(t, f.gov)
	assert.Equal(t, OutcomeDelivered, d.Outcome)
	assert.Equal(t, 1, f.events.count(events.BriefingReady))
}

func TestRepeatedActivationWhileQuietQueuesOnce(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	_, err := f.entities.CreateTask(ctx, entity.Task{Title: "Buy batteries", ContextTags: []string{"errands:Superstore"}})
	require.NoError(t, err)
	require.NoError(t, f.gov.SetQuiet(ctx, true))

	for i := 0; i < 3; i++ {
		d, err := f.gov.Activate(ctx, "errands:Superstore", false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeQuiet, d.Outcome)
	}
	require.Len(t, f.gov.Status().Pending, 1)

	require.NoError(t, f.gov.SetQuiet(ctx, false))
	d := drainOne(t, f.gov)
	require.NotNil(t, d.Prompt)
	assert.Equal(t, ShapeInline, d.Prompt.Shape)
	assert.Equal(t, 1, d.Prompt.Count)
}

func TestOlderSnapshotNeverOverwritesNewer(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()

	// A Submit whose write is delayed past a Drain that already delivered.
	f.gov.mu.Lock()
	f.gov.rollDayLocked(t0)
	f.gov.pending = append(f.gov.pending, stallItem("task:a"))
	older := f.gov.snapshotLocked(t0)
	f.gov.pending = nil
	f.gov.sent.Store(1)
	newer := f.gov.snapshotLocked(t0)
	f.gov.mu.Unlock()

	require.NoError(t, f.gov.save(ctx, newer, t0))
	require.NoError(t, f.gov.save(ctx, older, t0))

	g := f.newGovernor()
	require.NoError(t, g.Load(ctx))
	st := g.Status()
	assert.Empty(t, st.Pending)
	assert.Equal(t, 1, st.SentToday)
}

func TestMergeByContextKey(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, f.gov.Submit(ctx, stallItem(fmt.Sprintf("task:%d", i))))
	}
	d := drainOne(t, f.gov)
	require.NotNil(t, d.Prompt)
	assert.Equal(t, ShapeListMode, d.Prompt.Shape)
	assert.Equal(t, 7, d.Prompt.Count)
	assert.Equal(t, 1, f.gov.Status().SentToday)

	// Resubmitting the same ref replaces rather than duplicates.
	f.clock.Advance(5 * time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.gov.Submit(ctx, stallItem("task:x")))
	}
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:y"), stallItem("task:z")))
	d = drainOne(t, f.gov)
	assert.Equal(t, ShapeOfferList, d.Prompt.Shape)
}

func TestStatePersists(t *testing.T) {
	f := setupTest(t)
	ctx := context.Background()
	_, err := f.gov.SetIntensity(ctx, config.IntensityHeavy)
	require.NoError(t, err)
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:a")))
	drainOne(t, f.gov)
	require.NoError(t, f.gov.SetQuiet(ctx, true))
	require.NoError(t, f.gov.Submit(ctx, stallItem("task:b")))

	g := f.newGovernor()
	require.NoError(t, g.Load(ctx))
	st := g.Status()
	assert.Equal(t, config.IntensityHeavy, st.Profile.Level)
	assert.Equal(t, 2, g.StallThresholds().Task)
	assert.True(t, st.Quiet)
	assert.Equal(t, 1, st.SentToday)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, "task:b", st.Pending[0].Ref)

	_, err = g.SetIntensity(ctx, "frantic")
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestGovernorRoutes(t *testing.T) {
	f := setupTest(t)
	_, err := f.entities.CreateTask(context.Background(), entity.Task{Title: "Buy milk", ContextTags: []string{"errands:Superstore"}})
	require.NoError(t, err)
	r := chi.NewRouter()
	RegisterRoutes(r, f.gov)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPut, "/api/governor/intensity", `{"level":"light"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPut, "/api/governor/intensity", `{"level":"max"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/governor/quiet", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/governor/snooze", `{"ref":"task:a","duration":"soon"}`).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/governor/snooze", `{"ref":"task:a","duration":"2h"}`).Code)

	w := do(http.MethodPost, "/api/governor/activate", `{"context_key":"errands:superstore"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"inline"`)

	w = do(http.MethodGet, "/api/governor/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sent_today":1`)
}

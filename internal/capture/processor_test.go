package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/memory"
)

type recordedEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordedEvents) Publish(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

func (r *recordedEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

type stubExtractor struct {
	ext *Extraction
	err error
}

func (s stubExtractor) Extract(context.Context, string, time.Time) (*Extraction, error) {
	if s.err != nil {
		return nil, s.err
	}
	ext := *s.ext
	return &ext, nil
}

type fixture struct {
	proc     *Processor
	entities *entity.Store
	mem      *memory.Store
	db       *db.DB
	clock    *clock.Manual
	events   *recordedEvents
}

func setupTest(t *testing.T, extractor Extractor) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clk := clock.NewManual(t0)
	entities := entity.NewStore(database, clk)
	mem := memory.NewStore(database, memory.Options{Clock: clk, Active: entities})
	rec := &recordedEvents{}
	proc := NewProcessor(entities, Options{
		Clock:         clk,
		Extractor:     extractor,
		Memory:        mem,
		Events:        rec,
		Location:      time.UTC,
		RetryInterval: time.Millisecond,
	})
	return &fixture{proc: proc, entities: entities, mem: mem, db: database, clock: clk, events: rec}
}

func (f *fixture) episodes(t *testing.T, typ memory.EpisodeType) []memory.ScoredEpisode {
	t.Helper()
	eps, err := f.mem.QueryEpisodes(context.Background(), memory.EpisodeQuery{Types: []memory.EpisodeType{typ}})
	require.NoError(t, err)
	return eps
}

func TestCaptureReminderScenario(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "Remind me to call mom tomorrow at 3pm", "")
	require.NoError(t, err)
	assert.Equal(t, PolicyDirect, res.Policy)
	require.NotNil(t, res.Entity)
	assert.Equal(t, entity.KindReminder, res.Entity.Kind)

	assert.True(t, res.Capture.Processed)
	require.NotNil(t, res.Capture.ConvertedTo)
	assert.Equal(t, *res.Entity, *res.Capture.ConvertedTo)
	assert.False(t, res.Capture.PendingConfirmation)

	r, err := f.entities.GetReminder(ctx, res.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Call mom", r.Message)
	assert.Equal(t, time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC), r.TriggerTime)
	assert.Equal(t, 1, f.events.count(events.CaptureRecorded))
}

func TestCaptureReminderUsesLocalWallClock(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()
	mst := time.FixedZone("MST", -7*60*60)
	f.proc.loc = mst
	f.clock.Set(time.Date(2026, 3, 2, 10, 0, 0, 0, mst))

	res, err := f.proc.Capture(ctx, "Remind me to call mom tomorrow at 3pm", "")
	require.NoError(t, err)
	require.NotNil(t, res.Entity)

	r, err := f.entities.GetReminder(ctx, res.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 3, 22, 0, 0, 0, time.UTC), r.TriggerTime)
	assert.Equal(t, time.UTC, res.Capture.Timestamp.Location())
}

func TestCaptureTaskEmitsEventAndEpisode(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	proj, err := f.entities.CreateProject(ctx, entity.Project{Name: "Bathroom renovation"})
	require.NoError(t, err)

	res, err := f.proc.Capture(ctx, "I need to order tiles for the bathroom project", "")
	require.NoError(t, err)
	require.NotNil(t, res.Entity)
	task, err := f.entities.GetTask(ctx, res.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Order tiles", task.Title)
	assert.Equal(t, proj.ID, task.ProjectRef)
	assert.Equal(t, 1, f.events.count(events.TaskCreated))

	eps := f.episodes(t, memory.EpisodeConversation)
	require.Len(t, eps, 1)
	assert.Equal(t, task.ID, eps[0].Episode.TaskRef)
	assert.Equal(t, proj.ID, eps[0].Episode.ProjectRef)
}

func TestCaptureCommitmentRecordsEpisode(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "I promised Sam I'd send the deck by friday", "")
	require.NoError(t, err)
	require.NotNil(t, res.Entity)
	assert.Equal(t, entity.KindCommitment, res.Entity.Kind)

	c, err := f.entities.GetCommitment(ctx, res.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sam", c.ToWhom)
	require.NotNil(t, c.DueBy)

	eps := f.episodes(t, memory.EpisodeCommitmentMade)
	require.Len(t, eps, 1)
	assert.Equal(t, []string{"Sam"}, eps[0].Episode.People)
	assert.Equal(t, 0.7, eps[0].Episode.Importance)
}

func TestConfirmTierAndRejection(t *testing.T) {
	f := setupTest(t, stubExtractor{ext: &Extraction{Intent: IntentTask, Action: "Book dentist", Confidence: 0.8}})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "dentist thing", "")
	require.NoError(t, err)
	assert.Equal(t, PolicyConfirm, res.Policy)
	assert.True(t, res.NeedsConfirmation)
	assert.True(t, res.Capture.PendingConfirmation)
	taskID := res.Entity.ID
	assert.Zero(t, f.events.count(events.TaskCreated))
	assert.Empty(t, f.episodes(t, memory.EpisodeConversation))

	c, err := f.proc.Confirm(ctx, res.Capture.ID, false)
	require.NoError(t, err)
	assert.False(t, c.Processed)
	assert.Nil(t, c.ConvertedTo)
	assert.Equal(t, "dentist thing", c.RawText)

	_, err = f.entities.GetTask(ctx, taskID)
	assert.True(t, apperr.Is(err, apperr.EntityNotFound))

	queue, err := f.proc.Triage(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, entity.TriageRejected, queue[0].TriageReason)
	assert.Zero(t, f.events.count(events.TaskCreated))
	assert.Empty(t, f.episodes(t, memory.EpisodeConversation))
}

func TestConfirmYesFinalizes(t *testing.T) {
	f := setupTest(t, stubExtractor{ext: &Extraction{Intent: IntentReminder, Action: "Stretch", Confidence: 0.75}})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "stretch later", "")
	require.NoError(t, err)
	require.True(t, res.NeedsConfirmation)

	c, err := f.proc.Confirm(ctx, res.Capture.ID, true)
	require.NoError(t, err)
	assert.True(t, c.Processed)
	assert.False(t, c.PendingConfirmation)

	// Without a parsed time the reminder falls back to the default offset.
	r, err := f.entities.GetReminder(ctx, res.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), r.TriggerTime)
	assert.Len(t, f.episodes(t, memory.EpisodeConversation), 1)
}

func TestConfirmYesAnnouncesTask(t *testing.T) {
	f := setupTest(t, stubExtractor{ext: &Extraction{
		Intent: IntentTask, Action: "Book dentist", Confidence: 0.8, ContextTags: []string{"Phone"},
	}})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "dentist thing", "")
	require.NoError(t, err)
	require.True(t, res.NeedsConfirmation)
	assert.Zero(t, f.events.count(events.TaskCreated))

	_, err = f.proc.Confirm(ctx, res.Capture.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.count(events.TaskCreated))

	eps := f.episodes(t, memory.EpisodeConversation)
	require.Len(t, eps, 1)
	assert.Equal(t, res.Entity.ID, eps[0].Episode.TaskRef)
	assert.Contains(t, eps[0].Episode.Topics, "phone")
}

func TestLowConfidenceGoesToTriage(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "hmm the thing with the fence", "garden")
	require.NoError(t, err)
	assert.Equal(t, PolicyTriage, res.Policy)
	assert.Nil(t, res.Entity)
	assert.False(t, res.Capture.Processed)

	queue, err := f.proc.Triage(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "hmm the thing with the fence", queue[0].RawText)
	assert.Equal(t, "garden", queue[0].ContextHint)
	assert.Equal(t, 1, f.events.count(events.CaptureTriaged))
}

func TestExtractionFailureKeepsRawText(t *testing.T) {
	f := setupTest(t, stubExtractor{err: errors.New("gateway timeout")})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "Remind me to renew the passport", "")
	require.NoError(t, err)
	assert.Equal(t, PolicyArchiveRaw, res.Policy)

	c, err := f.entities.GetCapture(ctx, res.Capture.ID)
	require.NoError(t, err)
	assert.Equal(t, "Remind me to renew the passport", c.RawText)
	assert.False(t, c.Processed)
	assert.Equal(t, entity.TriageExtractionFailed, c.TriageReason)
}

func TestConversionFailureKeepsRawText(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	// A blank action makes the task insert fail after the raw write.
	res, err := f.proc.ProcessClassified(ctx, Classified{
		Text:       "uh, the thing",
		Extraction: Extraction{Intent: IntentTask, Action: " ", Confidence: 0.95},
	})
	require.NoError(t, err)
	assert.Equal(t, PolicyTriage, res.Policy)

	c, err := f.entities.GetCapture(ctx, res.Capture.ID)
	require.NoError(t, err)
	assert.Equal(t, "uh, the thing", c.RawText)
	assert.False(t, c.Processed)
	assert.Equal(t, entity.TriageConversionFailed, c.TriageReason)
}

func TestRawWriteSpillsAndFlushes(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	_, err := f.db.Exec("ALTER TABLE captures RENAME TO captures_offline")
	require.NoError(t, err)

	res, err := f.proc.Capture(ctx, "I need to buy stamps", "")
	require.NoError(t, err)
	assert.True(t, res.Spilled)
	assert.Equal(t, "I need to buy stamps", res.Capture.RawText)
	assert.Equal(t, 1, f.proc.SpillCount())

	// Still offline: the flush keeps the capture.
	_, err = f.proc.FlushSpill(ctx)
	assert.True(t, apperr.Is(err, apperr.StorageUnavailable))
	assert.Equal(t, 1, f.proc.SpillCount())

	_, err = f.db.Exec("ALTER TABLE captures_offline RENAME TO captures")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	n, err := f.proc.FlushSpill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.proc.SpillCount())

	c, err := f.entities.GetCapture(ctx, res.Capture.ID)
	require.NoError(t, err)
	assert.Equal(t, t0, c.Timestamp)
	assert.True(t, c.Processed)
	require.NotNil(t, c.ConvertedTo)
	assert.Equal(t, entity.KindTask, c.ConvertedTo.Kind)
}

func TestBlankCaptureRejected(t *testing.T) {
	f := setupTest(t, nil)
	_, err := f.proc.Capture(context.Background(), "   ", "")
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestMarkDoneIsIdempotent(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	task, err := f.entities.CreateTask(ctx, entity.Task{Title: "File taxes"})
	require.NoError(t, err)

	done, changed, err := f.proc.MarkDone(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, entity.TaskDone, done.Status)

	done, changed, err = f.proc.MarkDone(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, entity.TaskDone, done.Status)

	assert.Len(t, f.episodes(t, memory.EpisodeTaskCompleted), 1)
	assert.Equal(t, 1, f.events.count(events.TaskCompleted))
}

func TestCompletionByReference(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	plumber, err := f.entities.CreateTask(ctx, entity.Task{Title: "Call the plumber"})
	require.NoError(t, err)
	_, err = f.entities.CreateTask(ctx, entity.Task{Title: "Call the electrician"})
	require.NoError(t, err)

	_, err = f.proc.CompleteByReference(ctx, "call")
	assert.True(t, apperr.Is(err, apperr.CaptureAmbiguous))
	_, err = f.proc.CompleteByReference(ctx, "walk the dog")
	assert.True(t, apperr.Is(err, apperr.EntityNotFound))

	res, err := f.proc.Capture(ctx, "Mark call the plumber as done", "")
	require.NoError(t, err)
	require.NotNil(t, res.Entity)
	assert.Equal(t, plumber.ID, res.Entity.ID)
	assert.True(t, res.Capture.Processed)

	got, err := f.entities.GetTask(ctx, plumber.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskDone, got.Status)
}

func TestAmbiguousCompletionIsTriaged(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	for _, title := range []string{"Call the plumber", "Call the electrician"} {
		_, err := f.entities.CreateTask(ctx, entity.Task{Title: title})
		require.NoError(t, err)
	}
	res, err := f.proc.Capture(ctx, "mark call as done", "")
	require.NoError(t, err)
	assert.Equal(t, PolicyTriage, res.Policy)
	assert.ElementsMatch(t, []string{"Call the plumber", "Call the electrician"}, res.Candidates)
	assert.False(t, res.Capture.Processed)
}

func TestResolveTriagedCapture(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "the fence", "")
	require.NoError(t, err)
	require.Equal(t, PolicyTriage, res.Policy)

	resolved, err := f.proc.Resolve(ctx, res.Capture.ID, Extraction{Intent: IntentTask, Action: "Fix the fence"})
	require.NoError(t, err)
	require.NotNil(t, resolved.Entity)
	assert.True(t, resolved.Capture.Processed)

	_, err = f.proc.Resolve(ctx, res.Capture.ID, Extraction{Intent: IntentTask, Action: "Fix the fence"})
	assert.True(t, apperr.Is(err, apperr.ConflictDetected))
}

func TestArchiveStaleCaptures(t *testing.T) {
	f := setupTest(t, nil)
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, "something about the garage", "")
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Minute)
	n, err := f.proc.ArchiveStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := f.entities.GetCapture(ctx, res.Capture.ID)
	require.NoError(t, err)
	assert.True(t, c.Processed)
	assert.Nil(t, c.ConvertedTo)
	assert.NotNil(t, c.ArchivedAt)
	assert.Equal(t, "something about the garage", c.RawText)
}

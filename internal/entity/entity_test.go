package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/db"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *clock.Manual) {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	clk := clock.NewManual(t0)
	return NewStore(database, clk), clk
}

func TestCreateAndGetTask(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	created, err := store.CreateTask(ctx, Task{Title: "  Write report ", ContextTags: []string{"work"}})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Write report", created.Title)
	assert.Equal(t, TaskPending, created.Status)
	assert.Equal(t, 1, created.Version)

	got, err := store.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, []string{"work"}, got.ContextTags)
	assert.True(t, got.LastTouched.Equal(t0))

	_, err = store.GetTask(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.EntityNotFound))

	_, err = store.CreateTask(ctx, Task{Title: "   "})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestQueryTasksDefaultOrder(t *testing.T) {
	store, clk := setupTestStore(t)
	ctx := context.Background()

	a, err := store.CreateTask(ctx, Task{Title: "a"})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	b, err := store.CreateTask(ctx, Task{Title: "b"})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	require.NoError(t, store.TouchTask(ctx, a.ID))

	tasks, err := store.QueryTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, a.ID, tasks[0].ID, "most recently touched first")
	assert.Equal(t, b.ID, tasks[1].ID)

	tasks, err = store.QueryTasks(ctx, TaskFilter{OrderBy: "title", Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, "a", tasks[0].Title)

	_, err = store.QueryTasks(ctx, TaskFilter{OrderBy: "raw_sql; DROP TABLE tasks"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestQueryTasksFilters(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	proj, err := store.CreateProject(ctx, Project{Name: "Garden"})
	require.NoError(t, err)
	due := t0.Add(48 * time.Hour)

	_, err = store.CreateTask(ctx, Task{Title: "Buy milk", ContextTags: []string{"errands:Superstore"}})
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, Task{Title: "Buy seeds", ContextTags: []string{"errands:Garden Centre"}, ProjectRef: proj.ID, DueDate: &due})
	require.NoError(t, err)
	done, err := store.CreateTask(ctx, Task{Title: "Pay rent", ContextTags: []string{"home"}})
	require.NoError(t, err)
	_, _, err = store.MarkTaskDone(ctx, done.ID)
	require.NoError(t, err)

	tasks, err := store.QueryTasks(ctx, TaskFilter{Tags: []string{"errands:*"}})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = store.QueryTasks(ctx, TaskFilter{Tags: []string{"ERRANDS:superstore"}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Buy milk", tasks[0].Title)

	tasks, err = store.QueryTasks(ctx, TaskFilter{ProjectRef: proj.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Buy seeds", tasks[0].Title)

	tasks, err = store.QueryTasks(ctx, TaskFilter{DueBefore: t0.Add(72 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = store.QueryTasks(ctx, TaskFilter{Statuses: []TaskStatus{TaskDone}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Pay rent", tasks[0].Title)
}

func TestMarkTaskDoneIdempotent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, Task{Title: "Call plumber"})
	require.NoError(t, err)

	first, changed, err := store.MarkTaskDone(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, TaskDone, first.Status)
	require.NotNil(t, first.CompletedAt)

	second, changed, err := store.MarkTaskDone(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, TaskDone, second.Status)
	assert.Equal(t, first.Version, second.Version)
}

func TestTaskTransitions(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, Task{Title: "Draft"})
	require.NoError(t, err)

	_, _, err = store.SetTaskStatus(ctx, task.ID, TaskInProgress)
	require.NoError(t, err)
	_, _, err = store.SetTaskStatus(ctx, task.ID, TaskDropped)
	require.NoError(t, err)

	_, _, err = store.SetTaskStatus(ctx, task.ID, TaskInProgress)
	assert.True(t, apperr.Is(err, apperr.InvalidInput), "dropped tasks must be revived to pending first")

	_, _, err = store.SetTaskStatus(ctx, task.ID, "archived")
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestCompareAndSetConflict(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, Task{Title: "Race"})
	require.NoError(t, err)

	// A writer that read version 1 loses to one that already bumped it.
	require.NoError(t, casUpdate(ctx, store.db, KindTask, "tasks", task.ID, 1, "priority = ?", 5))
	err = casUpdate(ctx, store.db, KindTask, "tasks", task.ID, 1, "priority = ?", 9)
	assert.True(t, apperr.Is(err, apperr.ConflictDetected))

	err = casUpdate(ctx, store.db, KindTask, "tasks", "missing", 1, "priority = ?", 9)
	assert.True(t, apperr.Is(err, apperr.EntityNotFound))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, 2, got.Version)
}

func TestStallDays(t *testing.T) {
	task := Task{Status: TaskPending, LastTouched: t0}

	days, ok := task.StallDays(t0.Add(3*24*time.Hour - time.Second))
	assert.True(t, ok)
	assert.Equal(t, 2, days)

	days, _ = task.StallDays(t0.Add(3 * 24 * time.Hour))
	assert.Equal(t, 3, days)

	task.Status = TaskBlocked
	_, ok = task.StallDays(t0.Add(30 * 24 * time.Hour))
	assert.False(t, ok)
}

func TestProjectTaskRefsAndLookup(t *testing.T) {
	store, clk := setupTestStore(t)
	ctx := context.Background()

	proj, err := store.CreateProject(ctx, Project{Name: "Kitchen Renovation", NextStep: "Get quotes"})
	require.NoError(t, err)
	task, err := store.CreateTask(ctx, Task{Title: "Measure cabinets"})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, err = store.AssignTaskToProject(ctx, task.ID, proj.ID)
	require.NoError(t, err)

	got, err := store.GetProject(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, got.TaskRefs)
	assert.True(t, got.LastTouched.Equal(t0.Add(time.Hour)))

	found, err := store.FindProjectByName(ctx, "the kitchen renovation")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, proj.ID, found.ID)

	found, err = store.FindProjectByName(ctx, "kitchen")
	require.NoError(t, err)
	require.NotNil(t, found)

	found, err = store.FindProjectByName(ctx, "garage")
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = store.AssignTaskToProject(ctx, task.ID, "missing")
	assert.True(t, apperr.Is(err, apperr.EntityNotFound))
}

func TestProjectStatusAndPatch(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	proj, err := store.CreateProject(ctx, Project{Name: "Thesis"})
	require.NoError(t, err)

	blockers := []string{"waiting on advisor"}
	next := "Email advisor"
	updated, err := store.UpdateProject(ctx, proj.ID, ProjectPatch{Blockers: &blockers, NextStep: &next})
	require.NoError(t, err)
	assert.Equal(t, blockers, updated.Blockers)
	assert.Equal(t, next, updated.NextStep)

	paused, err := store.SetProjectStatus(ctx, proj.ID, ProjectPaused)
	require.NoError(t, err)
	assert.Equal(t, ProjectPaused, paused.Status)

	_, err = store.SetProjectStatus(ctx, proj.ID, ProjectCompleted)
	require.NoError(t, err)
	active, err := store.IsActive(ctx, proj.Ref())
	require.NoError(t, err)
	assert.False(t, active)

	revived, err := store.SetProjectStatus(ctx, proj.ID, ProjectActive)
	require.NoError(t, err)
	assert.Equal(t, ProjectActive, revived.Status)
}

func TestMeasurementsSupersede(t *testing.T) {
	store, clk := setupTestStore(t)
	ctx := context.Background()

	proj, err := store.CreateProject(ctx, Project{Name: "Marathon"})
	require.NoError(t, err)

	first, err := store.RecordMeasurement(ctx, Measurement{ProjectRef: proj.ID, Label: "long run", Value: 12, Unit: "km"})
	require.NoError(t, err)
	assert.Empty(t, first.Supersedes)

	clk.Advance(24 * time.Hour)
	second, err := store.RecordMeasurement(ctx, Measurement{ProjectRef: proj.ID, Label: "long run", Value: 16, Unit: "km"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.Supersedes)

	_, err = store.RecordMeasurement(ctx, Measurement{ProjectRef: proj.ID, Label: "weight", Value: 70})
	require.NoError(t, err)

	latest, err := store.LatestMeasurements(ctx, proj.ID)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 16.0, latest[0].Value)

	history, err := store.MeasurementHistory(ctx, proj.ID, "long run")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 12.0, history[0].Value)
}

func TestCommitmentLifecycle(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	c, err := store.CreateCommitment(ctx, Commitment{What: "send the slides", ToWhom: "Priya"})
	require.NoError(t, err)
	assert.Equal(t, CommitmentPending, c.Status)
	assert.True(t, c.WhenMade.Equal(t0))

	newDue := t0.Add(72 * time.Hour)
	c, err = store.SetCommitmentStatus(ctx, c.ID, CommitmentRenegotiated, &newDue)
	require.NoError(t, err)
	require.NotNil(t, c.DueBy)
	assert.True(t, c.DueBy.Equal(newDue))

	c, err = store.SetCommitmentStatus(ctx, c.ID, CommitmentFulfilled, nil)
	require.NoError(t, err)
	assert.False(t, c.IsOpen())

	_, err = store.SetCommitmentStatus(ctx, c.ID, CommitmentPending, nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	list, err := store.QueryCommitments(ctx, CommitmentFilter{ToWhom: "priya"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFindOpenTasksByReference(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateTask(ctx, Task{Title: "Finish the quarterly report"})
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, Task{Title: "Call the bank"})
	require.NoError(t, err)

	matches, err := store.FindOpenTasksByReference(ctx, "the quarterly report")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Finish the quarterly report", matches[0].Title)

	matches, err = store.FindOpenTasksByReference(ctx, "I called the bank!")
	require.NoError(t, err)
	assert.Len(t, matches, 0, "containment needs the whole title or the whole reference")

	matches, err = store.FindOpenTasksByReference(ctx, "Call the bank.")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "quarterly report", Normalize("  The  Quarterly-Report!! "))
	assert.Equal(t, "report", Normalize("my the report"))
	assert.Equal(t, "", Normalize("?!"))
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("task:abc")
	require.NoError(t, err)
	assert.Equal(t, Ref{Kind: KindTask, ID: "abc"}, ref)
	assert.Equal(t, "task:abc", ref.String())

	_, err = ParseRef("widget:1")
	assert.Error(t, err)
	_, err = ParseRef("task:")
	assert.Error(t, err)
}

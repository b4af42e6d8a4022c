package entity

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/cadence/internal/apperr"
)

// Completer finishes a task. The engine supplies one that also records the
// completion episode; without it the store's MarkTaskDone is used.
type Completer interface {
	MarkDone(ctx context.Context, taskID string) (*Task, bool, error)
}

type storeCompleter struct{ store *Store }

func (c storeCompleter) MarkDone(ctx context.Context, id string) (*Task, bool, error) {
	return c.store.MarkTaskDone(ctx, id)
}

// RegisterRoutes mounts the entity store API routes.
func RegisterRoutes(r chi.Router, store *Store, completer Completer) {
	if completer == nil {
		completer = storeCompleter{store}
	}

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", handleListTasks(store))
		r.Post("/", handleCreateTask(store))
		r.Get("/{id}", handleGetTask(store))
		r.Patch("/{id}", handleUpdateTask(store))
		r.Post("/{id}/status", handleTaskStatus(store))
		r.Post("/{id}/done", handleTaskDone(completer))
		r.Post("/{id}/project", handleAssignProject(store))
	})
	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/", handleListProjects(store))
		r.Post("/", handleCreateProject(store))
		r.Get("/{id}", handleGetProject(store))
		r.Patch("/{id}", handleUpdateProject(store))
		r.Post("/{id}/status", handleProjectStatus(store))
		r.Get("/{id}/measurements", handleLatestMeasurements(store))
		r.Post("/{id}/measurements", handleRecordMeasurement(store))
		r.Get("/{id}/measurements/{label}", handleMeasurementHistory(store))
	})
	r.Route("/api/reminders", func(r chi.Router) {
		r.Get("/", handleListReminders(store))
		r.Post("/", handleCreateReminder(store))
		r.Get("/{id}", handleGetReminder(store))
		r.Post("/{id}/acknowledge", handleAcknowledgeReminder(store))
		r.Post("/{id}/snooze", handleSnoozeReminder(store))
	})
	r.Route("/api/commitments", func(r chi.Router) {
		r.Get("/", handleListCommitments(store))
		r.Post("/", handleCreateCommitment(store))
		r.Get("/{id}", handleGetCommitment(store))
		r.Post("/{id}/status", handleCommitmentStatus(store))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.NewInvalidInput("invalid request body")
	}
	return nil
}

func splitParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.NewInvalidInput(name + " must be RFC3339")
	}
	return t, nil
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func handleListTasks(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := TaskFilter{
			Tags:       splitParam(r, "tags"),
			ProjectRef: r.URL.Query().Get("project"),
			OrderBy:    r.URL.Query().Get("order"),
			Ascending:  r.URL.Query().Get("asc") == "true",
			Limit:      limitParam(r),
		}
		for _, st := range splitParam(r, "status") {
			filter.Statuses = append(filter.Statuses, TaskStatus(st))
		}
		var err error
		if filter.DueAfter, err = timeParam(r, "due_after"); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if filter.DueBefore, err = timeParam(r, "due_before"); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}

		tasks, err := store.QueryTasks(r.Context(), filter)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if tasks == nil {
			tasks = []Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func handleCreateTask(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t Task
		if err := decode(r, &t); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		t.ID, t.Status = "", ""
		created, err := store.CreateTask(r.Context(), t)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleGetTask(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := store.GetTask(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleUpdateTask(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch TaskPatch
		if err := decode(r, &patch); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		t, err := store.UpdateTask(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

type statusRequest struct {
	Status string     `json:"status"`
	DueBy  *time.Time `json:"due_by,omitempty"`
}

func handleTaskStatus(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decode(r, &req); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if TaskStatus(req.Status) == TaskDone {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("use the done endpoint to complete a task"))
			return
		}
		t, _, err := store.SetTaskStatus(r.Context(), chi.URLParam(r, "id"), TaskStatus(req.Status))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleTaskDone(completer Completer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, changed, err := completer.MarkDone(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": t, "changed": changed})
	}
}

func handleAssignProject(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProjectID string `json:"project_id"`
		}
		if err := decode(r, &req); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		t, err := store.AssignTaskToProject(r.Context(), chi.URLParam(r, "id"), req.ProjectID)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleListProjects(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ProjectFilter{
			OrderBy:   r.URL.Query().Get("order"),
			Ascending: r.URL.Query().Get("asc") == "true",
			Limit:     limitParam(r),
		}
		for _, st := range splitParam(r, "status") {
			filter.Statuses = append(filter.Statuses, ProjectStatus(st))
		}
		projects, err := store.QueryProjects(r.Context(), filter)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if projects == nil {
			projects = []Project{}
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func handleCreateProject(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p Project
		if err := decode(r, &p); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		p.ID = ""
		created, err := store.CreateProject(r.Context(), p)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleGetProject(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := store.GetProject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleUpdateProject(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch ProjectPatch
		if err := decode(r, &patch); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		p, err := store.UpdateProject(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleProjectStatus(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decode(r, &req); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		p, err := store.SetProjectStatus(r.Context(), chi.URLParam(r, "id"), ProjectStatus(req.Status))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleLatestMeasurements(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ms, err := store.LatestMeasurements(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if ms == nil {
			ms = []Measurement{}
		}
		writeJSON(w, http.StatusOK, ms)
	}
}

func handleRecordMeasurement(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m Measurement
		if err := decode(r, &m); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		m.ID, m.Supersedes = "", ""
		m.ProjectRef = chi.URLParam(r, "id")
		created, err := store.RecordMeasurement(r.Context(), m)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleMeasurementHistory(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ms, err := store.MeasurementHistory(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "label"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if ms == nil {
			ms = []Measurement{}
		}
		writeJSON(w, http.StatusOK, ms)
	}
}

func handleListReminders(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ReminderFilter{
			TaskRef: r.URL.Query().Get("task"),
			Limit:   limitParam(r),
		}
		if v := r.URL.Query().Get("fired"); v != "" {
			b := v == "true"
			filter.Fired = &b
		}
		if v := r.URL.Query().Get("acknowledged"); v != "" {
			b := v == "true"
			filter.Acknowledged = &b
		}
		var err error
		if filter.DueAfter, err = timeParam(r, "due_after"); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if filter.DueBefore, err = timeParam(r, "due_before"); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		reminders, err := store.QueryReminders(r.Context(), filter)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if reminders == nil {
			reminders = []Reminder{}
		}
		writeJSON(w, http.StatusOK, reminders)
	}
}

func handleCreateReminder(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rem Reminder
		if err := decode(r, &rem); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		rem.ID = ""
		created, err := store.CreateReminder(r.Context(), rem)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleGetReminder(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rem, err := store.GetReminder(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	}
}

func handleAcknowledgeReminder(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rem, err := store.AcknowledgeReminder(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	}
}

func handleSnoozeReminder(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Until time.Time `json:"until"`
		}
		if err := decode(r, &req); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if req.Until.IsZero() {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("until is required"))
			return
		}
		rem, err := store.SnoozeReminder(r.Context(), chi.URLParam(r, "id"), req.Until)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	}
}

func handleListCommitments(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := CommitmentFilter{
			ToWhom:    r.URL.Query().Get("to"),
			OrderBy:   r.URL.Query().Get("order"),
			Ascending: r.URL.Query().Get("asc") == "true",
			Limit:     limitParam(r),
		}
		for _, st := range splitParam(r, "status") {
			filter.Statuses = append(filter.Statuses, CommitmentStatus(st))
		}
		cs, err := store.QueryCommitments(r.Context(), filter)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if cs == nil {
			cs = []Commitment{}
		}
		writeJSON(w, http.StatusOK, cs)
	}
}

func handleCreateCommitment(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c Commitment
		if err := decode(r, &c); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		c.ID = ""
		created, err := store.CreateCommitment(r.Context(), c)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleGetCommitment(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := store.GetCommitment(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleCommitmentStatus(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decode(r, &req); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		c, err := store.SetCommitmentStatus(r.Context(), chi.URLParam(r, "id"), CommitmentStatus(req.Status), req.DueBy)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

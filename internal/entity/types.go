package entity

import (
	"fmt"
	"strings"
	"time"
)

// Kind names an entity collection.
type Kind string

const (
	KindCapture     Kind = "capture"
	KindTask        Kind = "task"
	KindProject     Kind = "project"
	KindReminder    Kind = "reminder"
	KindCommitment  Kind = "commitment"
	KindMeasurement Kind = "measurement"
)

// Ref is an id-based reference to an entity of a given kind.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// String renders the ref as "kind:id".
func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// ParseRef parses "kind:id".
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("malformed entity ref %q", s)
	}
	switch Kind(kind) {
	case KindCapture, KindTask, KindProject, KindReminder, KindCommitment, KindMeasurement:
		return Ref{Kind: Kind(kind), ID: id}, nil
	}
	return Ref{}, fmt.Errorf("unknown entity kind %q", kind)
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
	TaskDropped    TaskStatus = "dropped"
)

// taskTransitions lists the legal status changes. Re-entering the current
// status is always allowed and is a no-op.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskBlocked, TaskDone, TaskDropped},
	TaskInProgress: {TaskPending, TaskBlocked, TaskDone, TaskDropped},
	TaskBlocked:    {TaskPending, TaskInProgress, TaskDone, TaskDropped},
	TaskDone:       {TaskPending},
	TaskDropped:    {TaskPending},
}

// Task is a unit of work.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	Urgency     float64    `json:"urgency"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	ProjectRef  string     `json:"project_ref,omitempty"`
	ContextTags []string   `json:"context_tags"`
	CreatedAt   time.Time  `json:"created_at"`
	LastTouched time.Time  `json:"last_touched"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Version     int        `json:"version"`
}

// Ref returns the task's entity ref.
func (t Task) Ref() Ref { return Ref{Kind: KindTask, ID: t.ID} }

// IsOpen reports whether the task is pending or in progress, the only
// states in which stall days are meaningful.
func (t Task) IsOpen() bool {
	return t.Status == TaskPending || t.Status == TaskInProgress
}

// StallDays returns whole days since the task was last touched. ok is false
// when the task is not open.
func (t Task) StallDays(now time.Time) (days int, ok bool) {
	if !t.IsOpen() {
		return 0, false
	}
	return idleDays(t.LastTouched, now), true
}

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectAbandoned ProjectStatus = "abandoned"
)

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectActive:    {ProjectPaused, ProjectCompleted, ProjectAbandoned},
	ProjectPaused:    {ProjectActive, ProjectCompleted, ProjectAbandoned},
	ProjectCompleted: {ProjectActive},
	ProjectAbandoned: {ProjectActive},
}

// Project groups tasks under a shared goal. TaskRefs is derived from the
// tasks that point at the project.
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       ProjectStatus `json:"status"`
	CurrentPhase string        `json:"current_phase,omitempty"`
	NextStep     string        `json:"next_step,omitempty"`
	Blockers     []string      `json:"blockers"`
	TaskRefs     []string      `json:"task_refs"`
	TargetDate   *time.Time    `json:"target_date,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastTouched  time.Time     `json:"last_touched"`
	Version      int           `json:"version"`
}

// Ref returns the project's entity ref.
func (p Project) Ref() Ref { return Ref{Kind: KindProject, ID: p.ID} }

// StallDays returns whole idle days for an active project.
func (p Project) StallDays(now time.Time) (days int, ok bool) {
	if p.Status != ProjectActive {
		return 0, false
	}
	return idleDays(p.LastTouched, now), true
}

// Recurrence is a reminder repeat rule.
type Recurrence string

const (
	RecurNone    Recurrence = ""
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
	RecurYearly  Recurrence = "yearly"
)

// Next returns the occurrence after t.
func (r Recurrence) Next(t time.Time) time.Time {
	switch r {
	case RecurDaily:
		return t.AddDate(0, 0, 1)
	case RecurWeekly:
		return t.AddDate(0, 0, 7)
	case RecurMonthly:
		return t.AddDate(0, 1, 0)
	case RecurYearly:
		return t.AddDate(1, 0, 0)
	}
	return t
}

// Valid reports whether r is a known rule.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurNone, RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
		return true
	}
	return false
}

// Reminder is a time-triggered message.
type Reminder struct {
	ID           string     `json:"id"`
	Message      string     `json:"message"`
	TriggerTime  time.Time  `json:"trigger_time"`
	Recurrence   Recurrence `json:"recurrence,omitempty"`
	TaskRef      string     `json:"task_ref,omitempty"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
	Fired        bool       `json:"fired"`
	FiredAt      *time.Time `json:"fired_at,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
	CreatedAt    time.Time  `json:"created_at"`
	Version      int        `json:"version"`
}

// Ref returns the reminder's entity ref.
func (r Reminder) Ref() Ref { return Ref{Kind: KindReminder, ID: r.ID} }

// DueAt is the snooze time when set, otherwise the trigger time.
func (r Reminder) DueAt() time.Time {
	if r.SnoozedUntil != nil {
		return *r.SnoozedUntil
	}
	return r.TriggerTime
}

// CommitmentStatus is the lifecycle state of a commitment.
type CommitmentStatus string

const (
	CommitmentPending      CommitmentStatus = "pending"
	CommitmentFulfilled    CommitmentStatus = "fulfilled"
	CommitmentBroken       CommitmentStatus = "broken"
	CommitmentRenegotiated CommitmentStatus = "renegotiated"
)

var commitmentTransitions = map[CommitmentStatus][]CommitmentStatus{
	CommitmentPending:      {CommitmentFulfilled, CommitmentBroken, CommitmentRenegotiated},
	CommitmentRenegotiated: {CommitmentPending, CommitmentFulfilled, CommitmentBroken},
}

// Commitment is a promise made to someone.
type Commitment struct {
	ID            string           `json:"id"`
	What          string           `json:"what"`
	ToWhom        string           `json:"to_whom"`
	WhenMade      time.Time        `json:"when_made"`
	DueBy         *time.Time       `json:"due_by,omitempty"`
	Status        CommitmentStatus `json:"status"`
	LinkedTaskRef string           `json:"linked_task_ref,omitempty"`
	LastTouched   time.Time        `json:"last_touched"`
	Version       int              `json:"version"`
}

// Ref returns the commitment's entity ref.
func (c Commitment) Ref() Ref { return Ref{Kind: KindCommitment, ID: c.ID} }

// IsOpen reports whether the commitment is still owed.
func (c Commitment) IsOpen() bool {
	return c.Status == CommitmentPending || c.Status == CommitmentRenegotiated
}

// StallDays returns whole idle days for an open commitment.
func (c Commitment) StallDays(now time.Time) (days int, ok bool) {
	if !c.IsOpen() {
		return 0, false
	}
	return idleDays(c.LastTouched, now), true
}

// Measurement is a versioned numeric observation on a project. A new
// reading never overwrites the prior one; it points at it via Supersedes.
type Measurement struct {
	ID         string    `json:"id"`
	ProjectRef string    `json:"project_ref"`
	Label      string    `json:"label"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Supersedes string    `json:"supersedes,omitempty"`
}

// Capture is a raw utterance awaiting triage. RawText never changes.
type Capture struct {
	ID                  string     `json:"id"`
	RawText             string     `json:"raw_text"`
	Timestamp           time.Time  `json:"timestamp"`
	ContextHint         string     `json:"context_hint,omitempty"`
	Processed           bool       `json:"processed"`
	ConvertedTo         *Ref       `json:"converted_to,omitempty"`
	PendingConfirmation bool       `json:"pending_confirmation"`
	TriageReason        string     `json:"triage_reason,omitempty"`
	ArchivedAt          *time.Time `json:"archived_at,omitempty"`
	Version             int        `json:"version"`
}

// Ref returns the capture's entity ref.
func (c Capture) Ref() Ref { return Ref{Kind: KindCapture, ID: c.ID} }

func idleDays(lastTouched, now time.Time) int {
	if now.Before(lastTouched) {
		return 0
	}
	return int(now.Sub(lastTouched) / (24 * time.Hour))
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Package activecontext tracks what the user is working on so an
// interrupted session can be resumed.
package activecontext

import (
	"time"

	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/memory"
)

// State is the tracker's position in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateEngaged     State = "engaged"
	StateInterrupted State = "interrupted"
)

// Observation kinds.
const (
	KindUtterance = "utterance"
	KindAction    = "action"
)

// Interruption reasons.
const (
	ReasonCue        = "verbal_cue"
	ReasonSilence    = "silence"
	ReasonTopicShift = "topic_shift"
	ReasonExplicit   = "explicit"
)

// Breadcrumb is one recent step of user activity.
type Breadcrumb struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	TaskRef    string    `json:"task_ref,omitempty"`
	ProjectRef string    `json:"project_ref,omitempty"`
}

// Snapshot freezes the working state at the moment of an interruption.
type Snapshot struct {
	TaskRef       string       `json:"task_ref,omitempty"`
	ProjectRef    string       `json:"project_ref,omitempty"`
	Breadcrumbs   []Breadcrumb `json:"breadcrumbs"`
	LastStatement string       `json:"last_statement,omitempty"`
	Reason        string       `json:"reason"`
	TakenAt       time.Time    `json:"taken_at"`
}

// ActiveContext is the live working state of one session.
type ActiveContext struct {
	SessionID        string       `json:"session_id"`
	State            State        `json:"state"`
	CurrentTask      string       `json:"current_task,omitempty"`
	CurrentProject   string       `json:"current_project,omitempty"`
	SessionStart     time.Time    `json:"session_start"`
	LastInteraction  time.Time    `json:"last_interaction"`
	LastStatement    string       `json:"last_statement,omitempty"`
	Breadcrumbs      []Breadcrumb `json:"breadcrumbs"`
	InterruptionFlag bool         `json:"interruption_flag"`
	PreInterruption  *Snapshot    `json:"pre_interruption_snapshot,omitempty"`
}

func (a ActiveContext) clone() ActiveContext {
	out := a
	out.Breadcrumbs = append([]Breadcrumb(nil), a.Breadcrumbs...)
	if a.PreInterruption != nil {
		snap := *a.PreInterruption
		snap.Breadcrumbs = append([]Breadcrumb(nil), a.PreInterruption.Breadcrumbs...)
		out.PreInterruption = &snap
	}
	return out
}

// Observation is one utterance or action reported by a collaborator.
// TaskRef and ProjectRef are optional explicit references; TopicShift is
// set by a caller that detected an unrelated change of subject.
type Observation struct {
	Text       string    `json:"text"`
	Kind       string    `json:"kind,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	TaskRef    string    `json:"task_ref,omitempty"`
	ProjectRef string    `json:"project_ref,omitempty"`
	TopicShift bool      `json:"topic_shift,omitempty"`
}

// Next action kinds.
const (
	NextProjectStep = "project_next_step"
	NextResumeTask  = "resume_task"
	NextUnblock     = "unblock"
	NextRecall      = "recall_last_statement"
	NextNone        = "none"
)

// NextAction is the proposed way back in. Text is taken from stored data,
// never generated.
type NextAction struct {
	Kind string      `json:"kind"`
	Ref  *entity.Ref `json:"ref,omitempty"`
	Text string      `json:"text,omitempty"`
}

// Briefing is the structured resumption data handed to the presentation
// layer.
type Briefing struct {
	State       State                  `json:"state"`
	Interrupted bool                   `json:"interrupted"`
	Reason      string                 `json:"reason,omitempty"`
	Since       time.Time              `json:"since,omitempty"`
	Task        *entity.Task           `json:"task,omitempty"`
	Project     *entity.Project        `json:"project,omitempty"`
	Breadcrumbs []Breadcrumb           `json:"breadcrumbs"`
	LastIntent  string                 `json:"last_intent,omitempty"`
	NextAction  NextAction             `json:"next_action"`
	Related     []memory.ScoredEpisode `json:"related,omitempty"`
}

// Package capture turns raw utterances into tasks, reminders and
// commitments. The raw text is always stored first; everything after that
// may fail without losing it.
package capture

import (
	"context"
	"time"

	"github.com/ziadkadry99/cadence/internal/entity"
)

// Intent is what an utterance asks the engine to do.
type Intent string

const (
	IntentTask       Intent = "task"
	IntentReminder   Intent = "reminder"
	IntentCommitment Intent = "commitment"
	IntentCompletion Intent = "completion"
	IntentNone       Intent = "none"
)

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentTask, IntentReminder, IntentCommitment, IntentCompletion, IntentNone:
		return true
	}
	return false
}

// Extraction is the structured reading of one utterance, as produced by the
// inference gateway or the rule-based fallback.
type Extraction struct {
	Intent      Intent            `json:"intent"`
	Action      string            `json:"action"`
	Deadline    *time.Time        `json:"deadline,omitempty"`
	Project     string            `json:"project,omitempty"`
	Person      string            `json:"person,omitempty"`
	ContextTags []string          `json:"context_tags,omitempty"`
	Recurrence  entity.Recurrence `json:"recurrence,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	Confidence  float64           `json:"confidence"`
}

// Classified is an utterance that a collaborator has already run through
// extraction.
type Classified struct {
	Text        string     `json:"text"`
	ContextHint string     `json:"context_hint,omitempty"`
	Extraction  Extraction `json:"extraction"`
}

// Extractor reads intent and entities out of raw text. now anchors relative
// times such as "tomorrow at 3pm".
type Extractor interface {
	Extract(ctx context.Context, text string, now time.Time) (*Extraction, error)
}

// Policy is the action taken for an extraction.
type Policy string

const (
	PolicyDirect     Policy = "direct"
	PolicyConfirm    Policy = "confirm"
	PolicyTriage     Policy = "triage"
	PolicyArchiveRaw Policy = "archive_raw"
)

// Result reports what happened to a capture.
type Result struct {
	Capture           entity.Capture `json:"capture"`
	Policy            Policy         `json:"policy"`
	Entity            *entity.Ref    `json:"entity,omitempty"`
	NeedsConfirmation bool           `json:"needs_confirmation"`
	Spilled           bool           `json:"spilled"`
	Candidates        []string       `json:"candidates,omitempty"`
	Extraction        *Extraction    `json:"extraction,omitempty"`
}

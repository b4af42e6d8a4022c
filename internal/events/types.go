package events

import (
	"encoding/json"
	"time"
)

// Event types emitted by the engine.
const (
	TaskCreated     = "task.created"
	TaskCompleted   = "task.completed"
	ReminderDue     = "reminder.due"
	StallDetected   = "stall.detected"
	BriefingReady   = "briefing.ready"
	EpisodeCreated  = "episode.created"
	FactLearned     = "fact.learned"
	CaptureRecorded = "capture.recorded"
	CaptureTriaged  = "capture.triaged"
	PromptDelivered = "prompt.delivered"
)

// Event is a single notification published on the bus. Payload is whatever
// value the publisher attached; sinks serialize it as JSON.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// JSON encodes the event for an external sink.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher is the narrow interface engine components depend on.
type Publisher interface {
	Publish(eventType string, payload any)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(string, any) {}

// OrNop returns p, or a no-op publisher when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}

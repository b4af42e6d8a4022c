// Package governor is the single choke point for unsolicited output. Every
// nudge, briefing and reminder prompt passes through it and is rate limited,
// deduplicated and merged according to the active intensity profile.
package governor

import (
	"strings"
	"time"

	"github.com/ziadkadry99/cadence/internal/config"
)

// Kind is the source of an unsolicited item.
type Kind string

const (
	KindBriefing   Kind = "briefing"
	KindStall      Kind = "stall"
	KindActivation Kind = "activation"
	KindReminder   Kind = "reminder"
)

// Item is one thing the engine would like to tell the user. Ref is the
// entity reference used for dedup and snoozing ("task:01H..."); ContextKey
// groups items that should be merged into one prompt.
type Item struct {
	Ref        string    `json:"ref,omitempty"`
	Kind       Kind      `json:"kind"`
	ContextKey string    `json:"context_key"`
	Text       string    `json:"text"`
	Detail     any       `json:"detail,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
}

// Shape is how a merged prompt should be presented.
type Shape string

const (
	ShapeSilent    Shape = "silent"
	ShapeInline    Shape = "inline"
	ShapeOfferList Shape = "offer_list"
	ShapeListMode  Shape = "list_mode"
	ShapeFull      Shape = "full"
)

// ShapeFor picks the presentation for n merged items. force requests full
// enumeration regardless of count.
func ShapeFor(n int, force bool) Shape {
	switch {
	case n <= 0:
		return ShapeSilent
	case force:
		return ShapeFull
	case n <= 2:
		return ShapeInline
	case n <= 5:
		return ShapeOfferList
	}
	return ShapeListMode
}

// Prompt is a delivered unit of unsolicited output.
type Prompt struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	ContextKey  string    `json:"context_key"`
	Shape       Shape     `json:"shape"`
	Count       int       `json:"count"`
	Items       []Item    `json:"items"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Outcome is the result of evaluating one prompt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeSilent    Outcome = "silent"
	OutcomeQuiet     Outcome = "quiet"
	OutcomeDailyCap  Outcome = "daily_cap"
	OutcomeSpacing   Outcome = "spacing"
)

// Decision reports what happened to one context key's items. Suppressed
// lists refs dropped by dedup or snooze.
type Decision struct {
	ContextKey string   `json:"context_key"`
	Outcome    Outcome  `json:"outcome"`
	Prompt     *Prompt  `json:"prompt,omitempty"`
	Pending    int      `json:"pending"`
	Suppressed []string `json:"suppressed,omitempty"`
}

// Status is a point-in-time view of the governor.
type Status struct {
	Profile    config.Profile       `json:"profile"`
	Quiet      bool                 `json:"quiet"`
	SentToday  int                  `json:"sent_today"`
	LastPrompt time.Time            `json:"last_prompt,omitempty"`
	Pending    []Item               `json:"pending"`
	Snoozed    map[string]time.Time `json:"snoozed"`
	Paused     []string             `json:"paused"`
}

// refMatches reports whether an item ref is covered by a snooze key. Keys
// may be a full "kind:id" ref or a bare id.
func refMatches(ref, key string) bool {
	return ref != "" && (ref == key || strings.HasSuffix(ref, ":"+key))
}

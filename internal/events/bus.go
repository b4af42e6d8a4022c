package events

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/ids"
)

const defaultSubscriberCapacity = 64

// Bus fans events out to pattern subscribers. Each subscriber has a bounded
// buffer; when it is full the event is dropped for that subscriber and
// counted, so a slow consumer never blocks a publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	clock  clock.Clock
	logger *zap.Logger
}

// Subscription receives events whose type matches its pattern.
type Subscription struct {
	Pattern string
	C       <-chan Event

	ch      chan Event
	dropped atomic.Int64
	bus     *Bus
	once    sync.Once
}

// NewBus creates an event bus.
func NewBus(clk clock.Clock, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		clock:  clock.OrSystem(clk),
		logger: logger,
	}
}

// Subscribe registers a subscriber for event types matching pattern. Patterns
// use glob syntax over the dotted type name: "task.*" or "*".
func (b *Bus) Subscribe(pattern string, capacity int) (*Subscription, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		pattern = "*"
	}
	if !Valid(pattern) {
		return nil, &PatternError{Pattern: pattern}
	}
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	ch := make(chan Event, capacity)
	sub := &Subscription{Pattern: pattern, C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub, nil
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Publish implements Publisher.
func (b *Bus) Publish(eventType string, payload any) {
	now := b.clock.Now().UTC()
	b.Emit(Event{ID: ids.New(now), Type: eventType, Time: now, Payload: payload})
}

// Emit delivers a fully formed event.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !Match(sub.Pattern, e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			n := sub.dropped.Add(1)
			b.logger.Warn("event dropped for slow subscriber",
				zap.String("pattern", sub.Pattern),
				zap.String("type", e.Type),
				zap.Int64("dropped_total", n))
		}
	}
}

// Close closes every subscription channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = nil
}

// Dropped reports how many events this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if s.bus.subs != nil {
		delete(s.bus.subs, s)
	}
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Match reports whether an event type matches a subscription pattern. Dots
// are treated as path separators so "task.*" matches "task.created" but not
// "task.created.extra"; a lone "*" matches everything.
func Match(pattern, eventType string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}
	ok, err := doublestar.Match(dotsToSlashes(pattern), dotsToSlashes(strings.ToLower(eventType)))
	return err == nil && ok
}

// Valid reports whether pattern is a well-formed subscription pattern.
func Valid(pattern string) bool {
	return doublestar.ValidatePattern(dotsToSlashes(strings.ToLower(pattern)))
}

func dotsToSlashes(s string) string {
	return strings.ReplaceAll(s, ".", "/")
}

// PatternError reports an invalid subscription pattern.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid event pattern: " + e.Pattern
}

package event

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSubscriberClosed is returned by Send once a subscriber has gone away.
var ErrSubscriberClosed = errors.New("subscriber closed")

// ErrSubscriberFull is returned by ChanSubscriber.Send when its buffer is full.
var ErrSubscriberFull = errors.New("subscriber buffer full")

// Subscriber receives published events. A non-nil error from Send removes the
// subscriber from the hub.
type Subscriber interface {
	Send(ev Event) error
}

// Hub fans events out to every currently registered subscriber. It is
// single-process; see RedisRelay for cross-instance delivery.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	logger zerolog.Logger

	// OnPublish and OnDrop are optional hooks for metrics.
	OnPublish func(t Type, delivered int)
	OnDrop    func()
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]Subscriber),
		logger: logger.With().Str("component", "event_hub").Logger(),
	}
}

// Subscribe registers s and returns its subscription ID.
func (h *Hub) Subscribe(s Subscriber) string {
	id := uuid.New().String()
	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()
	h.logger.Debug().Str("subscriber_id", id).Msg("subscriber added")
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	if c, ok := s.(interface{ Close() }); ok {
		c.Close()
	}
	h.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers ev to every subscriber. Subscribers that fail are dropped;
// Publish itself never fails or retries.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	targets := make(map[string]Subscriber, len(h.subs))
	for id, s := range h.subs {
		targets[id] = s
	}
	h.mu.RUnlock()

	delivered := 0
	for id, s := range targets {
		if err := s.Send(ev); err != nil {
			h.logger.Debug().Err(err).Str("subscriber_id", id).Str("type", string(ev.Type)).Msg("dropping subscriber")
			h.Unsubscribe(id)
			if h.OnDrop != nil {
				h.OnDrop()
			}
			continue
		}
		delivered++
	}

	if h.OnPublish != nil {
		h.OnPublish(ev.Type, delivered)
	}
}

// ChanSubscriber buffers events on a channel for a single consumer, such as
// one SSE connection.
type ChanSubscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChanSubscriber creates a subscriber with the given buffer (default 32).
func NewChanSubscriber(buffer int) *ChanSubscriber {
	if buffer <= 0 {
		buffer = 32
	}
	return &ChanSubscriber{ch: make(chan Event, buffer)}
}

// Events is the receive side.
func (c *ChanSubscriber) Events() <-chan Event { return c.ch }

// Send enqueues ev without blocking.
func (c *ChanSubscriber) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSubscriberClosed
	}
	select {
	case c.ch <- ev:
		return nil
	default:
		return ErrSubscriberFull
	}
}

// Close closes the channel. Safe to call more than once.
func (c *ChanSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Recorder keeps every published event in memory. Useful for tests and the
// CLI, where nobody is listening.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

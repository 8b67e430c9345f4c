package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a structured state change emitted by the issuance engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while
// discarding all events. It is useful when a component wants to optionally
// expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Envelope wraps an emitted event with a unique identifier and the emission
// timestamp so stream consumers can deduplicate and order deliveries.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
}

// Hub fans emitted events out to subscribed channels. Subscribers that fall
// behind have deliveries dropped rather than blocking the emitting call.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan Envelope
	bufSize int
}

// NewHub constructs a hub whose subscriber channels buffer up to bufSize
// envelopes.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{subs: make(map[uint64]chan Envelope), bufSize: bufSize}
}

// Emit implements Emitter.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	envelope := Envelope{
		ID:        uuid.NewString(),
		Type:      evt.EventType(),
		Timestamp: time.Now().UTC(),
		Event:     evt,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- envelope:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with a
// cancel function that must be called to release the subscription.
func (h *Hub) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, h.bufSize)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

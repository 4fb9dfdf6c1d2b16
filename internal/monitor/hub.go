package monitor

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/banshee-data/posture.report/internal/monitoring"
)

// DefaultSubscriberBuffer is the channel depth given to each subscriber.
const DefaultSubscriberBuffer = 256

// Hub fans Events out to any number of subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber. The ID identifies it when
// unsubscribing. The channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, DefaultSubscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish delivers ev to every subscriber with room for it.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// frame events are routine; anything else is worth knowing about
			if ev.Kind != KindFrame {
				monitoring.Logf("monitor: subscriber %s full, dropped %s event", id, ev.Kind)
			}
		}
	}
}

// Len returns the number of current subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close closes all subscriber channels. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

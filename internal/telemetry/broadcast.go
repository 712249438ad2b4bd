package telemetry

import (
	"log"
	"sync"
)

const subscriberBuffer = 100

// Subscription is one independent receive end of a Hub.
type Subscription struct {
	C <-chan ProgressEvent

	ch   chan ProgressEvent
	hub  *Hub
	once sync.Once
}

// Close detaches the subscription from its hub and closes C.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans progress events out to every current subscriber. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe returns a fresh subscription. Events published before this call
// are not delivered to it.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan ProgressEvent, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers event to all subscribers without blocking and returns the
// number of subscribers that received it.
func (h *Hub) Publish(event ProgressEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs {
		select {
		case sub.ch <- event:
			delivered++
		default:
			log.Printf("telemetry: subscriber lagging, dropped %s event", event.Stage)
		}
	}
	return delivered
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later subscriptions are born closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

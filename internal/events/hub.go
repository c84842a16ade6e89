package events

import "sync"

// SubscriberBuffer is the per-subscriber channel capacity. Events published
// while a subscriber's buffer is full are dropped for that subscriber.
const SubscriberBuffer = 64

// Subscriber receives events for one investigation.
type Subscriber struct {
	Ch chan Event
}

// Hub is an in-process fan-out keyed by session id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string][]*Subscriber
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]*Subscriber)}
}

// Subscribe registers a subscriber for sessionID. Ch is closed by
// Unsubscribe or CloseSession. After Close the returned Ch is already closed.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{Ch: make(chan Event, SubscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.Ch)
		return sub
	}
	h.subs[sessionID] = append(h.subs[sessionID], sub)
	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call after
// CloseSession.
func (h *Hub) Unsubscribe(sessionID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[sessionID]
	for i, s := range list {
		if s == sub {
			h.subs[sessionID] = append(list[:i:i], list[i+1:]...)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(s.Ch)
			return
		}
	}
}

// Publish delivers ev to every subscriber of ev.SessionID without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs[ev.SessionID] {
		select {
		case s.Ch <- ev:
		default:
		}
	}
}

// CloseSession closes every subscriber channel for sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	subs := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()
	for _, s := range subs {
		close(s.Ch)
	}
}

// Count returns the number of subscribers for sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close closes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[string][]*Subscriber)
	h.closed = true
	h.mu.Unlock()
	for _, subs := range all {
		for _, s := range subs {
			close(s.Ch)
		}
	}
}

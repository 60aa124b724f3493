package coach

import "sync"

// subscriberBuffer bounds each subscriber channel. A slow consumer
// loses events rather than stalling the session loop.
const subscriberBuffer = 256

// Hub fans session events out to channel subscribers. A subscription
// observes only events published after it attaches, which is what
// gives reconnecting clients future-only delivery.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan any
	next   int
	closed bool
	onDrop func()
}

func NewHub(onDrop func()) *Hub {
	return &Hub{subs: make(map[int]chan any), onDrop: onDrop}
}

// Subscribe returns an event channel and its cancel function. The
// channel is closed when the hub shuts down.
func (h *Hub) Subscribe() (<-chan any, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan any, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber, dropping per-subscriber
// when a buffer is full.
func (h *Hub) Publish(ev any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

// Close closes all subscriber channels. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

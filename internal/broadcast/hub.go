package broadcast

import (
	"context"
	"sync"

	"example.com/bulletin/internal/domain"
)

// Hub fans invalidations out to in-process listeners such as open event
// streams. Slow listeners drop messages instead of blocking the publisher.
type Hub struct {
	mu        sync.Mutex
	listeners map[chan domain.Invalidation]struct{}
	buffer    int
}

// NewHub constructs a Hub whose listener channels hold buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{listeners: make(map[chan domain.Invalidation]struct{}), buffer: buffer}
}

// Publish delivers inv to every listener that has room for it.
func (h *Hub) Publish(inv domain.Invalidation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.listeners {
		select {
		case ch <- inv:
		default:
		}
	}
}

// Broadcast lets a Hub serve as the service broadcaster when no Redis is configured.
func (h *Hub) Broadcast(_ context.Context, inv domain.Invalidation) error {
	if len(inv.Topics) > 0 {
		h.Publish(inv)
	}
	return nil
}

// Listen registers a listener. The returned cancel func unregisters it and
// closes the channel.
func (h *Hub) Listen() (<-chan domain.Invalidation, func()) {
	ch := make(chan domain.Invalidation, h.buffer)
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

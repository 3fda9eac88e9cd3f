// Package hub fans committed events out to every open subscription.
//
// Publish never blocks. Each subscription owns a buffered channel; when a
// subscriber falls so far behind that its buffer is full, the hub closes the
// subscription instead of waiting. The subscriber must then reconnect and
// refetch full state, exactly as after any other disconnect.
//
// Events reach every subscription in the order Publish was called. The record
// store publishes while holding its write lock, so that order is commit order.
package hub

import (
	"log/slog"
	"sync"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
)

// Subscription is one live consumer of the event stream.
type Subscription struct {
	name   string
	events chan domain.Event
}

// Name identifies the subscriber in logs.
func (s *Subscription) Name() string { return s.name }

// Events yields published events. The channel is closed when the subscription
// is dropped, unsubscribed, or the hub shuts down.
func (s *Subscription) Events() <-chan domain.Event { return s.events }

// Hub tracks open subscriptions and broadcasts events to them.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	buffer  int
	closed  bool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a hub whose subscriptions buffer up to buffer events.
func New(buffer int, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe opens a subscription. Only events published after Subscribe
// returns are delivered; there is no replay.
func (h *Hub) Subscribe(name string) *Subscription {
	sub := &Subscription{name: name, events: make(chan domain.Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.events)
		return sub
	}
	h.subs[sub] = struct{}{}
	h.metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug("subscriber joined", "subscriber", name, "subscribers", len(h.subs))
	return sub
}

// Unsubscribe closes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	h.remove(sub)
	h.logger.Debug("subscriber left", "subscriber", sub.name, "subscribers", len(h.subs))
}

// Publish enqueues ev for every subscription without blocking.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			h.remove(sub)
			h.metrics.SubscribersDropped.Inc()
			h.logger.Warn("subscriber buffer full, dropping subscriber",
				"subscriber", sub.name,
				"event_type", ev.Type,
				"seq", ev.Seq,
			)
		}
	}
	h.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		h.remove(sub)
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscription) {
	delete(h.subs, sub)
	close(sub.events)
	h.metrics.Subscribers.Set(float64(len(h.subs)))
}

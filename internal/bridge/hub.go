// Package bridge is the sync surface: the transport-agnostic command API
// over the shadow engines, the event hub feeding subscribers, the workspace
// watcher, scenario execution, and CSV tag export.
package bridge

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pandaura/pandaura/internal/engine"
	"github.com/pandaura/pandaura/internal/observability"
)

// Hub-level message types, alongside the engine's event kinds.
const (
	EventWelcome      engine.EventType = "welcome"
	EventSubscribed   engine.EventType = "subscribed"
	EventUnsubscribed engine.EventType = "unsubscribed"
	EventHeartbeat    engine.EventType = "heartbeat_response"
)

// subscriberBuffer is the per-subscriber send queue depth. A subscriber
// whose buffer is full is dropped rather than allowed to stall the stream.
const subscriberBuffer = 256

// Subscriber is one registered event consumer. Receive from C; a closed C
// means the hub dropped or unregistered the subscriber.
type Subscriber struct {
	ID string
	C  chan engine.Event

	mu   sync.Mutex
	tags map[string]struct{}
}

// wants reports whether the subscriber should see the event. Tag filters
// apply to per-tag kinds only; lifecycle and fault events reach everyone.
func (s *Subscriber) wants(ev engine.Event) bool {
	if ev.Type != engine.EventVariableUpdate && ev.Type != engine.EventBulkUpdate {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tags) == 0 {
		return true
	}
	_, ok := s.tags[ev.Tag]
	return ok
}

// AddTags narrows the subscription to the named tags.
func (s *Subscriber) AddTags(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]struct{})
	}
	for _, t := range tags {
		s.tags[t] = struct{}{}
	}
}

// RemoveTags widens the subscription; removing the last tag restores the
// all-tags view.
func (s *Subscriber) RemoveTags(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		delete(s.tags, t)
	}
}

// Hub fans engine events out to subscribers. Delivery is best-effort: the
// broadcast queue and every subscriber queue are bounded, and a subscriber
// that falls behind is dropped.
type Hub struct {
	logger *log.Logger

	subscribe   chan *Subscriber
	unsubscribe chan *Subscriber
	broadcast   chan engine.Event

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewHub creates an idle hub; call Run to start delivery.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribe:   make(chan *Subscriber),
		unsubscribe: make(chan *Subscriber),
		broadcast:   make(chan engine.Event, 1024),
		subs:        make(map[*Subscriber]struct{}),
	}
}

// Run drives registration and delivery until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.close()
			return
		case sub := <-h.subscribe:
			h.mu.Lock()
			h.subs[sub] = struct{}{}
			count := len(h.subs)
			h.mu.Unlock()
			observability.Global().SetSubscribers(int64(count))
			sub.C <- engine.Event{Type: EventWelcome, Data: map[string]any{"subscriberId": sub.ID}}
			h.logger.Debug("subscriber connected", "id", sub.ID, "subscribers", count)
		case sub := <-h.unsubscribe:
			h.drop(sub, EventUnsubscribed)
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev engine.Event) {
	h.mu.RLock()
	var stalled []*Subscriber
	for sub := range h.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stalled {
		h.logger.Warn("dropping slow subscriber", "id", sub.ID)
		h.drop(sub, "")
	}
}

func (h *Hub) drop(sub *Subscriber, farewell engine.EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	observability.Global().SetSubscribers(int64(len(h.subs)))
	if farewell != "" {
		select {
		case sub.C <- engine.Event{Type: farewell}:
		default:
		}
	}
	close(sub.C)
}

func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.C)
		delete(h.subs, sub)
	}
}

// Subscribe registers a consumer. With no tags the subscriber sees every
// tag; otherwise only the named ones. Blocks until the hub loop admits it.
func (h *Hub) Subscribe(tags ...string) *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		C:  make(chan engine.Event, subscriberBuffer),
	}
	if len(tags) > 0 {
		sub.AddTags(tags...)
	}
	h.subscribe <- sub
	return sub
}

// Unsubscribe detaches a consumer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.unsubscribe <- sub
}

// Publish enqueues one event without blocking; it satisfies
// engine.EventSink. A full broadcast queue loses the message.
func (h *Hub) Publish(ev engine.Event) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return
	}
	select {
	case h.broadcast <- ev:
		observability.Global().RecordEventPublished()
	default:
		observability.Global().RecordEventDropped()
		h.logger.Warn("event stream saturated, dropping event", "type", ev.Type, "tag", ev.Tag)
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

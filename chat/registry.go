package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Subscription is one live topic subscription. Inbound events for the topic
// arrive on Events; the channel is closed when the subscription is torn down
// or invalidated by a transport disconnect (subscriptions do not survive a
// reconnect and must be recreated).
type Subscription struct {
	ID    string
	Topic string

	events chan Event
	closed bool
}

// Events returns the stream of inbound events for this subscription.
func (s *Subscription) Events() <-chan Event { return s.events }

// frameSender is the slice of the client the registry needs to talk to the
// broker.
type frameSender interface {
	sendFrame(ctx context.Context, f frame) error
}

// Registry tracks active topic subscriptions, guaranteeing at most one live
// subscription per topic. Teardown is best effort: a failed unsubscribe is
// logged and never blocks the others.
type Registry struct {
	mu     sync.Mutex
	sender frameSender
	logger Logger
	byKey  map[string]*Subscription // topic -> subscription
	byID   map[string]*Subscription
}

func newRegistry(sender frameSender, logger Logger) *Registry {
	return &Registry{
		sender: sender,
		logger: logger,
		byKey:  make(map[string]*Subscription),
		byID:   make(map[string]*Subscription),
	}
}

func (r *Registry) setLogger(l Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// Subscribe registers a subscription for topic. An existing subscription for
// the same topic is unsubscribed first, so the previous handler never fires
// again once Subscribe returns.
func (r *Registry) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byKey[topic]; ok {
		if err := r.teardownLocked(ctx, old); err != nil {
			r.logger.Warn("unsubscribe before resubscribe failed", map[string]any{
				"topic": topic, "error": err.Error(),
			})
		}
	}

	sub := &Subscription{
		ID:     uuid.NewString(),
		Topic:  topic,
		events: make(chan Event, 32),
	}
	err := r.sender.sendFrame(ctx, frame{Type: frameSubscribe, ID: sub.ID, Destination: topic})
	if err != nil {
		close(sub.events)
		return nil, WrapError(ErrorSubscription, "subscribe "+topic, err)
	}
	r.byKey[topic] = sub
	r.byID[sub.ID] = sub
	return sub, nil
}

// Unsubscribe tears down the subscription for topic if present. Missing
// topics are a no-op.
func (r *Registry) Unsubscribe(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byKey[topic]
	if !ok {
		return nil
	}
	return r.teardownLocked(ctx, sub)
}

// UnsubscribeAll tears down every tracked subscription. Individual failures
// are logged and swallowed so one broken teardown cannot block the rest.
func (r *Registry) UnsubscribeAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, sub := range r.byKey {
		if err := r.teardownLocked(ctx, sub); err != nil {
			r.logger.Warn("unsubscribe failed during teardown", map[string]any{
				"topic": topic, "error": err.Error(),
			})
		}
	}
}

// Topics returns the currently subscribed topic keys.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	return keys
}

// teardownLocked removes the subscription locally, closes its stream, and
// tells the broker. The local removal always happens; only the broker frame
// can fail.
func (r *Registry) teardownLocked(ctx context.Context, sub *Subscription) error {
	r.dropLocked(sub)
	return r.sender.sendFrame(ctx, frame{Type: frameUnsubscribe, ID: sub.ID, Destination: sub.Topic})
}

func (r *Registry) dropLocked(sub *Subscription) {
	delete(r.byKey, sub.Topic)
	delete(r.byID, sub.ID)
	if !sub.closed {
		sub.closed = true
		close(sub.events)
	}
}

// invalidateAll drops every subscription without talking to the broker. Used
// on transport disconnect: the broker side is gone, and subscription ids do
// not survive a reconnect.
func (r *Registry) invalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.byKey {
		r.dropLocked(sub)
	}
}

// dispatch routes an inbound event to the owning subscription, matching by
// subscription id first and destination topic second. Events for unknown
// subscriptions are dropped; a full subscriber buffer also drops, keeping the
// read loop from stalling.
func (r *Registry) dispatch(subID, destination string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byID[subID]
	if !ok {
		sub, ok = r.byKey[destination]
	}
	if !ok || sub.closed {
		return
	}
	select {
	case sub.events <- ev:
	default:
		r.logger.Warn("subscriber buffer full, dropping event", map[string]any{
			"topic": sub.Topic,
		})
	}
}

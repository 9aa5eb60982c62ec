// Package dispatch routes classified worker events to topic subscribers.
package dispatch

import (
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/workerbridge/internal/event"
)

// Handler receives one event. Handlers run on the bridge's event loop, so a
// slow handler delays every later event.
type Handler func(event.Event)

// subscription represents a registered event handler.
type subscription struct {
	id      string
	topic   string
	handler Handler
}

// Dispatcher is a synchronous topic-based pub/sub router.
//
// Publish delivers to the subscribers of the event's topic first and then to
// catch-all subscribers, each group in registration order. Because delivery
// happens on the publishing goroutine, subscribers observe events in exactly
// the order they were published.
type Dispatcher struct {
	log *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string][]subscription // topic -> subscriptions
}

// New creates a dispatcher with no subscribers.
func New(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Dispatcher{
		log:           log.With("component", "dispatcher"),
		subscriptions: make(map[string][]subscription, 4),
	}
}

// SetLogger replaces the logger used for subscription and panic reports.
func (d *Dispatcher) SetLogger(log *slog.Logger) {
	if log == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.log = log.With("component", "dispatcher")
}

// Subscribe registers a handler for one topic and returns its subscription id.
func (d *Dispatcher) Subscribe(topic string, handler Handler) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub := subscription{
		id:      ulid.Make().String(),
		topic:   topic,
		handler: handler,
	}

	d.subscriptions[topic] = append(d.subscriptions[topic], sub)

	d.log.Debug("Registered subscriber", "topic", topic, "subscription_id", sub.id)

	return sub.id
}

// SubscribeAll registers a handler that receives every event.
func (d *Dispatcher) SubscribeAll(handler Handler) string {
	return d.Subscribe(event.TopicAll, handler)
}

// Unsubscribe removes a subscription by id.
// Returns true if the subscription was found and removed.
func (d *Dispatcher) Unsubscribe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for topic, subs := range d.subscriptions {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}

			remaining := make([]subscription, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)

			if len(remaining) == 0 {
				delete(d.subscriptions, topic)
			} else {
				d.subscriptions[topic] = remaining
			}

			d.log.Debug("Removed subscriber", "topic", topic, "subscription_id", id)

			return true
		}
	}

	return false
}

// HasSubscribers reports whether any handler is registered for topic.
func (d *Dispatcher) HasSubscribers(topic string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.subscriptions[topic]) > 0
}

// Count returns the total number of active subscriptions.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, subs := range d.subscriptions {
		count += len(subs)
	}

	return count
}

// Publish delivers ev to its topic subscribers, then to catch-all subscribers.
// It returns the number of handlers invoked.
func (d *Dispatcher) Publish(ev event.Event) int {
	d.mu.RLock()

	var specific []subscription
	if ev.Topic != "" && ev.Topic != event.TopicAll {
		specific = append(specific, d.subscriptions[ev.Topic]...)
	}

	wildcard := append([]subscription(nil), d.subscriptions[event.TopicAll]...)

	d.mu.RUnlock()

	for _, sub := range specific {
		d.safeCall(sub, ev)
	}

	for _, sub := range wildcard {
		d.safeCall(sub, ev)
	}

	return len(specific) + len(wildcard)
}

// safeCall invokes a handler and recovers from any panic so one misbehaving
// subscriber cannot stop delivery to the rest.
func (d *Dispatcher) safeCall(sub subscription, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Event handler panicked",
				"topic", ev.Topic,
				"seq", ev.Seq,
				"subscription_id", sub.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	sub.handler(ev)
}

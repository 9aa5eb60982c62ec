package workerbridge

import (
	"context"

	"github.com/wagiedev/workerbridge/internal/bridge"
)

// Bridge supervises one long-lived worker process and exchanges
// line-delimited JSON with it.
//
// Commands are fire-and-forget: SendCommand returns once the line is written.
// Everything the worker prints arrives as an Event delivered to subscribers,
// in the order the worker printed it, on a single goroutine owned by the bridge.
//
// Lifecycle: bridges are single-use. After Close, create a new one with NewBridge.
//
// Example usage:
//
//	b := workerbridge.NewBridge()
//	defer b.Close()
//
//	b.Subscribe("answer", func(ev workerbridge.Event) {
//	    fmt.Println(ev.StringField("text"))
//	})
//
//	if err := b.Start(ctx, workerbridge.WithWorkerPath("./worker")); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := b.SendCommand(ctx, "What is 2+2?"); err != nil {
//	    log.Fatal(err)
//	}
//
//	<-b.Done()
type Bridge interface {
	// Start spawns the worker and blocks until it prints READY.
	// The context bounds startup only.
	// Returns SpawnError if the worker cannot be launched, HandshakeError if
	// its first line is not READY.
	Start(ctx context.Context, opts ...Option) error

	// SendCommand writes text to the worker as {"query": text}.
	// Safe for concurrent use; lines are never interleaved.
	// Returns WriteError if the worker's input is closed or it has exited.
	SendCommand(ctx context.Context, text string) error

	// Subscribe registers handler for events whose "type" field equals topic
	// and returns a subscription id. Topic "*" receives every event.
	Subscribe(topic string, handler Handler) string

	// SubscribeAll registers handler for every event.
	SubscribeAll(handler Handler) string

	// Unsubscribe removes a subscription by id.
	Unsubscribe(id string) bool

	// Done is closed after the terminal event has been delivered.
	Done() <-chan struct{}

	// Err returns the read error that ended the event stream, if any.
	Err() error

	// PID returns the worker's process id, or 0 if none is running.
	PID() int

	// Close stops the worker (shutdown command, then SIGTERM, then SIGKILL)
	// and waits for the terminal event. Safe to call multiple times.
	// Must not be called from a Handler.
	Close() error
}

// NewBridge creates a new bridge.
// Subscribe handlers before Start so no early event is missed.
func NewBridge() Bridge {
	return &bridgeWrapper{impl: bridge.New()}
}

// bridgeWrapper adapts the internal bridge to the public interface.
type bridgeWrapper struct {
	impl *bridge.Bridge
}

// Compile-time check that *bridgeWrapper implements the Bridge interface.
var _ Bridge = (*bridgeWrapper)(nil)

func (b *bridgeWrapper) Start(ctx context.Context, opts ...Option) error {
	return b.impl.Start(ctx, applyOptions(opts))
}

func (b *bridgeWrapper) SendCommand(ctx context.Context, text string) error {
	return b.impl.SendCommand(ctx, text)
}

func (b *bridgeWrapper) Subscribe(topic string, handler Handler) string {
	return b.impl.Subscribe(topic, handler)
}

func (b *bridgeWrapper) SubscribeAll(handler Handler) string {
	return b.impl.SubscribeAll(handler)
}

func (b *bridgeWrapper) Unsubscribe(id string) bool {
	return b.impl.Unsubscribe(id)
}

func (b *bridgeWrapper) Done() <-chan struct{} {
	return b.impl.Done()
}

func (b *bridgeWrapper) Err() error {
	return b.impl.Err()
}

func (b *bridgeWrapper) PID() int {
	return b.impl.PID()
}

func (b *bridgeWrapper) Close() error {
	return b.impl.Close()
}

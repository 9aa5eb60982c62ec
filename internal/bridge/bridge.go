package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/workerbridge/internal/config"
	"github.com/wagiedev/workerbridge/internal/dispatch"
	"github.com/wagiedev/workerbridge/internal/errors"
	"github.com/wagiedev/workerbridge/internal/event"
	"github.com/wagiedev/workerbridge/internal/protocol"
	"github.com/wagiedev/workerbridge/internal/subprocess"
)

// instrumentationName identifies the bridge's tracer.
const instrumentationName = "github.com/wagiedev/workerbridge"

// Span names.
const (
	spanStart       = "workerbridge.start"
	spanSendCommand = "workerbridge.send_command"
	spanEvent       = "workerbridge.event"
)

// Bridge supervises one worker session.
type Bridge struct {
	log        *slog.Logger
	options    *config.Options
	transport  config.Transport
	dispatcher *dispatch.Dispatcher
	validator  *event.Validator
	tracer     trace.Tracer
	sessionID  string

	// Errgroup for the event loop
	eg     *errgroup.Group
	cancel context.CancelFunc

	// Terminal read error, set once before the terminal event is published
	errMu    sync.RWMutex
	fatalErr error

	// Lifecycle management
	mu        sync.Mutex
	done      chan struct{}
	starting  bool
	started   bool
	closed    bool
	closeOnce sync.Once

	// Worker being spawned or awaiting its handshake
	pending config.Transport
}

// New creates a bridge with no worker.
//
// Handlers may be subscribed before Start so that no event emitted right
// after the handshake is missed.
func New() *Bridge {
	return &Bridge{
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		dispatcher: dispatch.New(nil),
		tracer:     noop.NewTracerProvider().Tracer(instrumentationName),
		done:       make(chan struct{}),
	}
}

// Start spawns the worker, waits for its READY handshake and starts the
// event loop.
//
// The context bounds startup only. The worker keeps running after ctx ends;
// stop it with Close.
//
// Returns SpawnError if the worker cannot be launched, or HandshakeError if
// its first line is not READY. In both cases the worker process is cleaned up
// and no event loop is started. The bridge lock is not held while waiting for
// the worker: other methods keep answering, and a concurrent Close stops the
// worker and makes Start return ErrBridgeClosed.
func (b *Bridge) Start(ctx context.Context, options *config.Options) error {
	if options == nil {
		options = &config.Options{}
	}

	if err := b.prepare(options); err != nil {
		return err
	}

	transport, err := b.startWorker(ctx, options)

	b.mu.Lock()

	b.starting = false
	b.pending = nil

	if b.closed {
		b.mu.Unlock()

		if err == nil {
			b.stopWorker(transport, "Failed to stop worker after close during startup")
		}

		return errors.ErrBridgeClosed
	}

	if err != nil {
		b.mu.Unlock()

		return err
	}

	b.transport = transport

	// The loop runs on its own context: the caller's ctx may only cover
	// startup, and the loop must live until the worker exits or Close.
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	var egCtx context.Context

	b.eg, egCtx = errgroup.WithContext(loopCtx)

	lines, errs := transport.ReadLines(egCtx)

	b.eg.Go(func() error {
		return b.readLoop(egCtx, lines, errs)
	})

	b.started = true
	b.mu.Unlock()

	b.log.Info("Bridge started", "pid", transport.PID())

	return nil
}

// prepare claims the bridge for startup and applies options.
func (b *Bridge) prepare(options *config.Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrBridgeClosed
	}

	if b.started || b.starting {
		return errors.ErrAlreadyStarted
	}

	validator, err := event.NewValidator(options.TopicSchemas)
	if err != nil {
		return fmt.Errorf("compile topic schemas: %w", err)
	}

	log := loggerOf(options)

	b.sessionID = ulid.Make().String()
	b.log = log.With("component", "bridge", "session_id", b.sessionID)
	b.options = options
	b.validator = validator
	b.dispatcher.SetLogger(log)

	if options.TracerProvider != nil {
		b.tracer = options.TracerProvider.Tracer(instrumentationName)
	}

	b.starting = true

	return nil
}

// startWorker spawns the worker and waits for its handshake. While it waits
// the transport is published as pending so that Close can stop it.
func (b *Bridge) startWorker(ctx context.Context, options *config.Options) (config.Transport, error) {
	ctx, span := b.tracer.Start(ctx, spanStart, trace.WithAttributes(
		attribute.String("worker.path", options.WorkerPath),
		attribute.String("bridge.session_id", b.sessionID),
	))
	defer span.End()

	var transport config.Transport

	if options.Transport != nil {
		transport = options.Transport

		b.log.Debug("Using injected custom transport")
	} else {
		transport = subprocess.New(loggerOf(options), options)
	}

	if err := transport.Start(ctx); err != nil {
		recordError(span, err)

		return nil, fmt.Errorf("start worker: %w", err)
	}

	b.mu.Lock()
	closed := b.closed

	if !closed {
		b.pending = transport
	}
	b.mu.Unlock()

	if closed {
		recordError(span, errors.ErrBridgeClosed)
		b.stopWorker(transport, "Failed to stop worker after close during startup")

		return nil, errors.ErrBridgeClosed
	}

	if err := transport.AwaitReady(ctx); err != nil {
		recordError(span, err)
		b.stopWorker(transport, "Failed to stop worker after handshake failure")

		return nil, fmt.Errorf("await worker handshake: %w", err)
	}

	span.SetAttributes(attribute.Int("worker.pid", transport.PID()))

	return transport, nil
}

// stopWorker closes a transport that never reached the event loop.
func (b *Bridge) stopWorker(transport config.Transport, msg string) {
	if err := transport.Close(context.Background()); err != nil {
		b.log.Warn(msg, "error", err)
	}
}

// readLoop turns worker output lines into events and dispatches them in
// order. It is the only consumer of the line channel and publishes exactly
// one terminal event before returning.
func (b *Bridge) readLoop(ctx context.Context, lines <-chan []byte, errs <-chan error) error {
	defer close(b.done)
	defer b.log.Debug("Event loop stopped")

	var seq uint64

	for line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			b.log.Debug("Skipping blank line from worker")

			continue
		}

		seq++

		ev, warning := event.Parse(seq, line)
		if warning != nil {
			b.log.Warn("Worker line is not a JSON object, delivering as raw text",
				"seq", seq, "error", warning.Err)
		}

		if topic := ev.StringField(event.DiscriminantField); ev.Kind == event.KindDefault && event.IsReserved(topic) {
			b.log.Warn("Worker record uses a reserved topic, delivering to catch-all only",
				"seq", seq, "topic", topic)
		}

		b.validator.Validate(&ev)

		if ev.SchemaErr != nil {
			b.log.Warn("Event payload does not match topic schema",
				"seq", seq, "topic", ev.Topic, "error", ev.SchemaErr)
		}

		b.publish(ctx, ev)
	}

	readErr := <-errs
	if readErr != nil {
		b.log.Error("Event stream failed", "error", readErr)
		b.setFatalError(readErr)

		// Nothing reads the worker's output any more; stop it.
		if err := b.transport.Close(context.Background()); err != nil {
			b.log.Warn("Failed to stop worker after read failure", "error", err)
		}
	}

	exitCode := b.awaitExitCode()

	seq++
	b.publish(ctx, event.Exited(seq, readErr, exitCode))

	b.log.Info("Worker event stream ended", "events", seq, "exit_code", exitCode)

	return nil
}

// awaitExitCode waits briefly for the worker to be reaped after its output
// ended. Returns -1 if it is still running.
func (b *Bridge) awaitExitCode() int {
	timer := time.NewTimer(b.options.EffectiveGracePeriod())
	defer timer.Stop()

	select {
	case <-b.transport.Exited():
		return b.transport.ExitCode()
	case <-timer.C:
		b.log.Debug("Worker output closed but process still running")

		return -1
	}
}

// publish dispatches one event inside a span.
func (b *Bridge) publish(ctx context.Context, ev event.Event) {
	_, span := b.tracer.Start(ctx, spanEvent,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.Int64("event.seq", int64(ev.Seq)), //nolint:gosec // sequence numbers stay far below MaxInt64
			attribute.String("event.kind", ev.Kind.String()),
			attribute.String("event.topic", ev.Topic),
		),
	)
	defer span.End()

	if ev.Err != nil {
		recordError(span, ev.Err)
	}

	handlers := b.dispatcher.Publish(ev)

	span.SetAttributes(attribute.Int("event.handlers", handlers))
	b.log.Debug("Dispatched event", "seq", ev.Seq, "kind", ev.Kind.String(), "topic", ev.Topic, "handlers", handlers)
}

// SendCommand encodes text as a query and writes it to the worker.
//
// It returns as soon as the line is written and never waits for a reply;
// replies arrive as events. Safe for concurrent use.
//
// Returns ErrNotStarted before Start, ErrBridgeClosed after Close,
// ErrInvalidCommand for text that is not valid UTF-8, and WriteError when the
// worker's input is closed or the worker has exited.
func (b *Bridge) SendCommand(ctx context.Context, text string) error {
	b.mu.Lock()
	closed := b.closed
	started := b.started
	transport := b.transport
	b.mu.Unlock()

	if closed {
		return errors.ErrBridgeClosed
	}

	if !started {
		return errors.ErrNotStarted
	}

	ctx, span := b.tracer.Start(ctx, spanSendCommand,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.Int("command.len", len(text))),
	)
	defer span.End()

	line, err := protocol.EncodeQuery(text)
	if err != nil {
		recordError(span, err)

		return err
	}

	if err := transport.SendLine(ctx, line); err != nil {
		recordError(span, err)
		b.log.Warn("Failed to send command", "error", err)

		return err
	}

	b.log.Debug("Sent command", "command_len", len(text))

	return nil
}

// Subscribe registers handler for events whose discriminant equals topic.
// Use "*" (or SubscribeAll) to receive every event.
func (b *Bridge) Subscribe(topic string, handler dispatch.Handler) string {
	return b.dispatcher.Subscribe(topic, handler)
}

// SubscribeAll registers handler for every event, including raw text lines,
// records without a discriminant and the terminal event.
func (b *Bridge) SubscribeAll(handler dispatch.Handler) string {
	return b.dispatcher.SubscribeAll(handler)
}

// Unsubscribe removes a subscription. Returns false if id is unknown.
func (b *Bridge) Unsubscribe(id string) bool {
	return b.dispatcher.Unsubscribe(id)
}

// Done returns a channel closed after the terminal event has been delivered,
// or when Close is called on a bridge that never started.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the read error that ended the event stream, or nil if it ended
// cleanly or is still running.
func (b *Bridge) Err() error {
	b.errMu.RLock()
	defer b.errMu.RUnlock()

	return b.fatalErr
}

// PID returns the worker's process id, or 0 if no worker is running.
func (b *Bridge) PID() int {
	b.mu.Lock()
	transport := b.transport
	b.mu.Unlock()

	if transport == nil {
		return 0
	}

	return transport.PID()
}

// SessionID returns the identifier assigned at Start, or "" before Start.
func (b *Bridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sessionID
}

// Close stops the worker and waits for the event loop to deliver the
// terminal event.
//
// The bridge cannot be restarted; create a new one with New. Safe to call
// multiple times. Must not be called from an event handler, since handlers
// run on the loop Close waits for.
func (b *Bridge) Close() error {
	var closeErr error

	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		wasStarted := b.started
		transport := b.transport
		pending := b.pending
		b.mu.Unlock()

		if !wasStarted {
			if pending != nil {
				b.log.Info("Closing bridge during startup")

				closeErr = pending.Close(context.Background())
			}

			close(b.done)

			return
		}

		b.log.Info("Closing bridge")

		// Stopping the worker ends its output, so the loop drains every
		// pending line before the terminal event.
		closeErr = transport.Close(context.Background())

		b.cancel()

		if err := b.eg.Wait(); err != nil && closeErr == nil {
			closeErr = err
		}

		b.log.Info("Bridge closed")
	})

	return closeErr
}

// setFatalError stores the first fatal error encountered.
func (b *Bridge) setFatalError(err error) {
	if err == nil {
		return
	}

	b.errMu.Lock()
	defer b.errMu.Unlock()

	if b.fatalErr == nil {
		b.fatalErr = err
	}
}

// loggerOf returns the configured logger, or one that discards everything.
func loggerOf(options *config.Options) *slog.Logger {
	if options.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return options.Logger
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

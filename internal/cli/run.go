package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	workerbridge "github.com/wagiedev/workerbridge"
)

// maxCommandSize is the longest stdin line accepted as a command.
const maxCommandSize = 1024 * 1024

// eventLine is the JSON shape of an event printed on stdout.
type eventLine struct {
	Seq        uint64         `json:"seq"`
	Kind       string         `json:"kind"`
	Topic      string         `json:"topic,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Raw        string         `json:"raw,omitempty"`
	Warning    string         `json:"warning,omitempty"`
	SchemaErr  string         `json:"schema_error,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExitCode   *int           `json:"exit_code,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

func newEventLine(ev workerbridge.Event) eventLine {
	line := eventLine{
		Seq:        ev.Seq,
		Kind:       ev.Kind.String(),
		Topic:      ev.Topic,
		Payload:    ev.Payload,
		ReceivedAt: ev.ReceivedAt,
	}

	if ev.Kind == workerbridge.KindRaw {
		line.Raw = ev.Raw
	}

	if ev.Warning != nil {
		line.Warning = ev.Warning.Error()
	}

	if ev.SchemaErr != nil {
		line.SchemaErr = ev.SchemaErr.Error()
	}

	if ev.Err != nil {
		line.Error = ev.Err.Error()
	}

	if ev.Terminal() {
		code := ev.ExitCode
		line.ExitCode = &code
	}

	return line
}

// eventPrinter writes events as JSON lines.
type eventPrinter struct {
	log *slog.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

func newEventPrinter(log *slog.Logger, w io.Writer) *eventPrinter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	return &eventPrinter{log: log, enc: enc}
}

func (p *eventPrinter) handle(ev workerbridge.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enc.Encode(newEventLine(ev)); err != nil {
		p.log.Error("Failed to write event", "seq", ev.Seq, "error", err)
	}
}

// run starts the worker and pumps stdin lines to it until the worker exits,
// stdin ends, or ctx is cancelled.
func run(ctx context.Context, cfg Config, in io.Reader, out, errOut io.Writer) error {
	log, err := newLogger(cfg.Log, errOut)
	if err != nil {
		return err
	}

	log = log.With("component", "cli")

	opts, err := cfg.bridgeOptions()
	if err != nil {
		return err
	}

	provider, shutdownTracing, err := newTracerProvider(cfg.Trace, errOut)
	if err != nil {
		return err
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if shutdownErr := shutdownTracing(flushCtx); shutdownErr != nil {
			log.Warn("Failed to flush traces", "error", shutdownErr)
		}
	}()

	opts = append(opts,
		workerbridge.WithLogger(log),
		workerbridge.WithTracerProvider(provider),
	)

	printer := newEventPrinter(log, out)

	return workerbridge.WithBridge(ctx,
		func(b workerbridge.Bridge) {
			b.SubscribeAll(printer.handle)
		},
		func(b workerbridge.Bridge) error {
			log.Info("Worker ready", "pid", b.PID())

			return pump(ctx, log, b, in)
		},
		opts...,
	)
}

// commandReader scans command lines from in on its own goroutine.
type commandReader struct {
	in    io.Reader
	lines chan string
	err   chan error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newCommandReader(in io.Reader) *commandReader {
	r := &commandReader{
		in:    in,
		lines: make(chan string),
		err:   make(chan error, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	go r.run()

	return r
}

func (r *commandReader) run() {
	defer close(r.done)

	var err error

	defer func() {
		r.err <- err
		close(r.lines)
	}()

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCommandSize)

	for scanner.Scan() {
		select {
		case r.lines <- scanner.Text():
		case <-r.stop:
			return
		}
	}

	select {
	case <-r.stop:
	default:
		err = scanner.Err()
	}
}

// Stop releases the reader goroutine. A Read blocked on an *os.File such as
// a pipe or terminal is woken by an expired read deadline. Other readers keep
// the goroutine until their pending Read returns.
func (r *commandReader) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })

	if d, ok := r.in.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = d.SetReadDeadline(time.Now())
	}
}

// pump forwards stdin lines as commands. It returns nil when stdin ends or
// ctx is cancelled, and the bridge's read error when the worker stops first.
func pump(ctx context.Context, log *slog.Logger, b workerbridge.Bridge, in io.Reader) error {
	commands := newCommandReader(in)
	defer commands.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Interrupted, stopping worker")

			return nil

		case <-b.Done():
			if err := b.Err(); err != nil {
				return fmt.Errorf("worker output: %w", err)
			}

			return nil

		case line, ok := <-commands.lines:
			if !ok {
				if err := <-commands.err; err != nil {
					return fmt.Errorf("read commands: %w", err)
				}

				log.Info("Input closed, stopping worker")

				return nil
			}

			if strings.TrimSpace(line) == "" {
				continue
			}

			if err := b.SendCommand(ctx, line); err != nil {
				return fmt.Errorf("send command: %w", err)
			}
		}
	}
}

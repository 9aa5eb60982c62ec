package subprocess

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/wagiedev/workerbridge/internal/config"
	"github.com/wagiedev/workerbridge/internal/errors"
	"github.com/wagiedev/workerbridge/internal/protocol"
)

const (
	// ReadyToken is the first line a worker prints once it accepts commands.
	ReadyToken = "READY"

	// lineBufferSize is the capacity of the channel returned by ReadLines.
	lineBufferSize = 64

	// initialScanBufferSize is the scanner's starting buffer; it grows up to
	// Options.MaxLineSize.
	initialScanBufferSize = 64 * 1024

	// writeAbandonTimeout bounds the wait for a write goroutine after stdin
	// was closed to unblock it.
	writeAbandonTimeout = time.Second
)

var errEmptyWorkerPath = stderrors.New("worker path is empty")

// Transport implements config.Transport by spawning the worker as a subprocess.
//
// The worker's stdin and stdout are owned exclusively by the Transport. Stdout
// is consumed by one scanner: first by AwaitReady for the handshake line, then
// by the single goroutine started by ReadLines. Stderr is passed through to the
// host untouched.
type Transport struct {
	log     *slog.Logger
	options *config.Options

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	scanner *bufio.Scanner

	writeMu sync.Mutex // Serializes stdin writes

	mu          sync.Mutex // Protects the fields below
	stdinClosed bool       // Whether stdin was closed by the bridge
	closing     bool       // Whether Close() has been called (intentional shutdown)

	handshakeStarted atomic.Bool
	ready            atomic.Bool
	readerStarted    atomic.Bool

	waitOnce sync.Once
	exited   chan struct{}
	exitCode atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Compile-time verification that Transport implements the config.Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates a transport for the worker described by options.
//
// The logger is used for operation tracking and debugging. Nothing is spawned
// until Start is called.
func New(log *slog.Logger, options *config.Options) *Transport {
	if options == nil {
		options = &config.Options{}
	}

	t := &Transport{
		log:     log.With("component", "worker_transport"),
		options: options,
		exited:  make(chan struct{}),
	}

	t.exitCode.Store(-1)

	return t
}

// Start spawns the worker process.
//
// The executable is resolved with exec.LookPath, so a bare name is searched in
// PATH and an explicit path must exist and be executable. Stdin and stdout are
// piped; stderr goes to Options.Stderr or the host's stderr.
//
// The context only bounds startup. Cancelling it later does not stop the worker;
// use Close for that.
//
// Returns SpawnError if the executable cannot be found or started.
func (t *Transport) Start(ctx context.Context) error {
	if t.cmd != nil {
		return errors.ErrAlreadyStarted
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	path := t.options.WorkerPath
	if path == "" {
		return &errors.SpawnError{Path: path, Err: errEmptyWorkerPath}
	}

	t.log.Info("Starting worker subprocess", "worker_path", path)

	resolved, err := exec.LookPath(path)
	if err != nil {
		t.log.Error("Failed to resolve worker executable", "worker_path", path, "error", err)

		return &errors.SpawnError{Path: path, Err: err}
	}

	//nolint:gosec // G204: launching a configured worker executable is the purpose of this package
	cmd := exec.Command(resolved, t.options.Args...)
	cmd.Dir = t.options.Cwd
	cmd.Env = buildEnvironment(t.options.Env)

	cmd.Stderr = t.options.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.log.Error("Failed to create stdin pipe", "error", err)

		return &errors.SpawnError{Path: path, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()

		t.log.Error("Failed to create stdout pipe", "error", err)

		return &errors.SpawnError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start worker process", "error", err)

		return &errors.SpawnError{Path: path, Err: fmt.Errorf("start process: %w", err)}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, initialScanBufferSize), t.options.EffectiveMaxLineSize())

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.scanner = scanner
	t.mu.Unlock()

	t.log.Info("Worker subprocess started", "pid", cmd.Process.Pid)

	return nil
}

// AwaitReady blocks until the worker's first output line arrives and checks
// that it is the READY token (trailing whitespace ignored).
//
// It reads exactly one line. Any other content, end-of-stream, a read error,
// ctx cancellation or Options.HandshakeTimeout yields HandshakeError. When the
// wait is abandoned the worker is killed so the pending read finishes before
// AwaitReady returns; the output stream is never read concurrently.
func (t *Transport) AwaitReady(ctx context.Context) error {
	if t.scanner == nil {
		return &errors.HandshakeError{Err: errors.ErrNotStarted}
	}

	if !t.handshakeStarted.CompareAndSwap(false, true) {
		return errors.ErrHandshakeDone
	}

	t.log.Debug("Waiting for worker handshake")

	type result struct {
		line string
		ok   bool
		err  error
	}

	read := make(chan result, 1)

	go func() {
		if t.scanner.Scan() {
			read <- result{line: t.scanner.Text(), ok: true}

			return
		}

		read <- result{err: t.scanner.Err()}
	}()

	var timeout <-chan time.Time

	if t.options.HandshakeTimeout > 0 {
		timer := time.NewTimer(t.options.HandshakeTimeout)
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case res := <-read:
		return t.checkReady(res.line, res.ok, res.err)

	case <-timeout:
		t.log.Warn("Worker handshake timed out", "timeout", t.options.HandshakeTimeout)
		t.kill()
		<-read

		return &errors.HandshakeError{
			Err: fmt.Errorf("%w after %s", errors.ErrHandshakeTimeout, t.options.HandshakeTimeout),
		}

	case <-ctx.Done():
		t.log.Debug("Context cancelled during handshake", "error", ctx.Err())
		t.kill()
		<-read

		return &errors.HandshakeError{Err: ctx.Err()}
	}
}

// checkReady validates the handshake line.
func (t *Transport) checkReady(line string, ok bool, readErr error) error {
	if !ok {
		if readErr != nil {
			t.log.Error("Failed to read handshake line", "error", readErr)

			return &errors.HandshakeError{Err: &errors.ReadError{Err: readErr}}
		}

		t.log.Error("Worker closed its output before handshake")

		return &errors.HandshakeError{Err: errors.ErrWorkerExited}
	}

	if strings.TrimRightFunc(line, unicode.IsSpace) != ReadyToken {
		t.log.Error("Unexpected handshake line", "line", line)

		return &errors.HandshakeError{Line: line}
	}

	t.ready.Store(true)
	t.log.Info("Worker handshake complete")

	return nil
}

// ReadLines streams the worker's output lines after a successful handshake.
//
// A single goroutine continues reading with the handshake's scanner. Lines
// are copied before being sent, so receivers own them. The goroutine exits
// when the worker closes its output, a read fails, or ctx is cancelled; it
// checks ctx between lines. A read failure other than end-of-stream is sent
// as ReadError. Both channels are closed when the goroutine exits.
func (t *Transport) ReadLines(ctx context.Context) (<-chan []byte, <-chan error) {
	lines := make(chan []byte, lineBufferSize)
	errs := make(chan error, 1)

	if !t.ready.Load() {
		errs <- errors.ErrNotStarted

		close(lines)
		close(errs)

		return lines, errs
	}

	if !t.readerStarted.CompareAndSwap(false, true) {
		errs <- stderrors.New("worker output already has a reader")

		close(lines)
		close(errs)

		return lines, errs
	}

	go func() {
		defer t.reap()
		defer close(lines)
		defer close(errs)
		defer t.log.Debug("ReadLines goroutine stopped")

		lineCount := 0

		for t.scanner.Scan() {
			select {
			case <-ctx.Done():
				t.log.Debug("Context cancelled during scan", "error", ctx.Err())

				return
			default:
			}

			line := bytes.Clone(t.scanner.Bytes())

			lineCount++
			t.log.Debug("Received line from worker", "line_count", lineCount, "line_len", len(line))

			select {
			case lines <- line:
			case <-ctx.Done():
				t.log.Debug("Context cancelled during line send", "error", ctx.Err())

				return
			}
		}

		if err := t.scanner.Err(); err != nil {
			if t.isClosing() {
				t.log.Debug("Worker output closed during shutdown", "error", err)

				return
			}

			t.log.Error("Scanner error while reading worker output", "error", err)

			errs <- &errors.ReadError{Err: err}

			return
		}

		t.log.Info("Worker closed its output", "line_count", lineCount)
	}()

	return lines, errs
}

// SendLine writes one line to the worker's stdin.
//
// A newline is appended if missing; the line must not contain any other
// newline. The whole line is written with a single Write while holding the
// write mutex, so concurrent callers never interleave. SendLine never reads.
//
// If ctx is cancelled during a blocked write, stdin is closed to unblock it
// and later calls fail with ErrStdinClosed.
//
// Returns WriteError when the pipe is closed or broken, or the worker has exited.
func (t *Transport) SendLine(ctx context.Context, line []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return t.writeLine(ctx, line)
}

// writeLine performs SendLine's write. The caller must hold writeMu.
func (t *Transport) writeLine(ctx context.Context, line []byte) error {
	t.mu.Lock()
	stdin := t.stdin
	stdinClosed := t.stdinClosed
	t.mu.Unlock()

	if stdin == nil {
		return &errors.WriteError{Err: errors.ErrNotStarted}
	}

	if stdinClosed {
		return &errors.WriteError{Err: errors.ErrStdinClosed}
	}

	select {
	case <-t.exited:
		return &errors.WriteError{Err: errors.ErrWorkerExited}
	default:
	}

	if err := ctx.Err(); err != nil {
		return &errors.WriteError{Err: err}
	}

	body := bytes.TrimSuffix(line, []byte("\n"))
	if bytes.IndexByte(body, '\n') >= 0 {
		return &errors.WriteError{Err: fmt.Errorf("%w: line contains an embedded newline", errors.ErrInvalidCommand)}
	}

	// Copy so the caller's backing array is never mutated.
	data := make([]byte, len(body)+1)
	copy(data, body)
	data[len(body)] = '\n'

	t.log.Debug("Sending line to worker", "data_len", len(data))

	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.log.Error("Failed to write line to worker", "error", err)

			return &errors.WriteError{Err: err}
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")
		t.closeStdin()

		select {
		case <-done:
		case <-time.After(writeAbandonTimeout):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return &errors.WriteError{Err: ctx.Err()}
	}
}

// Exited returns a channel closed once the worker process has been reaped.
func (t *Transport) Exited() <-chan struct{} {
	return t.exited
}

// ExitCode returns the worker's exit code, or -1 if it has not been reaped or
// was terminated by a signal.
func (t *Transport) ExitCode() int {
	return int(t.exitCode.Load())
}

// PID returns the worker's process id, or 0 if not started.
func (t *Transport) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}

	return t.cmd.Process.Pid
}

// Close shuts the worker down, escalating step by step:
//  1. send the shutdown command (only after a successful handshake, and only
//     if no other write holds the pipe) and close stdin
//  2. after GracePeriod, send SIGTERM
//  3. after another GracePeriod, or as soon as ctx ends, SIGKILL
//
// It's safe to call Close multiple times or before Start.
func (t *Transport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.closeErr = t.shutdown(ctx)
	})

	return t.closeErr
}

func (t *Transport) shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	cmd := t.cmd
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	grace := t.options.EffectiveGracePeriod()

	t.log.Debug("Stopping worker", "pid", pid)

	if t.ready.Load() {
		t.sendShutdown(ctx, grace)
	}

	t.closeStdin()

	// Nobody is reading stdout, so reap here; this also claims the output
	// stream so ReadLines cannot start afterwards.
	if t.readerStarted.CompareAndSwap(false, true) {
		t.reap()
	}

	if t.waitExit(ctx, grace) {
		t.log.Info("Worker exited", "pid", pid, "exit_code", t.ExitCode())

		return nil
	}

	t.log.Debug("Worker still running after stdin closed, sending SIGTERM", "pid", pid)

	if err := terminate(cmd.Process); err != nil {
		t.log.Debug("SIGTERM failed", "pid", pid, "error", err)
	}

	if t.waitExit(ctx, grace) {
		t.log.Info("Worker exited after SIGTERM", "pid", pid)

		return nil
	}

	t.log.Warn("Worker still running after SIGTERM, killing", "pid", pid)

	if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker process (pid %d): %w", pid, err)
	}

	select {
	case <-t.exited:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("worker process (pid %d) not reaped after kill", pid)
	}
}

// sendShutdown asks the worker to exit on its own. Failures are expected when
// the worker is already gone and are only logged.
//
// The command is skipped when another write holds the pipe: that write may be
// blocked on a worker that stopped reading, and closing stdin afterwards is
// what releases it.
func (t *Transport) sendShutdown(ctx context.Context, grace time.Duration) {
	if !t.writeMu.TryLock() {
		t.log.Debug("Write in progress, skipping shutdown command")

		return
	}
	defer t.writeMu.Unlock()

	line, err := protocol.EncodeShutdown()
	if err != nil {
		t.log.Debug("Failed to encode shutdown command", "error", err)

		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := t.writeLine(sendCtx, line); err != nil {
		t.log.Debug("Could not send shutdown command", "error", err)
	}
}

// waitExit waits up to d for the worker to be reaped.
func (t *Transport) waitExit(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.exited:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		select {
		case <-t.exited:
			return true
		default:
			return false
		}
	}
}

// reap waits for the process exactly once.
//
// After a successful handshake the remaining output is drained first, since
// Wait closes the pipe. Otherwise stdout is closed unread: output following a
// rejected handshake is never consumed, and a worker still writing gets a
// broken pipe.
func (t *Transport) reap() {
	t.waitOnce.Do(func() {
		drain := t.ready.Load()
		if !drain {
			_ = t.stdout.Close()
		}

		go func() {
			if drain {
				_, _ = io.Copy(io.Discard, t.stdout)
			}

			err := t.cmd.Wait()

			if state := t.cmd.ProcessState; state != nil {
				t.exitCode.Store(int64(state.ExitCode()))
			}

			if err != nil && !t.isClosing() {
				t.log.Warn("Worker process exited with error", "exit_code", t.ExitCode(), "error", err)
			} else {
				t.log.Debug("Worker process reaped", "exit_code", t.ExitCode())
			}

			close(t.exited)
		}()
	})
}

// closeStdin closes the stdin pipe once.
func (t *Transport) closeStdin() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin != nil && !t.stdinClosed {
		t.log.Debug("Closing stdin pipe")

		_ = t.stdin.Close()
		t.stdinClosed = true
	}
}

// kill force-stops the worker, ignoring an already-finished process.
func (t *Transport) kill() {
	if t.cmd == nil || t.cmd.Process == nil {
		return
	}

	if err := t.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		t.log.Debug("Failed to kill worker", "error", err)
	}
}

func (t *Transport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closing
}

// buildEnvironment appends extra variables to the host environment.
// A nil result makes the worker inherit the host environment unchanged.
func buildEnvironment(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}

	env := os.Environ()

	for _, key := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, key+"="+extra[key])
	}

	return env
}

// Package config provides configuration types for the worker bridge.
package config

import "context"

// Transport defines the interface for talking to a worker over a line protocol.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods.
//
// The default implementation is subprocess.Transport which spawns the worker
// as a child process. Custom transports can be injected via Options.Transport.
type Transport interface {
	// Start launches the worker. Nothing is read or written yet.
	Start(ctx context.Context) error

	// AwaitReady performs the one-time READY handshake.
	// It must succeed before ReadLines or SendLine are used.
	AwaitReady(ctx context.Context) error

	// ReadLines returns channels for receiving output lines and read errors.
	// Only one reader may exist. Both channels are closed when the output
	// stream ends; a clean end-of-stream sends no error.
	ReadLines(ctx context.Context) (<-chan []byte, <-chan error)

	// SendLine writes one newline-terminated line to the worker.
	// This method must be safe for concurrent use.
	SendLine(ctx context.Context, line []byte) error

	// Exited returns a channel closed once the worker process has been reaped.
	Exited() <-chan struct{}

	// ExitCode returns the worker's exit code, or -1 if unknown.
	ExitCode() int

	// PID returns the worker's process id, or 0 if not running.
	PID() int

	// Close shuts the worker down and releases resources.
	// It's safe to call Close multiple times.
	Close(ctx context.Context) error
}

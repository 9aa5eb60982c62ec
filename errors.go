package workerbridge

import "github.com/wagiedev/workerbridge/internal/errors"

// Re-export error types from internal package

// SpawnError indicates the worker executable could not be found or started.
type SpawnError = errors.SpawnError

// HandshakeError indicates the worker's first line was not READY, or it
// exited or timed out before sending one.
type HandshakeError = errors.HandshakeError

// WriteError indicates a command could not be written to the worker.
type WriteError = errors.WriteError

// ReadError indicates the worker's output could not be read. It is carried
// by the terminal event and returned by Bridge.Err.
type ReadError = errors.ReadError

// ParseWarning describes an output line that was not a JSON object.
// It is attached to raw events and never returned as an error.
type ParseWarning = errors.ParseWarning

// BridgeError is the base interface for all bridge errors.
type BridgeError = errors.BridgeError

// Re-export sentinel errors from internal package.
var (
	// ErrNotStarted indicates the bridge has not been started.
	ErrNotStarted = errors.ErrNotStarted

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.ErrAlreadyStarted

	// ErrBridgeClosed indicates the bridge has been closed and cannot be reused.
	ErrBridgeClosed = errors.ErrBridgeClosed

	// ErrStdinClosed indicates the worker's input was closed.
	ErrStdinClosed = errors.ErrStdinClosed

	// ErrWorkerExited indicates the worker process has exited.
	ErrWorkerExited = errors.ErrWorkerExited

	// ErrHandshakeTimeout indicates the worker did not print READY in time.
	ErrHandshakeTimeout = errors.ErrHandshakeTimeout

	// ErrInvalidCommand indicates command text that cannot be sent losslessly.
	ErrInvalidCommand = errors.ErrInvalidCommand
)

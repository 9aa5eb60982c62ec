package errors

import (
	"errors"
	"fmt"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*SpawnError)(nil)
	_ BridgeError = (*HandshakeError)(nil)
	_ BridgeError = (*WriteError)(nil)
	_ BridgeError = (*ReadError)(nil)
	_ BridgeError = (*ParseWarning)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNotStarted indicates the bridge has not completed Start.
	ErrNotStarted = errors.New("bridge not started")

	// ErrAlreadyStarted indicates Start was called on a running bridge.
	ErrAlreadyStarted = errors.New("bridge already started")

	// ErrBridgeClosed indicates the bridge has been closed and cannot be reused.
	ErrBridgeClosed = errors.New("bridge closed: bridges are single-use, create a new one with NewBridge()")

	// ErrStdinClosed indicates the worker's stdin was closed by the bridge.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrWorkerExited indicates the worker process is no longer running.
	ErrWorkerExited = errors.New("worker exited")

	// ErrHandshakeTimeout indicates the worker did not send READY in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrHandshakeDone indicates the handshake was already attempted.
	ErrHandshakeDone = errors.New("handshake already performed")

	// ErrInvalidCommand indicates command text that cannot be encoded losslessly.
	ErrInvalidCommand = errors.New("invalid command")
)

// SpawnError indicates the worker process could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn worker %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *SpawnError) IsBridgeError() bool { return true }

// HandshakeError indicates the worker did not complete the READY handshake.
// Line holds the first line the worker sent, if any.
type HandshakeError struct {
	Line string
	Err  error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker handshake failed: %v", e.Err)
	}

	return fmt.Sprintf("worker handshake failed: expected READY, got %q", e.Line)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *HandshakeError) IsBridgeError() bool { return true }

// WriteError indicates a command could not be written to the worker's stdin.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write to worker: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *WriteError) IsBridgeError() bool { return true }

// ReadError indicates the worker's stdout failed for a reason other than a
// clean end-of-stream.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read from worker: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ReadError) IsBridgeError() bool { return true }

// ParseWarning indicates a worker output line that is not a JSON object.
// The line is still delivered as a raw event; this error is never fatal.
type ParseWarning struct {
	Raw string
	Err error
}

func (e *ParseWarning) Error() string {
	return fmt.Sprintf("failed to decode JSON from worker: %v", e.Err)
}

func (e *ParseWarning) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ParseWarning) IsBridgeError() bool { return true }

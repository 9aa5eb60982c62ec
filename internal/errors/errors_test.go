package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpawnError(t *testing.T) {
	root := errors.New("executable file not found in $PATH")
	err := &SpawnError{Path: "no-such-worker", Err: root}

	require.Equal(
		t,
		`failed to spawn worker "no-such-worker": executable file not found in $PATH`,
		err.Error(),
	)
	require.ErrorIs(t, err, root)
	require.True(t, err.IsBridgeError())
}

func TestHandshakeError_WithLine(t *testing.T) {
	err := &HandshakeError{Line: "HELLO"}

	require.Equal(t, `worker handshake failed: expected READY, got "HELLO"`, err.Error())
	require.NoError(t, err.Unwrap())
	require.True(t, err.IsBridgeError())
}

func TestHandshakeError_WithUnderlyingError(t *testing.T) {
	err := &HandshakeError{Err: ErrWorkerExited}

	require.Equal(t, "worker handshake failed: worker exited", err.Error())
	require.ErrorIs(t, err, ErrWorkerExited)
}

func TestWriteError(t *testing.T) {
	root := errors.New("broken pipe")
	err := &WriteError{Err: root}

	require.Equal(t, "failed to write to worker: broken pipe", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsBridgeError())
}

func TestReadError(t *testing.T) {
	root := errors.New("token too long")
	err := &ReadError{Err: root}

	require.Equal(t, "failed to read from worker: token too long", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsBridgeError())
}

func TestParseWarning(t *testing.T) {
	root := errors.New("invalid character 'h' looking for beginning of value")
	err := &ParseWarning{Raw: "hello", Err: root}

	require.Equal(
		t,
		"failed to decode JSON from worker: invalid character 'h' looking for beginning of value",
		err.Error(),
	)
	require.ErrorIs(t, err, root)
	require.True(t, err.IsBridgeError())
}

func TestErrorsAsType(t *testing.T) {
	var wrapped error = &WriteError{Err: ErrWorkerExited}

	writeErr, ok := errors.AsType[*WriteError](wrapped)
	require.True(t, ok)
	require.ErrorIs(t, writeErr, ErrWorkerExited)

	_, ok = errors.AsType[*ReadError](wrapped)
	require.False(t, ok)
}

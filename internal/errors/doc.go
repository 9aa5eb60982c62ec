// Package errors defines error types for the worker bridge.
//
// This package provides structured error types that wrap the different failure
// scenarios of supervising a worker process: spawning it, waiting for its
// handshake, writing commands to it and reading its output. All error types
// support error unwrapping and can be checked using errors.Is, errors.As, and
// errors.AsType.
package errors

package config

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultGracePeriod is how long Close waits at each shutdown step before
	// escalating (shutdown command, then SIGTERM, then SIGKILL).
	DefaultGracePeriod = 3 * time.Second

	// DefaultMaxLineSize is the largest worker output line the bridge accepts.
	DefaultMaxLineSize = 1024 * 1024 // 1MB
)

// Options configures the behavior of the worker bridge.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// WorkerPath is the worker executable. A bare name is looked up in PATH.
	WorkerPath string

	// Args are passed to the worker executable.
	Args []string

	// Env provides additional environment variables for the worker process.
	// They are appended to the host environment.
	Env map[string]string

	// Cwd sets the working directory for the worker process.
	// If empty, the worker inherits the host's working directory.
	Cwd string

	// Stderr receives the worker's diagnostic stream unmodified.
	// If nil, the worker writes directly to the host's stderr.
	Stderr io.Writer

	// HandshakeTimeout bounds the wait for the READY line.
	// Zero waits until the worker answers, exits, or the Start context ends.
	HandshakeTimeout time.Duration

	// GracePeriod is the wait between shutdown escalation steps.
	// If zero, DefaultGracePeriod is used.
	GracePeriod time.Duration

	// MaxLineSize is the maximum accepted length of a worker output line.
	// If zero, DefaultMaxLineSize is used.
	MaxLineSize int

	// TracerProvider creates spans for sent commands and dispatched events.
	// If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// TopicSchemas validates event payloads per topic. Payloads that fail
	// validation are still delivered, with Event.SchemaErr set.
	TopicSchemas map[string]*jsonschema.Schema

	// Transport allows injecting a custom transport implementation.
	// If nil, the default subprocess transport is created automatically.
	Transport Transport `json:"-"`
}

// EffectiveGracePeriod returns GracePeriod or its default.
func (o *Options) EffectiveGracePeriod() time.Duration {
	if o.GracePeriod > 0 {
		return o.GracePeriod
	}

	return DefaultGracePeriod
}

// EffectiveMaxLineSize returns MaxLineSize or its default.
func (o *Options) EffectiveMaxLineSize() int {
	if o.MaxLineSize > 0 {
		return o.MaxLineSize
	}

	return DefaultMaxLineSize
}

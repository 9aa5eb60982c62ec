package workerbridge

import (
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/workerbridge/internal/config"
)

// Options holds the bridge configuration assembled from Option values.
type Options = config.Options

// Default configuration values.
const (
	DefaultGracePeriod = config.DefaultGracePeriod
	DefaultMaxLineSize = config.DefaultMaxLineSize
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ===== Worker process =====

// WithWorkerPath sets the worker executable.
// A bare name is searched in PATH.
func WithWorkerPath(path string) Option {
	return func(o *Options) {
		o.WorkerPath = path
	}
}

// WithArgs sets the worker's command-line arguments.
func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.Args = args
	}
}

// WithEnv adds environment variables for the worker.
// They are appended to the host environment; repeated calls merge.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}

		maps.Copy(o.Env, env)
	}
}

// WithCwd sets the working directory for the worker process.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithStderr redirects the worker's stderr. By default it goes to the
// host's stderr unchanged.
func WithStderr(w io.Writer) Option {
	return func(o *Options) {
		o.Stderr = w
	}
}

// ===== Timing and limits =====

// WithHandshakeTimeout bounds the wait for the READY line.
// Zero (the default) waits indefinitely.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.HandshakeTimeout = timeout
	}
}

// WithGracePeriod sets how long Close waits at each shutdown step before
// escalating. Default: 3s.
func WithGracePeriod(grace time.Duration) Option {
	return func(o *Options) {
		o.GracePeriod = grace
	}
}

// WithMaxLineSize sets the longest accepted worker output line in bytes.
// A longer line ends the event stream with a ReadError. Default: 1MB.
func WithMaxLineSize(size int) Option {
	return func(o *Options) {
		o.MaxLineSize = size
	}
}

// ===== Observability =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithTracerProvider enables OpenTelemetry spans for Start, SendCommand and
// every dispatched event.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = provider
	}
}

// ===== Events =====

// WithTopicSchema validates payloads of the given topic against schema.
// Events that fail validation are still delivered with Event.SchemaErr set.
func WithTopicSchema(topic string, schema *jsonschema.Schema) Option {
	return func(o *Options) {
		if o.TopicSchemas == nil {
			o.TopicSchemas = make(map[string]*jsonschema.Schema)
		}

		o.TopicSchemas[topic] = schema
	}
}

// ===== Advanced =====

// WithTransport injects a custom transport implementation.
// The transport must implement the Transport interface.
func WithTransport(transport Transport) Option {
	return func(o *Options) {
		o.Transport = transport
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sirupsen/logrus"
)

// logrusHandler adapts logrus to the slog.Handler interface, so the bridge's
// slog output is formatted and filtered by logrus.
type logrusHandler struct {
	logger *logrus.Logger
	attrs  []slog.Attr
	groups []string
}

// newLogrusHandler creates a slog.Handler that writes to logger.
func newLogrusHandler(logger *logrus.Logger) slog.Handler {
	return &logrusHandler{logger: logger}
}

// newLogger builds the command's logger from cfg, writing to w.
func newLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q: want text or json", cfg.Format)
	}

	return slog.New(newLogrusHandler(logger)), nil
}

func (h *logrusHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.IsLevelEnabled(slogToLogrusLevel(level))
}

func (h *logrusHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make(logrus.Fields, record.NumAttrs()+len(h.attrs))

	for _, attr := range h.attrs {
		fields[h.buildKey(attr.Key)] = attrValue(attr.Value)
	}

	record.Attrs(func(attr slog.Attr) bool {
		fields[h.buildKey(attr.Key)] = attrValue(attr.Value)

		return true
	})

	entry := h.logger.WithFields(fields)
	if !record.Time.IsZero() {
		entry = entry.WithTime(record.Time)
	}

	entry.Log(slogToLogrusLevel(record.Level), record.Message)

	return nil
}

func (h *logrusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &logrusHandler{
		logger: h.logger,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *logrusHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name

	return &logrusHandler{
		logger: h.logger,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// buildKey creates a field key with group prefix.
func (h *logrusHandler) buildKey(key string) string {
	if len(h.groups) == 0 {
		return key
	}

	return strings.Join(h.groups, ".") + "." + key
}

// attrValue unwraps errors to their message so the JSON formatter does not
// render them as empty objects.
func attrValue(v slog.Value) any {
	v = v.Resolve()

	if err, ok := v.Any().(error); ok {
		return err.Error()
	}

	return v.Any()
}

// slogToLogrusLevel maps slog levels to logrus levels.
func slogToLogrusLevel(level slog.Level) logrus.Level {
	switch {
	case level >= slog.LevelError:
		return logrus.ErrorLevel
	case level >= slog.LevelWarn:
		return logrus.WarnLevel
	case level >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

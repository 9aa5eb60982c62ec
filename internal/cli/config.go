package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	workerbridge "github.com/wagiedev/workerbridge"
)

// EnvPrefix prefixes environment overrides, e.g. WORKERBRIDGE_WORKER_PATH
// for worker.path.
const EnvPrefix = "WORKERBRIDGE"

var errNoWorker = errors.New("no worker configured: pass it as an argument, set worker.path, or WORKERBRIDGE_WORKER_PATH")

// Config is the command configuration.
type Config struct {
	Worker WorkerConfig `mapstructure:"worker"`
	Log    LogConfig    `mapstructure:"log"`

	// Trace exports spans to stderr.
	Trace bool `mapstructure:"trace"`
}

// WorkerConfig describes the worker process.
type WorkerConfig struct {
	Path             string            `mapstructure:"path"`
	Args             []string          `mapstructure:"args"`
	Cwd              string            `mapstructure:"cwd"`
	Env              map[string]string `mapstructure:"env"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	GracePeriod      time.Duration     `mapstructure:"grace_period"`
	MaxLineSize      int               `mapstructure:"max_line_size"`
}

// LogConfig selects log verbosity and format.
type LogConfig struct {
	// Level is a logrus level name: trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Worker: WorkerConfig{
			GracePeriod: workerbridge.DefaultGracePeriod,
			MaxLineSize: workerbridge.DefaultMaxLineSize,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// setDefaults registers Defaults with v so that every key is known to
// AutomaticEnv and Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("worker.path", d.Worker.Path)
	v.SetDefault("worker.args", d.Worker.Args)
	v.SetDefault("worker.cwd", d.Worker.Cwd)
	v.SetDefault("worker.handshake_timeout", d.Worker.HandshakeTimeout)
	v.SetDefault("worker.grace_period", d.Worker.GracePeriod)
	v.SetDefault("worker.max_line_size", d.Worker.MaxLineSize)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("trace", d.Trace)
}

// loadConfig reads the optional config file and environment into a Config.
// A missing default config file is not an error; a missing explicit one is.
func loadConfig(v *viper.Viper, cfgFile string) (Config, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("workerbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/workerbridge")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok || cfgFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// bridgeOptions converts the worker configuration to bridge options.
func (c Config) bridgeOptions() ([]workerbridge.Option, error) {
	w := c.Worker

	if w.Path == "" {
		return nil, errNoWorker
	}

	if w.HandshakeTimeout < 0 || w.GracePeriod < 0 || w.MaxLineSize < 0 {
		return nil, errors.New("invalid worker config: durations and sizes must not be negative")
	}

	opts := []workerbridge.Option{
		workerbridge.WithWorkerPath(w.Path),
		workerbridge.WithArgs(w.Args...),
		workerbridge.WithCwd(w.Cwd),
		workerbridge.WithHandshakeTimeout(w.HandshakeTimeout),
		workerbridge.WithGracePeriod(w.GracePeriod),
		workerbridge.WithMaxLineSize(w.MaxLineSize),
	}

	if len(w.Env) > 0 {
		opts = append(opts, workerbridge.WithEnv(w.Env))
	}

	return opts, nil
}

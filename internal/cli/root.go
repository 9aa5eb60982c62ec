package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand builds the workerbridge command.
//
// Each call uses its own viper instance, so commands built in tests do not
// share configuration.
func NewRootCommand(version string) *cobra.Command {
	v := viper.New()

	var cfgFile string

	cmd := &cobra.Command{
		Use:   "workerbridge [worker [args...]]",
		Short: "Run a line-delimited JSON worker and talk to it from the terminal",
		Long: `workerbridge starts a worker process, waits for it to print READY, then
sends every line read from stdin as {"query": line}. Each line the worker
prints is emitted on stdout as a JSON event. The command exits when the worker
exits, stdin ends, or it receives SIGINT or SIGTERM.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				cfg.Worker.Path = args[0]
				cfg.Worker.Args = args[1:]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()

	flags.StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./workerbridge.yaml or ~/.config/workerbridge/workerbridge.yaml)")
	flags.StringP("worker", "w", "", "worker executable (overridden by a positional argument)")
	flags.String("cwd", "", "working directory for the worker")
	flags.StringToString("env", nil, "extra worker environment variables, KEY=VALUE")
	flags.Duration("handshake-timeout", 0, "how long to wait for READY (0 waits forever)")
	flags.Duration("grace-period", 0, "wait between shutdown escalation steps (default 3s)")
	flags.Int("max-line-size", 0, "longest accepted worker output line in bytes (default 1MiB)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.Bool("trace", false, "export OpenTelemetry spans to stderr")

	bindings := map[string]string{
		"worker.path":              "worker",
		"worker.cwd":               "cwd",
		"worker.env":               "env",
		"worker.handshake_timeout": "handshake-timeout",
		"worker.grace_period":      "grace-period",
		"worker.max_line_size":     "max-line-size",
		"log.level":                "log-level",
		"log.format":               "log-format",
		"trace":                    "trace",
	}

	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

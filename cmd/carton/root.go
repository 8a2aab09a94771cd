package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/carton/internal/config"
	"github.com/example/carton/internal/telemetry/logging"
	"github.com/example/carton/internal/telemetry/otel"
	"github.com/example/carton/internal/telemetry/trace"
)

var (
	cfgFile   string
	verbose   bool
	activeCfg config.Config
	logger    *slog.Logger

	otelShutdown func(context.Context) error
	traceWriter  *trace.Writer
)

// NewRootCmd assembles the carton command tree. PersistentPreRunE loads
// layered configuration and installs the process-wide logger, tracer, and
// trace file writer before any subcommand runs.
func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "carton",
		Short: "Load, pack, and run carton ML model packages",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded

			level, err := parseLogLevel(loaded.LogLevel)
			if err != nil {
				level = slog.LevelInfo
			}
			logger = logging.Setup(logging.Options{Verbose: verbose, Level: level})

			shutdown, err := otel.Setup(context.Background(), otel.Config{ServiceName: "carton"})
			if err != nil {
				return err
			}
			otelShutdown = shutdown

			if loaded.Trace.FilePath != "" {
				w, err := trace.Open(loaded.Trace.FilePath)
				if err != nil {
					return err
				}
				traceWriter = w
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Use a human-readable text log handler")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newLoadUnpackedCmd())
	cmd.AddCommand(newPackCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newRunnerCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

func parseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return l, nil
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.RunnerDir == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

func currentLogger() *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

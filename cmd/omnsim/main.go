package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/omn-routing/internal/logging"
)

const (
	logLevelKey   = "log-level"
	logFormatKey  = "log-format"
	logBackendKey = "log-backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:          "omnsim",
		Short:        "Runs opportunistic mobile network routing experiments",
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			flags := c.Flags()
			level, err := flags.GetString(logLevelKey)
			if err != nil {
				return err
			}
			format, err := flags.GetString(logFormatKey)
			if err != nil {
				return err
			}
			backend, err := flags.GetString(logBackendKey)
			if err != nil {
				return err
			}
			log := logging.New(logging.Config{
				Level:   level,
				Format:  format,
				Backend: backend,
				Output:  c.ErrOrStderr(),
			})
			c.SetContext(logging.ContextWithLogger(c.Context(), log))
			return nil
		},
	}

	flags := c.PersistentFlags()
	flags.String(logLevelKey, envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flags.String(logFormatKey, envOr("LOG_FORMAT", "text"), "Log format (text or json)")
	flags.String(logBackendKey, envOr("LOG_BACKEND", "slog"), "Logging backend (slog or zap)")

	c.AddCommand(runCommand(), validateCommand(), protocolsCommand())
	return c
}

func loggerFrom(c *cobra.Command) logging.Logger {
	if log := logging.LoggerFromContext(c.Context()); log != nil {
		return log
	}
	return logging.Noop()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

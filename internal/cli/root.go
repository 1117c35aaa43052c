package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"allies-service/internal/config"
)

// NewRootCommand creates the allies-service command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allies-service",
		Short: "Allies connections and marketplace service",
		Long: `Serves connection requests between allies and the second-hand
marketplace catalog over HTTP, websocket and gRPC health.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewSeedCommand())

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

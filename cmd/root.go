// Package cmd implements the skyport command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skyport0/skyport/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "skyport",
	Short: "Skyport Air travel services",
	Long: `Skyport runs the services behind the Skyport Air assistant demo:
the retrieval API that fronts the travel database, the assistant web
app, and the database provisioning commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from environment knobs.
// SKYPORT_LOG_LEVEL=debug enables debug output, SKYPORT_LOG_JSON=1
// switches to JSON records.
func newLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("SKYPORT_LOG_LEVEL") == "debug" {
		cfg.Level = slog.LevelDebug
		cfg.AddSource = true
	}
	if os.Getenv("SKYPORT_LOG_JSON") == "1" {
		cfg.JSON = true
	}

	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}

package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/podbrief/podbrief/internal/config"
)

var overrides config.Overrides

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "podbrief",
		Short: "Daily podcast digest pipeline",
		Long: `podbrief turns subscribed podcast feeds into short daily digest
episodes: it transcribes new episodes, scores them against configured
topics, writes one digest script per topic, synthesizes it to MP3, and
publishes the result to an artifact host behind a dynamic RSS feed.

The pipeline is a batch job (podbrief run) meant for cron or a systemd
timer; podbrief serve exposes the feed and health endpoints.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&overrides.EnvFile, "env-file", "", "env file to load before reading the environment (default .env)")
	pf.StringVar(&overrides.DatabaseURL, "database-url", "", "override DATABASE_URL")
	pf.StringVar(&overrides.LogLevel, "log-level", "", "override LOG_LEVEL")
	pf.StringVar(&overrides.StagingDir, "staging-dir", "", "override STAGING_DIR")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	return root
}

// loadConfig resolves the effective configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadConfig, err)
	}
	return cfg, nil
}

// newLogger builds the process logger writing to w at the configured level.
func newLogger(w io.Writer, logLevel string) zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-know/internal/app"
	"github.com/kjstillabower/weather-know/internal/config"
	"github.com/kjstillabower/weather-know/internal/fetch"
	"github.com/kjstillabower/weather-know/internal/observability"
	"github.com/kjstillabower/weather-know/internal/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:          "weatherknow",
	Short:        "Current weather and 5-day forecasts in the terminal",
	Long:         "weatherknow looks up current weather and a 5-day forecast for a city, keeping recent results in a local cache.",
	RunE:         runTUI,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "weatherknow %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default "+config.DefaultPath()+")")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newLookupCmd("weather", "Print current weather for a city", lookupWeather))
	rootCmd.AddCommand(newLookupCmd("forecast", "Print the 5-day forecast for a city", lookupForecast))
}

// setup loads config and wires the lookup stack, logging to the configured file.
func setup(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := config.LoadFile(flagConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	logger, err := observability.NewFileLogger(cfg.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
		_ = logger.Sync()
	}()
	a.Start(ctx)

	session := fetch.NewSession(a.Coordinator, fetch.NewView())
	return tui.Run(tui.Options{
		Session: session,
		Timeout: a.Config.RequestTimeout,
		Logger:  logger,
	})
}

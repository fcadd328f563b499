// Package cmd holds the dvzoll command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"dvzoll/internal/config"
	"dvzoll/internal/depmanager"
	"dvzoll/internal/downloader"
	"dvzoll/internal/observability"
	"dvzoll/internal/proxymgr"
	"dvzoll/internal/settings"
	"dvzoll/pkg/logger"

	"github.com/spf13/cobra"
)

// Version is set via ldflags during build.
var Version = "dev"

// app is the state shared by the subcommands, built in PersistentPreRunE.
var app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observability.Metrics
}

var rootCmd = &cobra.Command{
	Use:           "dvzoll",
	Short:         "Download video and audio from YouTube, Spotify, SoundCloud and more",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.App.LogLevel = level
		}

		text, _ := cmd.Flags().GetBool("log-text")

		// stdout belongs to command output and the TUI
		log, err := logger.New(&logger.Options{
			AddSource: cfg.App.LogLevel == "debug",
			Level:     cfg.App.LogLevel,
			Text:      text,
			Writer:    os.Stderr,
		})
		if err != nil {
			log.Warn("logger level invalid; defaulting to info", slog.Any("error", err))
		}

		app.cfg = cfg
		app.log = log
		app.metrics = observability.New()

		return nil
	},
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (default from DVZOLL_APP_LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("log-text", false, "log as text instead of JSON")
}

func newSettingsStore() (*settings.Store, string, error) {
	backend, err := settings.NewFile(app.cfg.Settings.Path)
	if err != nil {
		return nil, "", fmt.Errorf("settings: %w", err)
	}

	return settings.New(app.log, backend), backend.Path(), nil
}

func newDepManager() *depmanager.Manager {
	return depmanager.New(app.log, app.cfg.DepManager, app.metrics)
}

// newExec builds the tool downloader, routed through the configured proxies.
func newExec(depMgr *depmanager.Manager) (*downloader.Exec, *proxymgr.Manager, error) {
	proxies, err := proxymgr.New(app.log, app.cfg.Proxy, app.metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("proxies: %w", err)
	}

	return downloader.NewExec(app.log, depMgr, app.metrics, downloader.WithProxies(proxies)), proxies, nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/one-ui/control-plane/internal/app"
	"github.com/one-ui/control-plane/internal/config"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the control plane",
	Long: `Start the one-ui control plane.

Boots the persistent store, the stats collector (C5), the device tracker
(C6), the online tracker (C7), and the update coordinator (C9), then
blocks until interrupted.

Examples:
  # Start with config file settings
  one-ui start

  # Start with a specific config file
  one-ui --config /path/to/one-ui.yaml start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, relaxed defaults)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // restore default signal handling: a second Ctrl+C hard-kills.
	}()

	control, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build control plane: %w", err)
	}

	logger.Info("one-ui starting",
		"dev_mode", cfg.DevMode,
		"data_plane_binary", cfg.DataPlane.Binary,
		"runtime_hint", cfg.DataPlane.RuntimeHint,
		"store", cfg.Store.Path,
	)

	control.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx := context.Background()
	if err := control.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("one-ui stopped")
	return nil
}

// parseLogLevel converts a string log level to slog.Level. Unrecognized
// values fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/max-knox/PashaCapacitor-sub000/internal/config"
	"github.com/max-knox/PashaCapacitor-sub000/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "meetingd"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

var configPath string

func main() {
	server.Version = version

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Meeting audio transcription and summarization service",
		Long: `meetingd receives live meeting audio, streams it to speech recognition,
stores the transcript and summarizes the meeting into action items once it ends.

Recorded meetings can be processed after the fact with the secondary command
or by dropping the recording into the watched inbox directory.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSecondaryCommand())
	rootCmd.AddCommand(newSummarizeCommand())
	rootCmd.AddCommand(newVersionCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Configuration loaded",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("config_path", configPath),
		slog.String("speech_backend", cfg.Speech.Backend),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("summarizer_model", cfg.Summarizer.Model),
		slog.Int("keep_alive_interval", cfg.Stream.KeepAliveInterval),
		slog.Int("inactivity_timeout", cfg.Stream.InactivityTimeout),
		slog.String("log_level", cfg.Logging.Level),
	)

	return cfg, logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, version)
		},
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/max-knox/PashaCapacitor-sub000/internal/batch"
	"github.com/max-knox/PashaCapacitor-sub000/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the meeting audio HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("Failed to initialize service", slog.String("error", err.Error()))
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("Error during shutdown", slog.String("error", err.Error()))
				}
				logger.Info("Service stopped")
			}()

			httpServer := server.NewHTTPServer(cfg, logger, a.listener, a.sessions, a.speechStats, a.registry, a.metrics)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return httpServer.Run(ctx)
			})

			if cfg.Inbox.Enabled {
				inboxProcessor := a.newProcessor("", cfg.Inbox.Dir)
				inbox, err := batch.NewInbox(cfg.Inbox.Dir, inboxProcessor.Process,
					cfg.Inbox.MaxConcurrent, cfg.Inbox.GetSettleDelayDuration(), logger)
				if err != nil {
					return fmt.Errorf("create inbox: %w", err)
				}
				defer inbox.Close()
				g.Go(func() error {
					return inbox.Run(ctx)
				})
			}

			logger.Info("Service started successfully, waiting for signals...")
			if err := g.Wait(); err != nil {
				logger.Error("Service failed", slog.String("error", err.Error()))
				return err
			}

			logger.Info("Shutdown signal received", slog.Int("active_sessions", a.sessions.Count()))
			return nil
		},
	}
}

func newSecondaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "secondary <meeting-id> <audio-ref>",
		Short: "Transcribe and summarize a recorded meeting",
		Long: `Download a recorded meeting, transcribe it in one pass and apply the
secondary summary and action items to the meeting.

The audio reference may be a local file, an http(s) URL on batch.fetch_base_url's
host, or a path relative to batch.fetch_base_url or batch.fetch_root.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			processor, ref := a.processor, args[1]
			if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
				// A file named by the operator is read from its own directory
				abs, err := filepath.Abs(ref)
				if err != nil {
					return err
				}
				processor, ref = a.newProcessor("", filepath.Dir(abs)), filepath.Base(abs)
			}

			if err := processor.Process(cmd.Context(), args[0], ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secondary processing completed for %s\n", args[0])
			return nil
		},
	}
}

func newSummarizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <meeting-id>",
		Short: "Summarize a meeting from its stored transcript",
		Long: `Run primary summarization for a meeting using the transcript already
stored for it. Meetings that have been summarized are left unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.Run(cmd.Context(), args[0], "", false); err != nil {
				return err
			}

			rec, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Summary: %s\n", rec.Summary)
			if rec.ProcessingError != "" {
				fmt.Fprintf(out, "Error: %s\n", rec.ProcessingError)
			}
			for i, item := range rec.ActionItems {
				fmt.Fprintf(out, "%d. %s (who: %s, when: %s, status: %s)\n", i+1, item.What, item.Who, item.When, item.Status)
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/max-knox/PashaCapacitor-sub000/internal/batch"
	"github.com/max-knox/PashaCapacitor-sub000/internal/config"
	"github.com/max-knox/PashaCapacitor-sub000/internal/listener"
	"github.com/max-knox/PashaCapacitor-sub000/internal/metrics"
	"github.com/max-knox/PashaCapacitor-sub000/internal/notify"
	"github.com/max-knox/PashaCapacitor-sub000/internal/server"
	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
	"github.com/max-knox/PashaCapacitor-sub000/internal/store"
	"github.com/max-knox/PashaCapacitor-sub000/internal/stream"
	"github.com/max-knox/PashaCapacitor-sub000/internal/summary"
	"github.com/max-knox/PashaCapacitor-sub000/internal/transcript"
)

// app holds the wired service components
type app struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store       store.Store
	speech      speech.Backend
	speechStats server.StatsProvider
	pipeline    *summary.Pipeline
	processor   *batch.Processor
	controller  *stream.Controller
	sessions    *stream.Registry
	listener    *listener.Service

	closers []func() error
}

// newApp builds every component from configuration
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry)

	a.store, err = store.Open(ctx, store.Options{
		Driver:        cfg.Store.Driver,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		KeyPrefix:     cfg.Store.KeyPrefix,
		SQLitePath:    cfg.Store.SQLitePath,
		PostgresURL:   cfg.Store.PostgresURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)
	logger.Info("Meeting store initialized", slog.String("driver", cfg.Store.Driver))

	if err := a.initSpeech(ctx); err != nil {
		return nil, err
	}

	generator, err := summary.NewGeminiBackend(summary.GeminiConfig{
		APIKeys:         cfg.Summarizer.APIKeys,
		Model:           cfg.Summarizer.Model,
		Temperature:     cfg.Summarizer.Temperature,
		TopP:            cfg.Summarizer.TopP,
		MaxOutputTokens: cfg.Summarizer.MaxOutputTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create summarizer: %w", err)
	}

	notifier, err := a.buildNotifier()
	if err != nil {
		return nil, err
	}

	directory := make([]summary.DirectoryEntry, 0, len(cfg.Summarizer.Directory))
	for _, member := range cfg.Summarizer.Directory {
		directory = append(directory, summary.DirectoryEntry{Name: member.Name, Role: member.Role})
	}
	a.pipeline = summary.NewPipeline(a.store, generator, notifier, directory, logger, a.metrics)

	recognition := a.recognitionConfig()

	a.processor = a.newProcessor(cfg.Batch.FetchBaseURL, cfg.Batch.FetchRoot)

	payload, err := cfg.Stream.GetKeepAlivePayload()
	if err != nil {
		return nil, err
	}
	aggregator := transcript.NewAggregator(a.store, logger, a.metrics)
	a.controller = stream.NewController(a.speech, aggregator, stream.Config{
		Recognition:       recognition,
		KeepAliveInterval: cfg.Stream.GetKeepAliveDuration(),
		KeepAlivePayload:  payload,
		InactivityTimeout: cfg.Stream.GetInactivityDuration(),
		FinalizeTimeout:   cfg.Stream.GetFinalizeDuration(),
		ReapAfter:         cfg.Stream.GetReapAfterDuration(),
		ReapInterval:      cfg.Stream.GetReapIntervalDuration(),
	}, logger, a.metrics)
	a.sessions = stream.NewRegistry(a.controller, logger, a.metrics)
	a.closers = append(a.closers, func() error {
		a.sessions.Stop()
		a.controller.Close()
		return nil
	})

	a.listener = listener.NewService(a.sessions, a.controller, a.store, a.pipeline, a.processor, logger)

	return a, nil
}

// newProcessor builds a secondary processor reading audio from baseURL or root
func (a *app) newProcessor(baseURL, root string) *batch.Processor {
	cfg := a.config.Batch
	return batch.NewProcessor(a.store,
		batch.NewRefFetcher(baseURL, root, cfg.GetFetchTimeoutDuration()),
		a.speech, a.pipeline,
		batch.Config{
			ScratchDir:         cfg.ScratchDir,
			MaxAttempts:        cfg.MaxAttempts,
			RetryUnit:          cfg.GetRetryUnitDuration(),
			StreamingThreshold: cfg.StreamingThreshold,
			Recognition:        a.recognitionConfig(),
		}, a.logger, a.metrics)
}

func (a *app) initSpeech(ctx context.Context) error {
	cfg := a.config.Speech
	switch cfg.Backend {
	case "http":
		backend, err := speech.NewHTTPBackend(speech.HTTPConfig{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("create http speech backend: %w", err)
		}
		a.speech = backend
		a.speechStats = backend
	default:
		backend, err := speech.NewGoogleBackend(ctx, cfg.CredentialsFile, a.logger)
		if err != nil {
			return fmt.Errorf("create google speech backend: %w", err)
		}
		a.speech = backend
	}
	a.closers = append(a.closers, a.speech.Close)

	a.logger.Info("Speech backend initialized",
		slog.String("backend", cfg.Backend),
		slog.String("encoding", cfg.Encoding),
		slog.Int("sample_rate", cfg.SampleRate),
	)
	return nil
}

func (a *app) recognitionConfig() speech.RecognitionConfig {
	cfg := a.config.Speech
	recognition := speech.DefaultRecognitionConfig()
	recognition.Encoding = cfg.Encoding
	recognition.SampleRateHertz = cfg.SampleRate
	recognition.LanguageCode = cfg.LanguageCode
	recognition.Model = cfg.Model
	if len(cfg.PhraseHints) > 0 {
		recognition.PhraseHints = cfg.PhraseHints
	}
	return recognition
}

func (a *app) buildNotifier() (notify.Notifier, error) {
	cfg := a.config.Notify
	var notifiers notify.Multi

	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, cfg.WebhookToken, cfg.GetWebhookTimeoutDuration()))
	}

	if cfg.RedisChannel != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: a.config.Store.RedisPassword,
		})
		a.closers = append(a.closers, client.Close)
		notifiers = append(notifiers, notify.NewRedisPublisher(client, cfg.RedisChannel))
	}

	if cfg.MinutesDir != "" {
		notifiers = append(notifiers, notify.NewDocxMinutes(cfg.MinutesDir))
	}

	a.logger.Info("Notifications configured", slog.Int("targets", len(notifiers)))
	if len(notifiers) == 0 {
		return notify.Nop{}, nil
	}
	return notifiers, nil
}

// Close releases components in reverse construction order
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

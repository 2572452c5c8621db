package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
	"github.com/max-knox/PashaCapacitor-sub000/internal/metrics"
	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
	"github.com/max-knox/PashaCapacitor-sub000/internal/store"
)

var tracer = otel.Tracer("github.com/max-knox/PashaCapacitor-sub000/internal/batch")

// ErrDownloadFailed is returned when the audio could not be fetched after all attempts
var ErrDownloadFailed = errors.New("audio download failed")

// DefaultStreamingThreshold is the file size from which streaming recognition is used
const DefaultStreamingThreshold = 10 * 1024 * 1024

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Summarizer runs summarization for a meeting transcript
type Summarizer interface {
	Run(ctx context.Context, meetingID, transcript string, secondary bool) error
}

// Config contains secondary processing configuration
type Config struct {
	ScratchDir         string
	MaxAttempts        int
	RetryUnit          time.Duration
	StreamingThreshold int64
	Recognition        speech.RecognitionConfig
}

// DefaultConfig returns the standard secondary processing settings
func DefaultConfig() Config {
	return Config{
		ScratchDir:         os.TempDir(),
		MaxAttempts:        3,
		RetryUnit:          time.Second,
		StreamingThreshold: DefaultStreamingThreshold,
		Recognition:        speech.DefaultRecognitionConfig(),
	}
}

// Processor downloads, transcribes and summarizes recorded meeting audio
type Processor struct {
	store      store.Store
	fetcher    Fetcher
	backend    speech.Backend
	summarizer Summarizer
	config     Config
	logger     *slog.Logger
	metrics    *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewProcessor creates a secondary audio processor
func NewProcessor(st store.Store, fetcher Fetcher, backend speech.Backend, summarizer Summarizer, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Processor {
	defaults := DefaultConfig()
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = defaults.ScratchDir
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryUnit <= 0 {
		cfg.RetryUnit = defaults.RetryUnit
	}
	if cfg.StreamingThreshold <= 0 {
		cfg.StreamingThreshold = defaults.StreamingThreshold
	}

	return &Processor{
		store:      st,
		fetcher:    fetcher,
		backend:    backend,
		summarizer: summarizer,
		config:     cfg,
		logger:     logger,
		metrics:    m,
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// Process runs secondary processing for a meeting. On failure the meeting is
// marked for manual processing and the error is returned.
func (p *Processor) Process(ctx context.Context, meetingID, audioRef string) (err error) {
	ctx, span := tracer.Start(ctx, "batch.Process")
	defer span.End()
	span.SetAttributes(attribute.String("meeting.id", meetingID))

	logger := p.logger.With(slog.String("meeting_id", meetingID))
	logger.Info("Starting secondary audio processing", slog.String("audio_ref", audioRef))
	start := time.Now()

	defer func() {
		if err == nil {
			p.metrics.RecordBatchRun("success", time.Since(start).Seconds())
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "secondary processing failed")
		p.metrics.RecordBatchRun("error", time.Since(start).Seconds())
		logger.Error("Secondary processing failed", slog.String("error", err.Error()))
		if !errors.Is(err, store.ErrNotFound) {
			p.markFailed(ctx, meetingID, err)
		}
	}()

	startedAt := p.now().UTC()
	if err := p.store.Update(ctx, meetingID, store.Fields{
		meeting.FieldProcessingStatus:             meeting.StatusProcessing,
		meeting.FieldSecondaryProcessingStartTime: startedAt,
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	path := filepath.Join(p.config.ScratchDir, unsafeNameChars.ReplaceAllString(meetingID, "_")+"_secondary.webm")
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("Failed to remove scratch file", slog.String("path", path), slog.String("error", rmErr.Error()))
		}
	}()

	if err := p.download(ctx, logger, audioRef, path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat scratch file: %w", err)
	}
	span.SetAttributes(attribute.Int64("audio.bytes", info.Size()))

	transcript, err := p.transcribe(ctx, logger, path, info.Size())
	if err != nil {
		return err
	}
	logger.Info("Transcription complete", slog.Int("length", len(transcript)))

	if err := p.store.Update(ctx, meetingID, store.Fields{
		meeting.FieldRawSecondaryTranscript: transcript,
		meeting.FieldProcessingStatus:       meeting.StatusSummarizing,
	}); err != nil {
		return fmt.Errorf("store secondary transcript: %w", err)
	}

	if err := p.summarizer.Run(ctx, meetingID, transcript, true); err != nil {
		return fmt.Errorf("summarize secondary transcript: %w", err)
	}

	logger.Info("Completed secondary audio processing", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// download fetches the audio with bounded retries, waiting attempt*2 retry units between attempts
func (p *Processor) download(ctx context.Context, logger *slog.Logger, ref, dst string) error {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		p.metrics.RecordDownloadAttempt()
		logger.Debug("Downloading audio file",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.config.MaxAttempts),
		)

		lastErr = p.fetcher.Fetch(ctx, ref, dst)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrRefNotAllowed) {
			p.metrics.RecordDownloadFailure()
			return fmt.Errorf("%w: %w", ErrDownloadFailed, lastErr)
		}

		logger.Warn("Download attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if attempt < p.config.MaxAttempts {
			wait := time.Duration(attempt*2) * p.config.RetryUnit
			if err := p.sleep(ctx, wait); err != nil {
				return fmt.Errorf("download cancelled: %w", err)
			}
		}
	}

	p.metrics.RecordDownloadFailure()
	return fmt.Errorf("%w after %d attempts: %w", ErrDownloadFailed, p.config.MaxAttempts, lastErr)
}

// transcribe routes small files to batch recognition and large files to streaming recognition
func (p *Processor) transcribe(ctx context.Context, logger *slog.Logger, path string, size int64) (string, error) {
	if size >= p.config.StreamingThreshold {
		p.metrics.RecordBatchRoute("streaming")
		logger.Info("Using streaming recognition for large file", slog.Int64("bytes", size))

		text, err := p.backend.RecognizeStreamFile(ctx, p.config.Recognition, path)
		if err != nil {
			return "", fmt.Errorf("streaming recognition: %w", err)
		}
		return text, nil
	}

	p.metrics.RecordBatchRoute("batch")
	logger.Info("Using standard recognition", slog.Int64("bytes", size))

	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read scratch file: %w", err)
	}
	text, err := p.backend.RecognizeBatch(ctx, p.config.Recognition, audio)
	if err != nil {
		return "", fmt.Errorf("batch recognition: %w", err)
	}
	return text, nil
}

// markFailed records the failure on the meeting for manual follow-up
func (p *Processor) markFailed(ctx context.Context, meetingID string, cause error) {
	err := p.store.Update(context.WithoutCancel(ctx), meetingID, store.Fields{
		meeting.FieldProcessingStatus:         meeting.StatusError,
		meeting.FieldProcessingError:          "Secondary processing error: " + cause.Error(),
		meeting.FieldNeedsManualProcessing:    true,
		meeting.FieldProcessingErrorTimestamp: p.now().UTC(),
	})
	if err != nil {
		p.logger.Error("Failed to update meeting with error status",
			slog.String("meeting_id", meetingID),
			slog.String("error", err.Error()),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

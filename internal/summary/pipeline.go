package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
	"github.com/max-knox/PashaCapacitor-sub000/internal/metrics"
	"github.com/max-knox/PashaCapacitor-sub000/internal/notify"
	"github.com/max-knox/PashaCapacitor-sub000/internal/store"
)

var tracer = otel.Tracer("github.com/max-knox/PashaCapacitor-sub000/internal/summary")

const (
	defaultSummary          = "No summary available."
	defaultSecondarySummary = "No secondary summary available."
)

// Pipeline summarizes meeting transcripts and applies the result once per meeting and kind
type Pipeline struct {
	store     store.Store
	generator Generator
	notifier  notify.Notifier
	directory []DirectoryEntry
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewPipeline creates a summarization pipeline. A nil notifier disables notifications.
func NewPipeline(st store.Store, gen Generator, notifier notify.Notifier, directory []DirectoryEntry, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Pipeline{
		store:     st,
		generator: gen,
		notifier:  notifier,
		directory: directory,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

func kindOf(secondary bool) string {
	if secondary {
		return "secondary"
	}
	return "primary"
}

// Run summarizes transcript for a meeting. For primary processing an empty
// transcript is replaced by the stored one. Generator failures are recorded on
// the meeting and do not fail the call; store failures do.
func (p *Pipeline) Run(ctx context.Context, meetingID, transcript string, secondary bool) error {
	kind := kindOf(secondary)
	ctx, span := tracer.Start(ctx, "summary.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("meeting.id", meetingID),
		attribute.String("summary.kind", kind),
	)

	logger := p.logger.With(slog.String("meeting_id", meetingID), slog.String("kind", kind))

	rec, err := p.store.Get(ctx, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Meeting not found, skipping summarization")
		p.metrics.RecordSummarization(kind, "missing")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load meeting")
		return fmt.Errorf("load meeting %s: %w", meetingID, err)
	}

	if rec.Completed(secondary) {
		logger.Info("Meeting already processed, skipping summarization")
		p.metrics.RecordSummarization(kind, "skipped")
		return nil
	}

	if !secondary && strings.TrimSpace(transcript) == "" {
		transcript = strings.Join(rec.Transcript, "\n")
	}

	prompt := BuildPrompt(transcript, secondary, p.directory)

	start := time.Now()
	content, genErr := p.generator.Generate(ctx, prompt)
	p.metrics.RecordSummarizerCall(kind, time.Since(start).Seconds(), genErr)
	if genErr != nil {
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "generate")
		logger.Error("Summarizer failed", slog.String("error", genErr.Error()))
		p.metrics.RecordSummarization(kind, "failed")
		return p.recordFailure(ctx, meetingID, secondary, genErr)
	}

	logger.Debug("Summarizer response received", slog.Int("length", len(content)))

	result := Parse(content)
	p.metrics.RecordActionItems(len(result.ActionItems))

	var (
		applied bool
		updated *meeting.Record
		summary string
	)
	if secondary {
		applied, updated, summary, err = p.applySecondary(ctx, meetingID, result)
	} else {
		applied, updated, summary, err = p.applyPrimary(ctx, meetingID, result)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply")
		return fmt.Errorf("apply %s summary for %s: %w", kind, meetingID, err)
	}
	if !applied {
		logger.Info("Summary applied concurrently, skipping")
		p.metrics.RecordSummarization(kind, "skipped")
		return nil
	}

	p.metrics.RecordSummarization(kind, "applied")
	logger.Info("Summary applied", slog.Int("action_items", len(result.ActionItems)))

	n := notify.New(updated, summary, result.ActionItems, secondary)
	if err := p.notifier.Notify(ctx, n); err != nil {
		p.metrics.RecordNotificationFailure()
		logger.Error("Failed to send notification", slog.String("error", err.Error()))
	}

	return nil
}

// recordFailure stores the generator error and marks processing complete
func (p *Pipeline) recordFailure(ctx context.Context, meetingID string, secondary bool, cause error) error {
	errField, flagField := meeting.FieldProcessingError, meeting.FieldProcessingComplete
	if secondary {
		errField, flagField = meeting.FieldSecondaryProcessingError, meeting.FieldSecondaryProcessingComplete
	}

	err := p.store.RunTransaction(ctx, meetingID, func(rec *meeting.Record) (store.Fields, error) {
		if rec == nil || rec.Completed(secondary) {
			return nil, nil
		}
		return store.Fields{errField: cause.Error(), flagField: true}, nil
	})
	if err != nil {
		return fmt.Errorf("record summarization error for %s: %w", meetingID, err)
	}
	return nil
}

func (p *Pipeline) applyPrimary(ctx context.Context, meetingID string, result Result) (bool, *meeting.Record, string, error) {
	summary := result.Summary
	if summary == "" {
		summary = defaultSummary
	}

	var (
		applied bool
		updated *meeting.Record
	)
	err := p.store.RunTransaction(ctx, meetingID, func(rec *meeting.Record) (store.Fields, error) {
		applied, updated = false, nil
		if rec == nil || rec.ProcessingComplete {
			return nil, nil
		}

		end := rec.EndTime
		if end == nil {
			now := p.now()
			end = &now
		}
		duration := meeting.FormatDuration(rec.Date, end)

		next := *rec
		next.Summary = summary
		next.ActionItems = result.ActionItems
		next.Duration = duration
		next.ProcessingComplete = true
		applied, updated = true, &next

		return store.Fields{
			meeting.FieldSummary:            summary,
			meeting.FieldActionItems:        result.ActionItems,
			meeting.FieldDuration:           duration,
			meeting.FieldProcessingComplete: true,
		}, nil
	})
	return applied, updated, summary, err
}

func (p *Pipeline) applySecondary(ctx context.Context, meetingID string, result Result) (bool, *meeting.Record, string, error) {
	summary := result.Summary
	if summary == "" {
		summary = defaultSecondarySummary
	}

	// Union is idempotent, so a concurrent run adding the same items is harmless.
	if len(result.ActionItems) > 0 {
		items := make([]any, len(result.ActionItems))
		for i, item := range result.ActionItems {
			items[i] = item
		}
		if err := p.store.ArrayUnion(ctx, meetingID, meeting.FieldActionItems, items...); err != nil {
			return false, nil, summary, err
		}
	}

	var (
		applied bool
		updated *meeting.Record
	)
	err := p.store.RunTransaction(ctx, meetingID, func(rec *meeting.Record) (store.Fields, error) {
		applied, updated = false, nil
		if rec == nil || rec.SecondaryProcessingComplete {
			return nil, nil
		}

		next := *rec
		next.SecondarySummary = summary
		next.SecondaryProcessingComplete = true
		applied, updated = true, &next

		return store.Fields{
			meeting.FieldSecondarySummary:            summary,
			meeting.FieldSecondaryProcessingComplete: true,
		}, nil
	})
	return applied, updated, summary, err
}

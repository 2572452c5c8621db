package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
	"github.com/max-knox/PashaCapacitor-sub000/internal/metrics"
	"github.com/max-knox/PashaCapacitor-sub000/internal/store"
)

// Aggregator persists transcript fragments in arrival order
type Aggregator struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates an aggregator writing to st
func NewAggregator(st store.Store, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{store: st, logger: logger, metrics: m}
}

// Append trims fragment and appends it unless it equals the last stored fragment.
// Blank fragments are ignored. The record is created when missing.
func (a *Aggregator) Append(ctx context.Context, meetingID, fragment string) (bool, error) {
	text := strings.TrimSpace(fragment)
	if text == "" {
		return false, nil
	}

	appended := false
	err := a.store.RunTransaction(ctx, meetingID, func(rec *meeting.Record) (store.Fields, error) {
		appended = false
		if last, ok := rec.LastFragment(); ok && last == text {
			return nil, nil
		}

		var transcript []string
		if rec != nil {
			transcript = make([]string, 0, len(rec.Transcript)+1)
			transcript = append(transcript, rec.Transcript...)
		}
		transcript = append(transcript, text)

		appended = true
		return store.Fields{meeting.FieldTranscript: transcript}, nil
	})
	if err != nil {
		return false, fmt.Errorf("append transcript for %s: %w", meetingID, err)
	}

	a.metrics.RecordFragment(appended)
	if appended {
		a.logger.Debug("Transcript fragment appended",
			slog.String("meeting_id", meetingID),
			slog.Int("length", len(text)),
		)
	} else {
		a.logger.Debug("Duplicate transcript fragment skipped",
			slog.String("meeting_id", meetingID),
		)
	}

	return appended, nil
}

// Text returns the stored transcript joined by newlines
func (a *Aggregator) Text(ctx context.Context, meetingID string) (string, error) {
	rec, err := a.store.Get(ctx, meetingID)
	if err != nil {
		return "", err
	}
	return strings.Join(rec.Transcript, "\n"), nil
}

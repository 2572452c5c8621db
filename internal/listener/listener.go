package listener

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
	"github.com/max-knox/PashaCapacitor-sub000/internal/store"
	"github.com/max-knox/PashaCapacitor-sub000/internal/stream"
)

// ErrInvalidInput marks requests that fail validation and must not be retried
var ErrInvalidInput = errors.New("invalid input")

// Response messages
const (
	MessageChunkReceived      = "Audio chunk received"
	MessageCompleted          = "Audio processing completed"
	MessageSecondaryCompleted = "Secondary audio processing completed"
)

// ChunkRequest is a single audio delivery from a meeting client
type ChunkRequest struct {
	MeetingID             string `json:"meetingId"`
	AudioContent          string `json:"audioContent"`
	IsLastChunk           bool   `json:"isLastChunk"`
	SecondaryAudioURL     string `json:"secondaryAudioUrl"`
	IsSecondaryProcessing bool   `json:"isSecondaryProcessing"`
	RetryCount            int    `json:"retryCount"`
	// ClientTimestamp is the client clock in Unix milliseconds
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// Summarizer runs the summarization pipeline
type Summarizer interface {
	Run(ctx context.Context, meetingID, transcript string, secondary bool) error
}

// SecondaryProcessor processes a recorded meeting audio file
type SecondaryProcessor interface {
	Process(ctx context.Context, meetingID, audioRef string) error
}

// Service routes audio deliveries to the stream lifecycle and the processing pipelines
type Service struct {
	registry   *stream.Registry
	controller *stream.Controller
	store      store.Store
	summarizer Summarizer
	secondary  SecondaryProcessor
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a listener service
func NewService(registry *stream.Registry, controller *stream.Controller, st store.Store, summarizer Summarizer, secondary SecondaryProcessor, logger *slog.Logger) *Service {
	return &Service{
		registry:   registry,
		controller: controller,
		store:      st,
		summarizer: summarizer,
		secondary:  secondary,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle dispatches a delivery and returns the response message
func (s *Service) Handle(ctx context.Context, req ChunkRequest) (string, error) {
	if req.ClientTimestamp > 0 {
		client := time.UnixMilli(req.ClientTimestamp)
		s.logger.Debug("Client-server time difference",
			slog.String("meeting_id", req.MeetingID),
			slog.Duration("skew", s.now().Sub(client)),
			slog.Time("client_timestamp", client.UTC()),
		)
	}

	if req.IsSecondaryProcessing {
		return s.HandleSecondary(ctx, req)
	}
	return s.HandleChunk(ctx, req)
}

// HandleChunk feeds one streamed chunk. The last chunk finalizes the session,
// stamps the meeting end time and runs primary summarization.
func (s *Service) HandleChunk(ctx context.Context, req ChunkRequest) (string, error) {
	if req.MeetingID == "" {
		return "", fmt.Errorf("%w: meetingId is required", ErrInvalidInput)
	}
	if req.AudioContent == "" && !req.IsLastChunk {
		return "", fmt.Errorf("%w: no audio content provided and not last chunk", ErrInvalidInput)
	}

	audio, err := base64.StdEncoding.DecodeString(req.AudioContent)
	if err != nil {
		return "", fmt.Errorf("%w: audioContent is not valid base64: %v", ErrInvalidInput, err)
	}

	logger := s.logger.With(slog.String("meeting_id", req.MeetingID))
	logger.Debug("Received audio",
		slog.Int("bytes", len(audio)),
		slog.Bool("last_chunk", req.IsLastChunk),
	)

	session, _ := s.registry.Resolve(req.MeetingID)

	if len(audio) > 0 {
		if err := s.controller.Feed(ctx, session, audio); err != nil {
			logger.Error("Error writing to stream", slog.String("error", err.Error()))
			return "", err
		}
	}

	if !req.IsLastChunk {
		return MessageChunkReceived, nil
	}

	// The meeting is over once the last chunk is accepted; finish even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	logger.Info("Ending stream for meeting")
	if err := s.controller.Finalize(ctx, session); err != nil {
		logger.Warn("Error ending stream", slog.String("error", err.Error()))
	}
	// Streams replaced after an error may still hold results for this meeting
	for _, displaced := range s.registry.TakeDisplaced(req.MeetingID) {
		s.controller.Drain(ctx, displaced)
	}
	s.registry.Release(session)

	endTime := s.now().UTC()
	if err := s.store.Update(ctx, req.MeetingID, store.Fields{meeting.FieldEndTime: endTime}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("No meeting record to summarize")
			return MessageCompleted, nil
		}
		return "", fmt.Errorf("record end time: %w", err)
	}

	if err := s.summarizer.Run(ctx, req.MeetingID, "", false); err != nil {
		return "", fmt.Errorf("summarize meeting: %w", err)
	}

	return MessageCompleted, nil
}

// HandleSecondary runs secondary processing for a recorded meeting and blocks until it completes
func (s *Service) HandleSecondary(ctx context.Context, req ChunkRequest) (string, error) {
	if req.MeetingID == "" {
		return "", fmt.Errorf("%w: meetingId is required", ErrInvalidInput)
	}
	if req.SecondaryAudioURL == "" {
		return "", fmt.Errorf("%w: secondary audio URL is required for processing", ErrInvalidInput)
	}

	logger := s.logger.With(slog.String("meeting_id", req.MeetingID))
	if req.RetryCount > 0 {
		logger.Info("Processing secondary retry attempt", slog.Int("retry_count", req.RetryCount))
	}

	if err := s.secondary.Process(ctx, req.MeetingID, req.SecondaryAudioURL); err != nil {
		logger.Error("Secondary processing error",
			slog.Int("retry_count", req.RetryCount),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("secondary processing failed: %w", err)
	}

	return MessageSecondaryCompleted, nil
}

// Retryable reports whether the client should resend the delivery that produced err
func Retryable(err error) bool {
	var streamErr *stream.StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, speech.ErrAudioTimeout) ||
		errors.Is(err, speech.ErrStreamFailed)
}

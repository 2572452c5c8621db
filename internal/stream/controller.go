package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/max-knox/PashaCapacitor-sub000/internal/metrics"
	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
)

var tracer = otel.Tracer("github.com/max-knox/PashaCapacitor-sub000/internal/stream")

// FragmentSink receives recognized transcript text for a meeting
type FragmentSink interface {
	Append(ctx context.Context, meetingID, fragment string) (bool, error)
}

// Config contains stream lifecycle configuration
type Config struct {
	Recognition       speech.RecognitionConfig
	KeepAliveInterval time.Duration
	KeepAlivePayload  []byte
	InactivityTimeout time.Duration
	FinalizeTimeout   time.Duration

	// ReapAfter removes sessions without activity for this long; zero disables the reaper
	ReapAfter    time.Duration
	ReapInterval time.Duration
}

// DefaultConfig returns the standard lifecycle timings
func DefaultConfig() Config {
	return Config{
		Recognition:       speech.DefaultRecognitionConfig(),
		KeepAliveInterval: 5 * time.Second,
		KeepAlivePayload:  []byte{0, 0},
		InactivityTimeout: 30 * time.Second,
		FinalizeTimeout:   15 * time.Second,
		ReapAfter:         10 * time.Minute,
		ReapInterval:      30 * time.Second,
	}
}

// Controller drives the stream lifecycle of sessions
type Controller struct {
	backend speech.Backend
	sink    FragmentSink
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// streams and fragment appends outlive the request that opened them
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a lifecycle controller
func NewController(backend speech.Backend, sink FragmentSink, config Config, logger *slog.Logger, m *metrics.Metrics) *Controller {
	defaults := DefaultConfig()
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = defaults.InactivityTimeout
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = defaults.FinalizeTimeout
	}
	if config.KeepAlivePayload == nil {
		config.KeepAlivePayload = defaults.KeepAlivePayload
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = defaults.ReapInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend: backend,
		sink:    sink,
		config:  config,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start opens the recognition stream for an idle session and arms its timers.
// Starting a session that is not idle is a no-op.
func (c *Controller) Start(s *Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return c.startLocked(s)
}

// startLocked requires s.writeMu
func (c *Controller) startLocked(s *Session) error {
	if s.State() != StateIdle {
		return nil
	}

	streamCtx, cancel := context.WithCancel(c.ctx)
	st, err := c.backend.OpenStream(streamCtx, c.config.Recognition)
	if err != nil {
		cancel()
		c.flag(s, err, "open")
		return &StreamError{
			MeetingID: s.ID,
			Retryable: true,
			Err:       fmt.Errorf("%w: open stream: %v", ErrStreamUnavailable, err),
		}
	}

	done := make(chan struct{})
	stop := make(chan struct{})

	s.mu.Lock()
	s.state = StateActive
	s.stream = st
	s.cancelStream = cancel
	s.recvDone = done
	s.lastActivity = time.Now()
	s.keepAliveStop = stop
	s.inactivity = time.AfterFunc(c.config.InactivityTimeout, func() { c.onInactive(s) })
	s.mu.Unlock()

	go c.receive(s, st, done)
	go c.keepAlive(s, stop)

	c.logger.Info("Recognition stream opened",
		slog.String("meeting_id", s.ID),
		slog.String("encoding", c.config.Recognition.Encoding),
		slog.Int("sample_rate", c.config.Recognition.SampleRateHertz),
	)

	return nil
}

// Feed writes an audio chunk to the session's stream, starting it if idle.
// A failed write flags the session and returns a retryable *StreamError.
func (c *Controller) Feed(ctx context.Context, s *Session, audio []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if s.State() == StateIdle {
		if err := c.startLocked(s); err != nil {
			return err
		}
	}

	s.mu.Lock()
	state := s.state
	st := s.stream
	s.mu.Unlock()

	switch state {
	case StateActive:
	case StateErrorFlagged:
		return &StreamError{MeetingID: s.ID, Retryable: true, Err: ErrStreamUnavailable}
	default:
		return &StreamError{MeetingID: s.ID, Retryable: true, Err: ErrSessionClosed}
	}

	if err := st.Write(audio); err != nil {
		c.metrics.RecordWriteError()
		c.flag(s, err, "write")
		return &StreamError{
			MeetingID: s.ID,
			Retryable: true,
			Err:       fmt.Errorf("%w: write: %v", ErrStreamUnavailable, err),
		}
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.chunksReceived++
	s.bytesReceived += uint64(len(audio))
	if s.inactivity != nil {
		s.inactivity.Reset(c.config.InactivityTimeout)
	}
	s.mu.Unlock()

	c.metrics.RecordChunk(len(audio))
	return nil
}

// Finalize cancels the session's timers, half-closes its stream and waits, up to
// the finalize timeout, for the backend to deliver its last results. Teardown
// errors are logged and do not fail the call.
func (c *Controller) Finalize(ctx context.Context, s *Session) error {
	ctx, span := tracer.Start(ctx, "stream.Finalize",
		trace.WithAttributes(attribute.String("meeting.id", s.ID)))
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state == StateFinalizing || s.state == StateClosed {
		s.mu.Unlock()
		return ErrAlreadyFinalized
	}
	s.stopTimersLocked()
	previous := s.state
	s.state = StateFinalizing
	st, done, cancel := s.stream, s.recvDone, s.cancelStream
	s.mu.Unlock()

	span.SetAttributes(attribute.String("session.previous_state", previous.String()))

	if st != nil {
		if err := st.CloseSend(); err != nil {
			c.logger.Warn("Error closing recognition stream",
				slog.String("meeting_id", s.ID),
				slog.String("error", err.Error()),
			)
		}

		timer := time.NewTimer(c.config.FinalizeTimeout)
		select {
		case <-done:
		case <-timer.C:
			c.metrics.RecordFinalizeTimeout()
			span.SetStatus(codes.Error, "finalize timeout")
			c.logger.Warn("Timed out waiting for recognition stream to end",
				slog.String("meeting_id", s.ID),
				slog.Duration("timeout", c.config.FinalizeTimeout),
			)
		case <-ctx.Done():
			c.logger.Warn("Finalize cancelled before stream ended",
				slog.String("meeting_id", s.ID),
				slog.String("error", ctx.Err().Error()),
			)
		}
		timer.Stop()
		cancel()
	}

	s.mu.Lock()
	s.state = StateClosed
	info := s.infoLocked()
	s.mu.Unlock()

	c.metrics.RecordSessionFinalized(info.Duration.Seconds())
	c.logger.Info("Meeting session finalized",
		slog.String("meeting_id", s.ID),
		slog.String("previous_state", previous.String()),
		slog.Duration("duration", info.Duration),
		slog.Uint64("chunks_received", info.ChunksReceived),
		slog.Uint64("bytes_received", info.BytesReceived),
		slog.Uint64("fragments_received", info.FragmentsReceived),
	)

	return nil
}

// Abort tears a session down without waiting. Results already in flight are
// still delivered to the sink until the finalize timeout elapses.
func (c *Controller) Abort(s *Session) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.state = StateClosed
	st, done, cancel := s.stream, s.recvDone, s.cancelStream
	s.mu.Unlock()

	if st == nil {
		return
	}

	go func() {
		if err := st.CloseSend(); err != nil {
			c.logger.Debug("Error closing aborted stream",
				slog.String("meeting_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
		timer := time.NewTimer(c.config.FinalizeTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		case <-c.ctx.Done():
		}
		cancel()
	}()
}

// Drain waits, up to the finalize timeout, until a torn-down session's stream
// has delivered its last results. It reports whether the stream ended in time.
func (c *Controller) Drain(ctx context.Context, s *Session) bool {
	s.mu.Lock()
	done := s.recvDone
	s.mu.Unlock()

	if done == nil {
		return true
	}

	timer := time.NewTimer(c.config.FinalizeTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		c.metrics.RecordFinalizeTimeout()
		c.logger.Warn("Timed out waiting for replaced recognition stream to end",
			slog.String("meeting_id", s.ID),
			slog.Duration("timeout", c.config.FinalizeTimeout),
		)
		return false
	case <-ctx.Done():
		return false
	}
}

// Close cancels every stream opened by the controller
func (c *Controller) Close() {
	c.cancel()
}

// flag moves an active (or idle) session to ErrorFlagged and stops its timers.
// It reports whether the state changed.
func (c *Controller) flag(s *Session, err error, source string) bool {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateIdle {
		s.mu.Unlock()
		return false
	}
	s.state = StateErrorFlagged
	s.lastErr = err
	s.stopTimersLocked()
	s.mu.Unlock()

	kind := "stream_failed"
	if errors.Is(err, speech.ErrAudioTimeout) {
		kind = "audio_timeout"
	}
	c.metrics.RecordStreamError(kind)

	c.logger.Warn("Meeting session flagged",
		slog.String("meeting_id", s.ID),
		slog.String("source", source),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	return true
}

// onInactive runs when no chunk arrived within the inactivity timeout
func (c *Controller) onInactive(s *Session) {
	if c.flag(s, errInactive, "inactivity") {
		c.metrics.RecordInactivityFlag()
	}
}

var errInactive = errors.New("no audio received within inactivity timeout")

// keepAlive writes the silent payload on every tick until stop is closed
func (c *Controller) keepAlive(s *Session, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sendKeepAlive(s)
		}
	}
}

func (c *Controller) sendKeepAlive(s *Session) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	st := s.stream
	s.mu.Unlock()

	if err := st.Write(c.config.KeepAlivePayload); err != nil {
		c.flag(s, err, "keepalive")
		return
	}

	s.mu.Lock()
	s.keepAlivesSent++
	s.mu.Unlock()
	c.metrics.RecordKeepAlive()
}

// receive drains stream events into the sink until the backend ends the stream
func (c *Controller) receive(s *Session, st speech.Stream, done chan struct{}) {
	defer close(done)

	for ev := range st.Events() {
		if ev.Err != nil {
			if errors.Is(ev.Err, context.Canceled) {
				continue
			}
			c.flag(s, ev.Err, "backend")
			continue
		}

		if !ev.IsFinal {
			continue
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.fragmentsReceived++
		if s.inactivity != nil {
			s.inactivity.Reset(c.config.InactivityTimeout)
		}
		s.mu.Unlock()

		if _, err := c.sink.Append(c.ctx, s.ID, ev.Transcript); err != nil {
			c.logger.Error("Failed to append transcript fragment",
				slog.String("meeting_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

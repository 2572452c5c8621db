package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
)

var (
	// ErrStreamUnavailable means the session's stream failed or was flagged; the caller should retry
	ErrStreamUnavailable = errors.New("stream unavailable")

	// ErrSessionClosed is returned when feeding a session that is finalizing or closed
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyFinalized is returned by a second Finalize on the same session
	ErrAlreadyFinalized = errors.New("session already finalized")
)

// StreamError is a chunk delivery failure reported to the caller
type StreamError struct {
	MeetingID string
	Retryable bool
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("meeting %s: %v", e.MeetingID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a meeting session
type State int

const (
	StateIdle State = iota
	StateActive
	StateErrorFlagged
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateErrorFlagged:
		return "error_flagged"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session is the in-memory state of one meeting's live stream
type Session struct {
	ID        string
	StartTime time.Time

	// writeMu serializes Feed, Finalize and keep-alive writes
	writeMu sync.Mutex

	// mu guards everything below
	mu           sync.Mutex
	state        State
	lastActivity time.Time
	lastErr      error

	stream       speech.Stream
	cancelStream func()
	recvDone     chan struct{}

	keepAliveStop chan struct{}
	inactivity    *time.Timer

	chunksReceived    uint64
	bytesReceived     uint64
	keepAlivesSent    uint64
	fragmentsReceived uint64
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		StartTime:    now,
		lastActivity: now,
		state:        StateIdle,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last successful write or received result
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// LastError returns the error that flagged the session, if any
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// drained reports whether the session's receive loop has finished
func (s *Session) drained() bool {
	s.mu.Lock()
	done := s.recvDone
	s.mu.Unlock()

	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// stopTimersLocked cancels keep-alive and inactivity timers. s.mu must be held.
func (s *Session) stopTimersLocked() {
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		s.keepAliveStop = nil
	}
	if s.inactivity != nil {
		s.inactivity.Stop()
		s.inactivity = nil
	}
}

// Info returns a monitoring snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() SessionInfo {
	info := SessionInfo{
		MeetingID:         s.ID,
		State:             s.state.String(),
		StartTime:         s.StartTime,
		LastActivity:      s.lastActivity,
		Duration:          time.Since(s.StartTime),
		ChunksReceived:    s.chunksReceived,
		BytesReceived:     s.bytesReceived,
		KeepAlivesSent:    s.keepAlivesSent,
		FragmentsReceived: s.fragmentsReceived,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	MeetingID         string        `json:"meeting_id"`
	State             string        `json:"state"`
	StartTime         time.Time     `json:"start_time"`
	LastActivity      time.Time     `json:"last_activity"`
	Duration          time.Duration `json:"duration"`
	ChunksReceived    uint64        `json:"chunks_received"`
	BytesReceived     uint64        `json:"bytes_received"`
	KeepAlivesSent    uint64        `json:"keep_alives_sent"`
	FragmentsReceived uint64        `json:"fragments_received"`
	LastError         string        `json:"last_error,omitempty"`
}

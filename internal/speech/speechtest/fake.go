// Package speechtest provides a scripted in-memory speech backend for tests.
package speechtest

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
)

// Stream is a fake recognition stream. Tests push results with Emit and Fail.
type Stream struct {
	Config speech.RecognitionConfig

	mu          sync.Mutex
	writes      [][]byte
	writeErr    error
	closed      bool
	finished    bool
	events      chan speech.Event
	onCloseSend func(*Stream)
}

func newStream(cfg speech.RecognitionConfig, onCloseSend func(*Stream)) *Stream {
	return &Stream{Config: cfg, events: make(chan speech.Event, 256), onCloseSend: onCloseSend}
}

// Write records the audio unless the stream is closed or failing
func (s *Stream) Write(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.finished {
		return speech.ErrStreamClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), audio...))
	return nil
}

// CloseSend half-closes the stream; pending events are still delivered. With an
// OnCloseSend hook the stream ends once the hook returns, otherwise at once.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if hook := s.onCloseSend; hook != nil {
		go func() {
			hook(s)
			s.mu.Lock()
			s.finishLocked()
			s.mu.Unlock()
		}()
		return nil
	}
	s.finishLocked()
	return nil
}

// Events returns the event channel
func (s *Stream) Events() <-chan speech.Event {
	return s.events
}

// Emit delivers a final transcript result
func (s *Stream) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	s.events <- speech.Event{Transcript: text, IsFinal: true}
}

// Fail delivers a terminal error and ends the stream
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	s.events <- speech.Event{Err: err}
	s.finishLocked()
}

// FailWrites makes subsequent writes return err
func (s *Stream) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes returns a copy of everything written so far
func (s *Stream) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Closed reports whether CloseSend was called
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) finishLocked() {
	if !s.finished {
		s.finished = true
		close(s.events)
	}
}

// Backend is a fake speech.Backend
type Backend struct {
	// OpenErr is returned by OpenStream when set
	OpenErr error
	// BatchText is returned by RecognizeBatch and RecognizeStreamFile
	BatchText string
	// BatchErr is returned by the batch methods when set
	BatchErr error
	// OnOpen, when set, is called with every new stream
	OnOpen func(*Stream)
	// OnCloseSend, when set, runs in its own goroutine after CloseSend and may
	// still Emit results; the stream ends when it returns
	OnCloseSend func(*Stream)

	mu              sync.Mutex
	streams         []*Stream
	batchCalls      int
	streamFileCalls int
}

// OpenStream creates a new fake stream
func (b *Backend) OpenStream(ctx context.Context, cfg speech.RecognitionConfig) (speech.Stream, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}

	b.mu.Lock()
	s := newStream(cfg, b.OnCloseSend)
	b.streams = append(b.streams, s)
	onOpen := b.OnOpen
	b.mu.Unlock()

	if onOpen != nil {
		onOpen(s)
	}
	return s, nil
}

// RecognizeBatch returns BatchText
func (b *Backend) RecognizeBatch(ctx context.Context, cfg speech.RecognitionConfig, audio []byte) (string, error) {
	b.mu.Lock()
	b.batchCalls++
	b.mu.Unlock()

	if b.BatchErr != nil {
		return "", b.BatchErr
	}
	return b.BatchText, nil
}

// RecognizeStreamFile returns BatchText after checking the file exists
func (b *Backend) RecognizeStreamFile(ctx context.Context, cfg speech.RecognitionConfig, path string) (string, error) {
	b.mu.Lock()
	b.streamFileCalls++
	b.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return "", errors.New("audio file missing: " + path)
	}
	if b.BatchErr != nil {
		return "", b.BatchErr
	}
	return b.BatchText, nil
}

// Close is a no-op
func (b *Backend) Close() error {
	return nil
}

// Streams returns every stream opened so far
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Stream, len(b.streams))
	copy(out, b.streams)
	return out
}

// Calls returns the number of RecognizeBatch and RecognizeStreamFile calls
func (b *Backend) Calls() (batch, streamFile int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batchCalls, b.streamFileCalls
}

package speech

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// transcribeServer mimics a multipart transcription endpoint
type transcribeServer struct {
	calls     atomic.Int32
	failFirst int32
	status    int

	mu           sync.Mutex
	lastFilename string
	lastEncoding string
	lastSize     int
}

func (s *transcribeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status != 0 {
		http.Error(w, "rejected", s.status)
		return
	}
	if n <= s.failFirst {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.lastFilename = header.Filename
	s.lastEncoding = r.FormValue("encoding")
	s.lastSize = len(data)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(httpResponse{Text: " hello from " + header.Filename + " "})
}

func newTestBackend(t *testing.T, handler http.Handler, retries int) *HTTPBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := NewHTTPBackend(HTTPConfig{
		Endpoint:      srv.URL,
		Timeout:       5 * time.Second,
		MaxRetries:    retries,
		MaxConcurrent: 2,
	}, testLogger())
	require.NoError(t, err)
	return b
}

func (s *transcribeServer) last() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEncoding, s.lastSize
}

func TestNewHTTPBackendRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPBackend(HTTPConfig{}, testLogger())
	assert.Error(t, err)
}

func TestRecognizeBatchWrapsLinear16(t *testing.T) {
	srv := &transcribeServer{}
	b := newTestBackend(t, srv, 0)

	cfg := DefaultRecognitionConfig()
	cfg.Encoding = EncodingLinear16
	cfg.SampleRateHertz = 16000

	text, err := b.RecognizeBatch(context.Background(), cfg, make([]byte, 3200))
	require.NoError(t, err)

	encoding, size := srv.last()
	assert.Equal(t, "hello from audio.wav", text)
	assert.Equal(t, EncodingLinear16, encoding)
	assert.Equal(t, 3200+44, size)
}

func TestRecognizeStreamFileUploadsFile(t *testing.T) {
	srv := &transcribeServer{}
	b := newTestBackend(t, srv, 0)

	path := filepath.Join(t.TempDir(), "meeting-42.webm")
	require.NoError(t, os.WriteFile(path, make([]byte, 100*1024), 0o644))

	text, err := b.RecognizeStreamFile(context.Background(), DefaultRecognitionConfig(), path)
	require.NoError(t, err)

	_, size := srv.last()
	assert.Equal(t, "hello from meeting-42.webm", text)
	assert.Equal(t, 100*1024, size)
}

func TestRecognizeRetriesServerErrors(t *testing.T) {
	srv := &transcribeServer{failFirst: 1}
	b := newTestBackend(t, srv, 2)

	text, err := b.RecognizeBatch(context.Background(), DefaultRecognitionConfig(), []byte("opus"))
	require.NoError(t, err)
	assert.Equal(t, "hello from audio.webm", text)
	assert.Equal(t, int32(2), srv.calls.Load())

	stats := b.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRetries)
	assert.Equal(t, uint64(1), stats.SuccessRequests)
}

func TestRecognizeDoesNotRetryClientErrors(t *testing.T) {
	srv := &transcribeServer{status: http.StatusBadRequest}
	b := newTestBackend(t, srv, 3)

	_, err := b.RecognizeBatch(context.Background(), DefaultRecognitionConfig(), []byte("opus"))
	require.Error(t, err)
	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Equal(t, uint64(1), b.GetStats().FailedRequests)
}

func TestBufferedStreamTranscribesOnCloseSend(t *testing.T) {
	srv := &transcribeServer{}
	b := newTestBackend(t, srv, 0)

	stream, err := b.OpenStream(context.Background(), DefaultRecognitionConfig())
	require.NoError(t, err)

	require.NoError(t, stream.Write([]byte("part one ")))
	require.NoError(t, stream.Write([]byte("part two")))
	require.NoError(t, stream.CloseSend())
	assert.ErrorIs(t, stream.Write([]byte("late")), ErrStreamClosed)

	var events []Event
	for ev := range stream.Events() {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.NoError(t, events[0].Err)
	assert.True(t, events[0].IsFinal)
	assert.Equal(t, "hello from audio.webm", events[0].Transcript)
	_, size := srv.last()
	assert.Equal(t, len("part one part two"), size)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"server error", &statusError{Code: 502}, true},
		{"rate limited", &statusError{Code: 429}, true},
		{"bad request", &statusError{Code: 400}, false},
		{"connection refused", io.ErrUnexpectedEOF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

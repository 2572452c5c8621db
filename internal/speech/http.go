package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPConfig contains configuration for a multipart transcription endpoint
type HTTPConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// HTTPBackend sends recordings to an HTTP transcription endpoint that accepts a
// multipart "file" upload and answers with {"text": "..."}. Streams are buffered
// locally and transcribed when the sender closes them.
type HTTPBackend struct {
	config     HTTPConfig
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *slog.Logger

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// httpResponse is the JSON body returned by the transcription endpoint
type httpResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// ClientStats represents HTTP backend statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// statusError is a non-2xx answer from the endpoint
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// NewHTTPBackend creates a new HTTP transcription backend
func NewHTTPBackend(config HTTPConfig, logger *slog.Logger) (*HTTPBackend, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPBackend{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
	}, nil
}

// OpenStream returns a stream that buffers audio until CloseSend
func (c *HTTPBackend) OpenStream(ctx context.Context, cfg RecognitionConfig) (Stream, error) {
	return &bufferedStream{
		ctx:     ctx,
		backend: c,
		cfg:     cfg,
		events:  make(chan Event, 1),
	}, nil
}

// RecognizeBatch uploads a complete recording in memory
func (c *HTTPBackend) RecognizeBatch(ctx context.Context, cfg RecognitionConfig, audio []byte) (string, error) {
	payload := audio
	if cfg.Encoding == EncodingLinear16 {
		if _, err := ReadWAVHeader(audio); err != nil {
			wrapped, err := WrapPCM16(audio, cfg.SampleRateHertz)
			if err != nil {
				return "", fmt.Errorf("wrap PCM audio: %w", err)
			}
			payload = wrapped
		}
	}

	filename := "audio" + extensionFor(cfg.Encoding)
	return c.transcribe(ctx, func() (io.Reader, string, error) {
		return c.bufferedBody(cfg, filename, payload)
	})
}

// RecognizeStreamFile uploads a stored recording without loading it into memory
func (c *HTTPBackend) RecognizeStreamFile(ctx context.Context, cfg RecognitionConfig, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat audio file: %w", err)
	}

	return c.transcribe(ctx, func() (io.Reader, string, error) {
		return c.pipedBody(cfg, path)
	})
}

// transcribe runs a request with retry and exponential backoff. newBody is
// invoked once per attempt.
func (c *HTTPBackend) transcribe(ctx context.Context, newBody func() (io.Reader, string, error)) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Debug("Retrying transcription request",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoffTime),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.doRequest(ctx, newBody)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return text, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return "", fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the transcription endpoint
func (c *HTTPBackend) doRequest(ctx context.Context, newBody func() (io.Reader, string, error)) (string, error) {
	body, contentType, err := newBody()
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "meetingd/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var parsed httpResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return strings.TrimSpace(parsed.Text), nil
}

// bufferedBody builds a multipart body from in-memory audio
func (c *HTTPBackend) bufferedBody(cfg RecognitionConfig, filename string, audio []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writeFields(writer, cfg); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// pipedBody streams a file into a multipart body through an io.Pipe
func (c *HTTPBackend) pipedBody(cfg RecognitionConfig, path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer f.Close()

		err := func() error {
			if err := writeFields(writer, cfg); err != nil {
				return err
			}
			fileWriter, err := writer.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return fmt.Errorf("failed to create form file: %w", err)
			}
			if _, err := io.Copy(fileWriter, f); err != nil {
				return fmt.Errorf("failed to copy audio data: %w", err)
			}
			return writer.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, writer.FormDataContentType(), nil
}

func writeFields(writer *multipart.Writer, cfg RecognitionConfig) error {
	fields := map[string]string{
		"encoding":    cfg.Encoding,
		"sample_rate": strconv.Itoa(cfg.SampleRateHertz),
		"language":    cfg.LanguageCode,
	}
	if cfg.Model != "" {
		fields["model"] = cfg.Model
	}
	if len(cfg.PhraseHints) > 0 {
		fields["prompt"] = strings.Join(cfg.PhraseHints, ", ")
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}
	return nil
}

func extensionFor(encoding string) string {
	switch encoding {
	case EncodingWebmOpus:
		return ".webm"
	case EncodingOggOpus:
		return ".ogg"
	case EncodingLinear16:
		return ".wav"
	case EncodingFLAC:
		return ".flac"
	default:
		return ".bin"
	}
}

// isRetryableError reports whether a request failure is worth another attempt
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "refused")
}

func (c *HTTPBackend) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *HTTPBackend) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *HTTPBackend) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *HTTPBackend) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *HTTPBackend) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current backend statistics
func (c *HTTPBackend) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *HTTPBackend) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}

// bufferedStream collects written audio and transcribes it in one request on CloseSend
type bufferedStream struct {
	ctx     context.Context
	backend *HTTPBackend
	cfg     RecognitionConfig
	events  chan Event

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *bufferedStream) Write(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	s.buf.Write(audio)
	return nil
}

func (s *bufferedStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	audio := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	s.mu.Unlock()

	go func() {
		defer close(s.events)
		if len(audio) == 0 {
			return
		}
		text, err := s.backend.RecognizeBatch(s.ctx, s.cfg, audio)
		if err != nil {
			s.events <- Event{Err: fmt.Errorf("%w: %v", ErrStreamFailed, err)}
			return
		}
		if text != "" {
			s.events <- Event{Transcript: text, IsFinal: true}
		}
	}()

	return nil
}

func (s *bufferedStream) Events() <-chan Event {
	return s.events
}

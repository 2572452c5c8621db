package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/max-knox/PashaCapacitor-sub000/internal/config"
	"github.com/max-knox/PashaCapacitor-sub000/internal/listener"
	"github.com/max-knox/PashaCapacitor-sub000/internal/metrics"
	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
	"github.com/max-knox/PashaCapacitor-sub000/internal/stream"
)

// Version is reported by the health and root endpoints
var Version = "dev"

// ListenerPath is the audio delivery endpoint
const ListenerPath = "/pashameetinglistener"

// StatsProvider exposes speech backend request statistics
type StatsProvider interface {
	GetStats() speech.ClientStats
}

// HTTPServer provides the audio delivery API plus monitoring endpoints
type HTTPServer struct {
	server       *http.Server
	logger       *slog.Logger
	config       *config.Config
	listener     *listener.Service
	registry     *stream.Registry
	speechStats  StatsProvider
	gatherer     prometheus.Gatherer
	metrics      *metrics.Metrics
	maxBodyBytes int64

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. speechStats may be nil.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, svc *listener.Service,
	registry *stream.Registry, speechStats StatsProvider, gatherer prometheus.Gatherer, m *metrics.Metrics) *HTTPServer {

	cfg := appConfig.HTTP
	h := &HTTPServer{
		logger:       logger,
		config:       appConfig,
		listener:     svc,
		registry:     registry,
		speechStats:  speechStats,
		gatherer:     gatherer,
		metrics:      m,
		maxBodyBytes: cfg.MaxBodyBytes,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.GetReadTimeoutDuration(),
		WriteTimeout: cfg.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Audio delivery
	mux.HandleFunc(ListenerPath, h.withMetrics(ListenerPath, h.handleListener))
	mux.HandleFunc(ListenerPath+"/ping", h.withMetrics("/ping", h.handlePing))
	mux.HandleFunc("/ping", h.withMetrics("/ping", h.handlePing))

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring
	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection and a request id
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (h *HTTPServer) Run(ctx context.Context) error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// listenerRequest is the callable-function envelope used by meeting clients
type listenerRequest struct {
	Data *listener.ChunkRequest `json:"data"`
}

// handleListener implements the audio delivery endpoint
func (h *HTTPServer) handleListener(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body listenerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&body); err != nil || body.Data == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request format"})
		return
	}
	req := *body.Data

	logger := h.logger.With(
		slog.String("meeting_id", req.MeetingID),
		slog.String("request_id", w.Header().Get("X-Request-ID")),
	)

	message, err := h.listener.Handle(r.Context(), req)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"message": message})
		return
	}

	if errors.Is(err, listener.ErrInvalidInput) {
		logger.Warn("Rejected audio delivery", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	logger.Error("Audio delivery failed", slog.String("error", err.Error()))

	if req.IsSecondaryProcessing {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	message = "An error occurred: " + err.Error()
	var streamErr *stream.StreamError
	if errors.As(err, &streamErr) {
		message = "Error processing audio chunk"
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":     message,
		"retryable": listener.Retryable(err),
	})
}

// handlePing implements the liveness endpoint
func (h *HTTPServer) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := map[string]any{
		"session_registry": map[string]any{
			"status":          "running",
			"active_sessions": h.registry.Count(),
		},
		"store": map[string]any{
			"status": "running",
			"driver": h.config.Store.Driver,
		},
	}
	if h.speechStats != nil {
		stats := h.speechStats.GetStats()
		components["speech"] = map[string]any{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "meetingd",
			"version": Version,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.registry.Snapshots()
	response := map[string]any{
		"total_streams": len(sessions),
		"timestamp":     time.Now().UTC(),
		"streams":       sessions,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleStreamDetail implements the /streams/{meeting_id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	meetingID := strings.TrimPrefix(r.URL.Path, "/streams/")
	if meetingID == "" {
		http.Error(w, "Meeting ID required", http.StatusBadRequest)
		return
	}

	session, exists := h.registry.Get(meetingID)
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, session.Info())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Secrets are never echoed
	sanitizedConfig := map[string]any{
		"stream": h.config.Stream,
		"speech": map[string]any{
			"backend":        h.config.Speech.Backend,
			"endpoint":       h.config.Speech.Endpoint,
			"encoding":       h.config.Speech.Encoding,
			"sample_rate":    h.config.Speech.SampleRate,
			"language_code":  h.config.Speech.LanguageCode,
			"model":          h.config.Speech.Model,
			"max_concurrent": h.config.Speech.MaxConcurrent,
		},
		"summarizer": map[string]any{
			"model":             h.config.Summarizer.Model,
			"api_keys":          len(h.config.Summarizer.APIKeys),
			"directory_entries": len(h.config.Summarizer.Directory),
		},
		"store": map[string]any{
			"driver": h.config.Store.Driver,
		},
		"batch": map[string]any{
			"max_attempts":        h.config.Batch.MaxAttempts,
			"retry_unit":          h.config.Batch.RetryUnit,
			"streaming_threshold": h.config.Batch.StreamingThreshold,
		},
		"inbox": map[string]any{
			"enabled": h.config.Inbox.Enabled,
			"dir":     h.config.Inbox.Dir,
		},
		"logging": h.config.Logging,
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"streams": map[string]any{
			"active_count": h.registry.Count(),
		},
	}
	if h.speechStats != nil {
		stats["speech"] = h.speechStats.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Meeting Audio Service",
		"version": Version,
		"endpoints": map[string]any{
			"POST " + ListenerPath: "Deliver a meeting audio chunk or request secondary processing",
			"GET /ping":            "Liveness check",
			"GET /health":          "Service health check",
			"GET /streams":         "List live meeting sessions",
			"GET /streams/{id}":    "Get a meeting session",
			"GET /config":          "Get service configuration",
			"GET /stats":           "Get service statistics",
			"GET /metrics":         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

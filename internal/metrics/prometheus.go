package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsRecreated prometheus.Counter
	SessionsFinalized prometheus.Counter
	SessionsReaped    prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Stream metrics
	ChunkBytes       prometheus.Histogram
	WriteErrors      prometheus.Counter
	KeepAlivesSent   prometheus.Counter
	InactivityFlags  prometheus.Counter
	StreamErrors     *prometheus.CounterVec
	FinalizeTimeouts prometheus.Counter

	// Transcript metrics
	FragmentsAppended     prometheus.Counter
	FragmentsDeduplicated prometheus.Counter

	// Batch fallback metrics
	BatchRuns        *prometheus.CounterVec
	DownloadAttempts prometheus.Counter
	DownloadFailures prometheus.Counter
	BatchRoutes      *prometheus.CounterVec
	BatchDuration    prometheus.Histogram

	// Summarization metrics
	SummarizationRuns     *prometheus.CounterVec
	SummarizationFailures *prometheus.CounterVec
	SummarizationDuration prometheus.Histogram
	ActionItemsExtracted  prometheus.Counter
	NotificationFailures  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetingd_active_sessions",
			Help: "Current number of live meeting sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_sessions_created_total",
			Help: "Total number of meeting sessions created",
		}),
		SessionsRecreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_sessions_recreated_total",
			Help: "Total number of sessions replaced after a stream error",
		}),
		SessionsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_sessions_finalized_total",
			Help: "Total number of sessions finalized by a last chunk",
		}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_sessions_reaped_total",
			Help: "Total number of abandoned sessions removed by the reaper",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetingd_session_duration_seconds",
			Help:    "Lifetime of meeting sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}),

		ChunkBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetingd_chunk_size_bytes",
			Help:    "Size of delivered audio chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		WriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_stream_write_errors_total",
			Help: "Total number of failed writes to recognition streams",
		}),
		KeepAlivesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_keepalives_sent_total",
			Help: "Total number of keep-alive payloads written",
		}),
		InactivityFlags: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_inactivity_flags_total",
			Help: "Total number of sessions flagged by the inactivity timer",
		}),
		StreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_stream_errors_total",
			Help: "Total number of recognition stream errors",
		}, []string{"kind"}),
		FinalizeTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_finalize_timeouts_total",
			Help: "Total number of finalizations that gave up waiting for stream end",
		}),

		FragmentsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_transcript_fragments_appended_total",
			Help: "Total number of transcript fragments persisted",
		}),
		FragmentsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_transcript_fragments_deduplicated_total",
			Help: "Total number of fragments skipped as repeats of the last fragment",
		}),

		BatchRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_batch_runs_total",
			Help: "Total number of secondary audio processing runs",
		}, []string{"result"}),
		DownloadAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_batch_download_attempts_total",
			Help: "Total number of audio download attempts",
		}),
		DownloadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_batch_download_failures_total",
			Help: "Total number of downloads that exhausted all attempts",
		}),
		BatchRoutes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_batch_routes_total",
			Help: "Recognition path chosen for stored audio",
		}, []string{"route"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetingd_batch_duration_seconds",
			Help:    "Duration of secondary audio processing",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}),

		SummarizationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_summarization_runs_total",
			Help: "Total number of summarization runs",
		}, []string{"kind", "result"}),
		SummarizationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_summarization_failures_total",
			Help: "Total number of summarizer backend failures",
		}, []string{"kind"}),
		SummarizationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetingd_summarization_duration_seconds",
			Help:    "Duration of summarizer backend calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		ActionItemsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_action_items_extracted_total",
			Help: "Total number of action items parsed from summaries",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetingd_notification_failures_total",
			Help: "Total number of failed meeting notifications",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetingd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveSessions sets the current number of live sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the created counter, and the recreated counter
// when the session replaces an errored one
func (m *Metrics) RecordSessionCreated(recreated bool) {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	if recreated {
		m.SessionsRecreated.Inc()
	}
}

// RecordSessionFinalized records a finalized session and its lifetime
func (m *Metrics) RecordSessionFinalized(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsFinalized.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionReaped increments the reaped counter
func (m *Metrics) RecordSessionReaped() {
	if m == nil {
		return
	}
	m.SessionsReaped.Inc()
}

// RecordChunk records the size of a delivered chunk
func (m *Metrics) RecordChunk(sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunkBytes.Observe(float64(sizeBytes))
}

// RecordWriteError increments the stream write error counter
func (m *Metrics) RecordWriteError() {
	if m == nil {
		return
	}
	m.WriteErrors.Inc()
}

// RecordKeepAlive increments the keep-alive counter
func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesSent.Inc()
}

// RecordInactivityFlag increments the inactivity counter
func (m *Metrics) RecordInactivityFlag() {
	if m == nil {
		return
	}
	m.InactivityFlags.Inc()
}

// RecordStreamError records a backend stream error by kind
func (m *Metrics) RecordStreamError(kind string) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(kind).Inc()
}

// RecordFinalizeTimeout increments the finalize timeout counter
func (m *Metrics) RecordFinalizeTimeout() {
	if m == nil {
		return
	}
	m.FinalizeTimeouts.Inc()
}

// RecordFragment records an appended or deduplicated transcript fragment
func (m *Metrics) RecordFragment(appended bool) {
	if m == nil {
		return
	}
	if appended {
		m.FragmentsAppended.Inc()
	} else {
		m.FragmentsDeduplicated.Inc()
	}
}

// RecordDownloadAttempt increments the download attempt counter
func (m *Metrics) RecordDownloadAttempt() {
	if m == nil {
		return
	}
	m.DownloadAttempts.Inc()
}

// RecordDownloadFailure increments the exhausted download counter
func (m *Metrics) RecordDownloadFailure() {
	if m == nil {
		return
	}
	m.DownloadFailures.Inc()
}

// RecordBatchRoute records which recognition path was used
func (m *Metrics) RecordBatchRoute(route string) {
	if m == nil {
		return
	}
	m.BatchRoutes.WithLabelValues(route).Inc()
}

// RecordBatchRun records the outcome and duration of a secondary processing run
func (m *Metrics) RecordBatchRun(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.BatchRuns.WithLabelValues(result).Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordSummarization records a summarization run outcome
func (m *Metrics) RecordSummarization(kind, result string) {
	if m == nil {
		return
	}
	m.SummarizationRuns.WithLabelValues(kind, result).Inc()
}

// RecordSummarizerCall records a summarizer backend call
func (m *Metrics) RecordSummarizerCall(kind string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.SummarizationDuration.Observe(durationSeconds)
	if err != nil {
		m.SummarizationFailures.WithLabelValues(kind).Inc()
	}
}

// RecordActionItems adds the number of parsed action items
func (m *Metrics) RecordActionItems(count int) {
	if m == nil {
		return
	}
	m.ActionItemsExtracted.Add(float64(count))
}

// RecordNotificationFailure increments the notification failure counter
func (m *Metrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

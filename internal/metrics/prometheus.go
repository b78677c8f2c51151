package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/yegors/co-scribe/internal/transcription"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Session metrics
	Sessions         *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	ConnectDuration  prometheus.Histogram
	StreamFailures   *prometheus.CounterVec
	ActiveRecordings prometheus.Gauge
	TranscriptChars  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coscribe_sessions_total",
			Help: "Total number of finished transcription sessions",
		}, []string{"path", "result"}),
		SessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coscribe_session_transcribe_seconds",
			Help:    "Time spent in Transcribe, from stop to final text",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"path"}),
		ConnectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coscribe_streaming_connect_seconds",
			Help:    "Time to establish a streaming connection",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		StreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coscribe_streaming_failures_total",
			Help: "Streaming failures that caused a batch fallback",
		}, []string{"stage"}),
		ActiveRecordings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coscribe_active_recordings",
			Help: "Current number of recordings in progress",
		}),
		TranscriptChars: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coscribe_transcript_chars",
			Help:    "Length of returned transcripts in characters",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coscribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coscribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveSession implements transcription.Observer
func (m *Metrics) ObserveSession(report transcription.Report) {
	result := "success"
	if report.Err != nil {
		result = "error"
	}
	m.Sessions.WithLabelValues(string(report.Path), result).Inc()
	m.SessionDuration.WithLabelValues(string(report.Path)).Observe(report.Duration.Seconds())

	if report.ConnectTime > 0 {
		m.ConnectDuration.Observe(report.ConnectTime.Seconds())
	}

	if report.StreamingErr != nil {
		stage := "connect"
		var finalizeErr *transcription.FinalizeError
		if errors.As(report.StreamingErr, &finalizeErr) {
			stage = "finalize"
		}
		m.StreamFailures.WithLabelValues(stage).Inc()
	}

	if report.Err == nil {
		m.TranscriptChars.Observe(float64(report.TranscriptLen))
	}
}

// RecordingStarted increments the active recordings gauge
func (m *Metrics) RecordingStarted() {
	m.ActiveRecordings.Inc()
}

// RecordingFinished decrements the active recordings gauge
func (m *Metrics) RecordingFinished() {
	m.ActiveRecordings.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

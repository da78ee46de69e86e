package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chunk flow
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicetrace_chunks_total",
		Help: "Output chunks produced per stage",
	}, []string{"stage"})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicetrace_bytes_total",
		Help: "Output bytes produced per stage",
	}, []string{"stage"})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicetrace_turns_total",
		Help: "Completed conversational turns per stage",
	}, []string{"stage"})

	ttfcSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicetrace_stage_ttfc_seconds",
		Help:    "Time from turn start to first output chunk",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	// Connection lifecycle
	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicetrace_connect_attempts_total",
		Help: "Connection attempts per external service",
	}, []string{"service", "status"})

	droppedPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicetrace_dropped_payloads_total",
		Help: "Payloads dropped because no connection could be established",
	}, []string{"service"})

	activePipelines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicetrace_active_pipelines",
		Help: "Number of running pipeline instances",
	})
)

// RecordChunk counts one output chunk for a stage.
func RecordChunk(stage string, bytes int) {
	chunksTotal.WithLabelValues(stage).Inc()
	bytesTotal.WithLabelValues(stage).Add(float64(bytes))
}

// RecordTurn counts one completed turn and its time-to-first-chunk.
func RecordTurn(stage string, ttfcSecondsVal float64) {
	turnsTotal.WithLabelValues(stage).Inc()
	ttfcSeconds.WithLabelValues(stage).Observe(ttfcSecondsVal)
}

// RecordConnectAttempt counts a connect attempt outcome ("ok" or "error").
func RecordConnectAttempt(service, status string) {
	connectAttempts.WithLabelValues(service, status).Inc()
}

// RecordDroppedPayload counts a best-effort send that was dropped.
func RecordDroppedPayload(service string) {
	droppedPayloads.WithLabelValues(service).Inc()
}

// PipelineStarted marks a pipeline instance as running.
func PipelineStarted() { activePipelines.Inc() }

// PipelineStopped marks a pipeline instance as stopped.
func PipelineStopped() { activePipelines.Dec() }

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

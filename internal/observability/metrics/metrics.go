// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_stream_fusion"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Frame sampling metrics
	FramesReceived  prometheus.Counter
	FramesAnalyzed  prometheus.Counter
	FrameTimeouts   prometheus.Counter
	FrameErrors     *prometheus.CounterVec
	AnalysisLatency prometheus.Histogram
	OCRUpdates      prometheus.Counter
	StreamConnected prometheus.Gauge

	// Speech metrics
	TranscriptUpdates *prometheus.CounterVec
	SessionRestarts   prometheus.Counter
	SessionState      *prometheus.GaugeVec
	RecognitionErrors prometheus.Counter

	// Coordinator metrics
	Ticks          prometheus.Counter
	TickPanics     prometheus.Counter
	DebugEntries   prometheus.Counter
	QueueDropped   *prometheus.CounterVec
	ArtifactWrites *prometheus.CounterVec
	ArtifactErrors *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Assistant metrics
	AssistantRequests *prometheus.CounterVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
	GRPCLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Frame sampling metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of video frames received from the source",
		}),
		FramesAnalyzed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_analyzed_total",
			Help:      "Total number of frames forwarded to the vision collaborator",
		}),
		FrameTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_timeouts_total",
			Help:      "Total number of frame fetches that returned no frame",
		}),
		FrameErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Total number of frame acquisition, encode and analysis errors",
		}, []string{"stage"}),
		AnalysisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Vision analysis latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		OCRUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_updates_total",
			Help:      "Total number of accepted OCR state changes",
		}),
		StreamConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "video_stream_connected",
			Help:      "1 if the video source is connected",
		}),

		// Speech metrics
		TranscriptUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_updates_total",
			Help:      "Total number of accepted STT state changes",
		}, []string{"kind"}),
		SessionRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Total number of recognition session restarts",
		}),
		SessionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current recognition supervisor state",
		}, []string{"state"}),
		RecognitionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition errors reported by the engine",
		}),

		// Coordinator metrics
		Ticks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_ticks_total",
			Help:      "Total number of coordinator loop iterations",
		}),
		TickPanics: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_recovered_panics_total",
			Help:      "Total number of panics recovered inside the coordinator loop",
		}),
		DebugEntries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debug_entries_total",
			Help:      "Total number of entries appended to the debug log",
		}),
		QueueDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Total number of events dropped because a queue was full",
		}, []string{"queue"}),
		ArtifactWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_writes_total",
			Help:      "Total number of artifact writes",
		}, []string{"artifact"}),
		ArtifactErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_errors_total",
			Help:      "Total number of failed artifact writes",
		}, []string{"artifact"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Assistant metrics
		AssistantRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_requests_total",
			Help:      "Total number of assistant requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordFrameReceived records a frame delivered by the video source.
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameTimeout records a frame fetch that timed out.
func (m *Metrics) RecordFrameTimeout() {
	m.FrameTimeouts.Inc()
}

// RecordFrameError records a failure at the given sampling stage.
func (m *Metrics) RecordFrameError(stage string) {
	m.FrameErrors.WithLabelValues(stage).Inc()
}

// RecordAnalysis records a frame forwarded for analysis.
func (m *Metrics) RecordAnalysis(latencySeconds float64) {
	m.FramesAnalyzed.Inc()
	m.AnalysisLatency.Observe(latencySeconds)
}

// RecordOCRUpdate records an accepted OCR change.
func (m *Metrics) RecordOCRUpdate() {
	m.OCRUpdates.Inc()
}

// RecordStreamConnected records the video connection state.
func (m *Metrics) RecordStreamConnected(connected bool) {
	if connected {
		m.StreamConnected.Set(1)
	} else {
		m.StreamConnected.Set(0)
	}
}

// RecordTranscriptUpdate records an accepted STT change of the given kind.
func (m *Metrics) RecordTranscriptUpdate(kind string) {
	m.TranscriptUpdates.WithLabelValues(kind).Inc()
}

// RecordSessionRestart records a recognition session restart.
func (m *Metrics) RecordSessionRestart() {
	m.SessionRestarts.Inc()
}

// RecordRecognitionError records an engine error.
func (m *Metrics) RecordRecognitionError() {
	m.RecognitionErrors.Inc()
}

// RecordSessionState marks state as the only active supervisor state.
func (m *Metrics) RecordSessionState(state string, all []string) {
	for _, s := range all {
		if s == state {
			m.SessionState.WithLabelValues(s).Set(1)
		} else {
			m.SessionState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordTick records a coordinator loop iteration.
func (m *Metrics) RecordTick() {
	m.Ticks.Inc()
}

// RecordTickPanic records a recovered panic.
func (m *Metrics) RecordTickPanic() {
	m.TickPanics.Inc()
}

// RecordDebugEntry records an appended debug entry.
func (m *Metrics) RecordDebugEntry() {
	m.DebugEntries.Inc()
}

// RecordQueueDropped adds n dropped events for the named queue.
func (m *Metrics) RecordQueueDropped(queue string, n uint64) {
	if n == 0 {
		return
	}
	m.QueueDropped.WithLabelValues(queue).Add(float64(n))
}

// RecordArtifactWrite records an artifact write attempt.
func (m *Metrics) RecordArtifactWrite(artifact string, err error) {
	m.ArtifactWrites.WithLabelValues(artifact).Inc()
	if err != nil {
		m.ArtifactErrors.WithLabelValues(artifact).Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordAssistantRequest records an assistant call outcome.
func (m *Metrics) RecordAssistantRequest(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AssistantRequests.WithLabelValues(operation, outcome).Inc()
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string, durationSeconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(durationSeconds)
}

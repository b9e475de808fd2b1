// Package metrics provides Prometheus metrics for the voice agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voiceagent"

// Metrics holds all Prometheus metrics for the process.
type Metrics struct {
	// Playback
	ChunksScheduled  prometheus.Counter
	ChunksDropped    prometheus.Counter
	ScheduledBuffers prometheus.Gauge
	AudioLeadSeconds prometheus.Gauge

	// Capture
	FramesForwarded prometheus.Counter
	FramesMuted     prometheus.Counter

	// Transcript
	TranscriptDeltas  prometheus.Counter
	TranscriptFinals  prometheus.Counter
	TranscriptDropped *prometheus.CounterVec

	// Session
	Interrupts     prometheus.Counter
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge

	// Tools
	ToolCalls *prometheus.CounterVec

	// Publishing
	KafkaPublishTotal  *prometheus.CounterVec
	KafkaPublishErrors *prometheus.CounterVec
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all metrics.
func New() *Metrics {
	return &Metrics{
		ChunksScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_scheduled_total",
			Help:      "Synthesized audio chunks scheduled for playback",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Audio chunks dropped due to decode or clock errors",
		}),
		ScheduledBuffers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_scheduled_buffers",
			Help:      "Audio buffers currently scheduled or playing",
		}),
		AudioLeadSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_lead_seconds",
			Help:      "How far scheduled audio extends past the output clock",
		}),
		FramesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_forwarded_total",
			Help:      "Microphone frames forwarded to the provider",
		}),
		FramesMuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_muted_total",
			Help:      "Microphone frames withheld while muted",
		}),
		TranscriptDeltas: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_deltas_total",
			Help:      "Transcript deltas applied",
		}),
		TranscriptFinals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_finals_total",
			Help:      "Transcript entries finalized",
		}),
		TranscriptDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_dropped_total",
			Help:      "Transcript events dropped, by reason",
		}, []string{"reason"}),
		Interrupts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Barge-in interrupts handled",
		}),
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently connected",
		}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Provider function calls, by tool and status",
		}, []string{"tool", "status"}),
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Transcript events published, by topic",
		}, []string{"topic"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Transcript publish failures, by topic",
		}, []string{"topic"}),
	}
}

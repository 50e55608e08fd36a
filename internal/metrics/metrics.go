// Package metrics exposes Prometheus instrumentation for the simulator and
// provider clients.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	TurnsCompleted   prometheus.Counter
	ModelErrors      prometheus.Counter
	TTSFallbacks     prometheus.Counter
	PlaybackErrors   prometheus.Counter
	ModelLatency     prometheus.Histogram
	SynthesisLatency prometheus.Histogram
	SessionDuration  prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the metric set on its own registry, so tests can construct
// multiple instances without duplicate registration panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_active_sessions",
			Help: "Current number of running test call sessions",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_sessions_started_total",
			Help: "Total number of test call sessions started",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_sessions_ended_total",
			Help: "Total number of test call sessions ended",
		}, []string{"reason"}),
		TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_turns_completed_total",
			Help: "Total number of completed conversation turns",
		}),
		ModelErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_model_errors_total",
			Help: "Total number of failed model requests",
		}),
		TTSFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_tts_fallbacks_total",
			Help: "Total number of turns spoken by the platform fallback voice",
		}),
		PlaybackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_playback_errors_total",
			Help: "Total number of audio playback errors treated as completion",
		}),
		ModelLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_model_latency_seconds",
			Help:    "Time from finalized utterance to model reply",
			Buckets: prometheus.DefBuckets,
		}),
		SynthesisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_synthesis_latency_seconds",
			Help:    "Time taken by premium speech synthesis requests",
			Buckets: prometheus.DefBuckets,
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_session_duration_seconds",
			Help:    "Total duration of ended sessions",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsStarted,
		m.SessionsEnded,
		m.TurnsCompleted,
		m.ModelErrors,
		m.TTSFallbacks,
		m.PlaybackErrors,
		m.ModelLatency,
		m.SynthesisLatency,
		m.SessionDuration,
	)
	return m
}

// Handler returns the scrape endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

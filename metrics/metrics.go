// Package metrics exposes Prometheus instrumentation for the simulation
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voiceflow"

var (
	// RunsStarted counts test runs entering the running state.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_started_total",
		Help:      "Number of test runs started.",
	})

	// RunsFinished counts terminal runs by outcome state.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Number of test runs reaching a terminal state.",
	}, []string{"state"})

	// TurnsProduced counts produced conversation turns by role.
	TurnsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_produced_total",
		Help:      "Number of conversation turns produced.",
	}, []string{"role"})

	// ProviderDuration observes generative-model call latency by operation.
	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_duration_seconds",
		Help:      "Latency of generative model calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"provider", "operation"})

	// ProviderTokens counts tokens exchanged with providers.
	ProviderTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_tokens_total",
		Help:      "Tokens exchanged with generative model providers.",
	}, []string{"provider", "direction"})

	// Enhancements counts prompt enhancement attempts by result.
	Enhancements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prompt_enhancements_total",
		Help:      "Number of prompt enhancement attempts.",
	}, []string{"result"})

	// ObserversAttached tracks currently attached live-channel observers.
	ObserversAttached = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "observers_attached",
		Help:      "Number of currently attached live channel observers.",
	})
)

// ObserveProviderCall records one provider round trip.
func ObserveProviderCall(provider, operation string, seconds float64, inputTokens, outputTokens int) {
	ProviderDuration.WithLabelValues(provider, operation).Observe(seconds)
	ProviderTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	ProviderTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

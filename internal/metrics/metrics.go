// Package metrics exposes Prometheus counters and histograms for the answer pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groundwork"

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Pipeline turns by mode and final status",
		},
		[]string{"mode", "status"},
	)

	stageSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Degraded paths taken by a stage, by reason",
		},
		[]string{"stage", "reason"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by direction and model",
		},
		[]string{"direction", "model"},
	)

	costTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated spend in USD by model",
		},
		[]string{"model"},
	)

	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groundedness_verdicts_total",
			Help:      "Groundedness verdicts by failure mode and policy",
		},
		[]string{"failure_mode", "policy"},
	)

	correctionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Correction loop outcomes by loop kind",
		},
		[]string{"kind", "outcome"},
	)
)

// Turn counts a finished pipeline turn
func Turn(mode, status string) {
	turnsTotal.WithLabelValues(mode, status).Inc()
}

// ObserveStage records the time since start against a stage
func ObserveStage(stage string, start time.Time) time.Duration {
	d := time.Since(start)
	stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
	return d
}

// Fallback counts a degraded path
func Fallback(stage, reason string) {
	fallbacksTotal.WithLabelValues(stage, reason).Inc()
}

// Tokens adds prompt and completion tokens for a model
func Tokens(model string, prompt, completion int) {
	if prompt > 0 {
		tokensTotal.WithLabelValues("input", model).Add(float64(prompt))
	}
	if completion > 0 {
		tokensTotal.WithLabelValues("output", model).Add(float64(completion))
	}
}

// Cost adds spend for a model
func Cost(model string, usd float64) {
	if usd > 0 {
		costTotal.WithLabelValues(model).Add(usd)
	}
}

// Verdict counts a groundedness verdict
func Verdict(failureMode, policy string) {
	verdictsTotal.WithLabelValues(failureMode, policy).Inc()
}

// Correction counts a correction loop outcome
func Correction(kind string, corrected bool) {
	outcome := "unchanged"
	if corrected {
		outcome = "corrected"
	}
	correctionsTotal.WithLabelValues(kind, outcome).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics provides Prometheus instrumentation for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CredentialRotationsTotal counts rotations by trigger.
	CredentialRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_rotations_total",
			Help: "Total number of credential rotations by reason.",
		},
		[]string{"reason"}, // "manual", "rate_limited", "invalid_credential", "cooling_down", "idle"
	)

	// CredentialCooldownsTotal counts cooldowns applied to credentials.
	CredentialCooldownsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_cooldowns_total",
			Help: "Total number of cooldowns applied to credentials.",
		},
	)

	// CredentialsValid is the size of the pool after the last validation.
	CredentialsValid = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credentials_valid",
			Help: "Number of credentials that passed the last validation.",
		},
	)

	// CredentialsAvailable is the number of credentials not cooling down,
	// sampled on every cooldown and rotation.
	CredentialsAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credentials_available",
			Help: "Number of credentials currently not cooling down.",
		},
	)

	// BlackoutActive is 1 while a caller is waiting out the blackout window.
	BlackoutActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blackout_active",
			Help: "1 while the scheduled blackout window is being waited out.",
		},
	)

	// CallAttemptsTotal counts downstream attempts by outcome.
	CallAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_attempts_total",
			Help: "Total downstream call attempts by outcome.",
		},
		[]string{"outcome"}, // "success", "rate_limited", "invalid_credential", "scheduled", "fatal"
	)

	// RetriesExhaustedTotal counts calls that ran out of retry budget.
	RetriesExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retries_exhausted_total",
			Help: "Total number of calls that exhausted their retry budget.",
		},
	)

	// BackoffSeconds tracks sleeps taken between attempts.
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backoff_seconds",
			Help:    "Sleep taken between downstream attempts in seconds.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 60, 120},
		},
		[]string{"kind"}, // "backoff", "global_cooldown"
	)

	// AIRequestLatency tracks latency of completed AI operations.
	AIRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_latency_seconds",
			Help:    "End-to-end AI operation latency in seconds, retries included.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "status"},
	)
)

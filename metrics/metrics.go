package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics, exposed on /metrics alongside the API.
var (
	// ReadingsProcessed tracks reading writes through the service layer
	// Labels: operation: "create", "update", "delete"
	//         outcome: "ok", "needs_confirmation", "rejected", "error"
	ReadingsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing_engine",
			Name:      "readings_processed_total",
			Help:      "Total reading operations processed",
		},
		[]string{"operation", "outcome"},
	)

	// RolloversDetected counts transitions classified as counter rollover
	RolloversDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "billing_engine",
			Name:      "rollovers_detected_total",
			Help:      "Total meter rollovers detected",
		},
	)

	// CascadeUpdates tracks readings rewritten by cascade recalculation
	CascadeUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "billing_engine",
			Name:      "cascade_updates_total",
			Help:      "Total readings rewritten by cascade recalculation",
		},
	)

	// LoginAttempts tracks authentication outcomes
	// Labels: outcome: "success", "invalid", "locked", "inactive"
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing_engine",
			Name:      "login_attempts_total",
			Help:      "Total login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ActiveSessions tracks currently live sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "billing_engine",
			Name:      "active_sessions",
			Help:      "Sessions that have not expired from inactivity",
		},
	)

	// TariffReplacements counts atomic tariff schedule swaps
	TariffReplacements = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "billing_engine",
			Name:      "tariff_replacements_total",
			Help:      "Total tariff schedule replacements",
		},
	)
)

// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProvisioningOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entrascope_provisioning_outcomes_total",
		Help: "Provisioning attempts by terminal outcome (active, error, manual_setup).",
	}, []string{"outcome"})

	CategoryFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entrascope_category_fetch_total",
		Help: "Assessment category fetches by category and outcome.",
	}, []string{"category", "outcome"})

	ConsentCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entrascope_consent_callbacks_total",
		Help: "Admin-consent callbacks by outcome (granted, denied, invalid_state).",
	}, []string{"outcome"})
)

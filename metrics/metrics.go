// Package metrics exposes the Prometheus surface named in SPEC_FULL.md §D.2:
// per-host-state gauges and a provisioning-duration histogram, scraped at
// GET /metrics. Enrichment beyond spec.md — the Orchestrator and Supervisor
// are natural emitters even though a metrics pipeline isn't named there.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HostsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleet",
		Name:      "hosts_by_state",
		Help:      "Number of hosts currently in each lifecycle state.",
	}, []string{"state", "provider"})

	ProvisioningDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleet",
		Name:      "provisioning_duration_seconds",
		Help:      "Time from request_session to READY, by provider and outcome.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900},
	}, []string{"provider", "outcome"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Name:      "provider_errors_total",
		Help:      "Count of failed host agent health probes, by provider and retryable flag.",
	}, []string{"provider", "retryable"})

	SupervisorActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Name:      "supervisor_actions_total",
		Help:      "Count of Supervisor-initiated transitions, by reason.",
	}, []string{"reason"})
)

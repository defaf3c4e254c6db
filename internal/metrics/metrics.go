// Package metrics holds the Prometheus collectors shared across components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glasswatch_upstream_requests_total",
			Help: "CoinGlass API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
	SignalsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glasswatch_signals_total",
			Help: "Signals emitted by the heuristics",
		},
		[]string{"type"},
	)
	AlertsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glasswatch_alerts_created_total",
			Help: "Alerts written to the outbox",
		},
		[]string{"type"},
	)
	AlertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glasswatch_alerts_dispatched_total",
			Help: "Outbox alerts by dispatch outcome",
		},
		[]string{"type", "outcome"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glasswatch_api_requests_total",
			Help: "HTTP API requests by route and status code",
		},
		[]string{"route", "status"},
	)
	TaskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glasswatch_task_failures_total",
			Help: "Supervised task failures and panics",
		},
		[]string{"task", "kind"},
	)
)

func init() {
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(SignalsDetected)
	prometheus.MustRegister(AlertsCreated)
	prometheus.MustRegister(AlertsDispatched)
	prometheus.MustRegister(APIRequests)
	prometheus.MustRegister(TaskFailures)
}

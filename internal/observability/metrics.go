// Package observability exposes Prometheus metrics for the pipeline. Metrics
// are registered via promauto at init and scraped from the API's /metrics
// endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atelier",
	Subsystem: "executor",
	Name:      "items_processed_total",
	Help:      "Work items driven to a terminal stage, by kind and outcome.",
}, []string{"kind", "outcome"})

var ExternalCallRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "atelier",
	Subsystem: "executor",
	Name:      "external_call_retries_total",
	Help:      "Retried external generation calls after a transient failure.",
})

var InFlightGenerations = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "atelier",
	Subsystem: "executor",
	Name:      "inflight_generations",
	Help:      "Generation-class items currently holding a concurrency slot.",
})

var CreditCharges = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "atelier",
	Subsystem: "credit",
	Name:      "charges_total",
	Help:      "Successful credit charges.",
})

var CreditRefunds = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "atelier",
	Subsystem: "credit",
	Name:      "refunds_total",
	Help:      "Compensating credit refunds.",
})

var AgentIterations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "atelier",
	Subsystem: "agent",
	Name:      "iterations_total",
	Help:      "Agent loop iterations executed.",
})

var AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "atelier",
	Subsystem: "notify",
	Name:      "alerts_suppressed_total",
	Help:      "Operator alerts dropped by the dedup window or rate limiter.",
})

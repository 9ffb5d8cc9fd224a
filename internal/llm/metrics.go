package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the failover loop. Registered on the
// default registry; serve mode exposes it on /metrics.
var (
	metricAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_key_attempts_total",
		Help: "Completion attempts per credential, by result.",
	}, []string{"result"})

	metricInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_invocations_total",
		Help: "Invocations of the failover loop, by outcome.",
	}, []string{"outcome"})

	metricCatalogRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_catalog_refreshes_total",
		Help: "Model catalog refresh passes, by result.",
	}, []string{"result"})
)

package ledgersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var syncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "sync",
	Name:      "attempts_total",
	Help:      "Sync attempts written to the sync log, by entity, status and outcome.",
}, []string{"entity_type", "status", "outcome"})

var syncAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ledger",
	Subsystem: "sync",
	Name:      "attempt_duration_ms",
	Help:      "Duration of a single sync attempt in milliseconds.",
	Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
}, []string{"entity_type"})

var syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "sync",
	Name:      "runs_total",
	Help:      "Batch and bulk runs by kind and final status.",
}, []string{"kind", "status"})

// Outcomes that end without a log row (already synced, skipped, claim lost).
var syncShortCircuits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "sync",
	Name:      "short_circuits_total",
	Help:      "Transaction syncs that returned without calling the ledger.",
}, []string{"outcome"})

package services

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	permissionResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workstream",
		Subsystem: "permissions",
		Name:      "resolutions_total",
		Help:      "Permission resolutions broken down by decision source and cache hit.",
	}, []string{"source", "cached"})

	writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workstream",
		Subsystem: "store",
		Name:      "write_conflicts_total",
		Help:      "Constraint violations surfaced by the database, by class.",
	}, []string{"class"})

	invalidationKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workstream",
		Subsystem: "cache",
		Name:      "invalidated_keys_total",
		Help:      "Cache keys evicted by the invalidation broker, by mutation kind.",
	}, []string{"kind"})

	invalidationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workstream",
		Subsystem: "cache",
		Name:      "invalidation_seconds",
		Help:      "Latency of synchronous cache invalidation per mutation.",
		Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5, 1},
	}, []string{"kind"})
)

func recordResolution(source string, cached bool) {
	permissionResolutions.WithLabelValues(source, strconv.FormatBool(cached)).Inc()
}

func recordWriteConflict(class string) {
	writeConflicts.WithLabelValues(class).Inc()
}

func recordInvalidation(kind string, keys int, elapsed time.Duration) {
	invalidationKeys.WithLabelValues(kind).Add(float64(keys))
	invalidationLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	dbQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Latency of pgpointcloud queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"kind"},
	)

	dbQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Failed pgpointcloud queries by kind.",
		},
		[]string{"kind"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Result cache lookups by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Latency of result cache operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_errors_total",
			Help: "Failed result cache operations.",
		},
		[]string{"op"},
	)

	hierarchyNodesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierarchy_nodes_built_total",
			Help: "Octree nodes emitted by hierarchy builders.",
		},
		[]string{"protocol"},
	)

	pointsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_served_total",
			Help: "Points written to clients.",
		},
		[]string{"protocol"},
	)

	invalidationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Catalog invalidation events consumed, by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	invalidationProcessSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invalidation_process_seconds",
			Help:    "Time to apply one invalidation event.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"op"},
	)

	catalogEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_events_total",
			Help: "Catalog lifecycle events (load, invalidate, refresh).",
		},
		[]string{"op"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveQuery records one database round trip. kind is "patch", "count"
// or "catalog".
func ObserveQuery(kind string, durationSeconds float64, err error) {
	dbQueryDurationSeconds.WithLabelValues(kind).Observe(durationSeconds)
	if err != nil {
		dbQueryErrors.WithLabelValues(kind).Inc()
	}
}

func IncCacheHit(backend string)  { cacheResults.WithLabelValues(backend, "hit").Inc() }
func IncCacheMiss(backend string) { cacheResults.WithLabelValues(backend, "miss").Inc() }
func IncCacheError(backend string) {
	cacheResults.WithLabelValues(backend, "error").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
	if err != nil {
		cacheOpErrors.WithLabelValues(op).Inc()
	}
}

func AddNodesBuilt(protocol string, n int) {
	if n > 0 {
		hierarchyNodesBuilt.WithLabelValues(protocol).Add(float64(n))
	}
}

func AddPointsServed(protocol string, n int) {
	if n > 0 {
		pointsServed.WithLabelValues(protocol).Add(float64(n))
	}
}

func IncCatalogEvent(op string) { catalogEvents.WithLabelValues(op).Inc() }

// ObserveInvalidation records one consumed event. outcome is applied,
// duplicate, rejected or failed.
func ObserveInvalidation(op, outcome string, durationSeconds float64) {
	if op == "" {
		op = "unknown"
	}
	invalidationEvents.WithLabelValues(op, outcome).Inc()
	invalidationProcessSeconds.WithLabelValues(op).Observe(durationSeconds)
}

package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of coverage fetches from upstream providers in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "outcome"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_cache_results_total",
			Help: "Coverage cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	coverageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_operation_duration_seconds",
			Help:    "Duration of coverage set operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"op"},
	)

	pointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_points_total",
			Help: "Points tested for membership by result.",
		},
		[]string{"result"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_invalidations_total",
			Help: "Invalidation events processed by op and result.",
		},
		[]string{"op", "result"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		cacheResults,
		redisOpDuration,
		coverageOpDuration,
		pointsTotal,
		invalidationsTotal,
		kafkaConsumerErrors,
	}
}

// Init registers the service collectors on reg. Observations made before Init
// or with enabled=false are still recorded but never exported. Registering
// twice on the same registry is a no-op.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, result(err)).Observe(durationSeconds)
}

// IncCache counts a lookup on tier ("lru" or "redis").
func IncCache(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheResults.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	redisOpDuration.WithLabelValues(op, result(err)).Observe(durationSeconds)
}

// ObserveCoverageOp records engine work such as intersect, contains or
// deserialize.
func ObserveCoverageOp(op string, durationSeconds float64) {
	coverageOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func AddPoints(inside, outside, invalid int) {
	pointsTotal.WithLabelValues("inside").Add(float64(inside))
	pointsTotal.WithLabelValues("outside").Add(float64(outside))
	pointsTotal.WithLabelValues("invalid").Add(float64(invalid))
}

func IncInvalidation(op string, err error) {
	invalidationsTotal.WithLabelValues(op, result(err)).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

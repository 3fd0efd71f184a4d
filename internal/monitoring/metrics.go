package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

var (
	// HTTP请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproxy_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiproxy_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiproxy_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// 上游尝试指标 (每个凭证一次)
	UpstreamAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproxy_upstream_attempts_total",
			Help: "Upstream attempts by outcome kind and status class",
		},
		[]string{"kind", "status_class"},
	)

	UpstreamAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiproxy_upstream_attempt_duration_seconds",
			Help:    "Time until upstream response headers, per attempt",
			Buckets: latencyBuckets,
		},
		[]string{"kind"},
	)

	UpstreamBackoffSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aiproxy_upstream_backoff_seconds",
			Help:    "Backoff sleeps taken after every credential was throttled",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	// 响应缓存指标
	CacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiproxy_cache_results_total",
			Help: "Response cache lookups and writes by result",
		},
		[]string{"result"}, // hit, miss, stale, write, write_error, oversize
	)

	StorageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiproxy_storage_op_duration_seconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "op", "result"},
	)

	// logHistogram 观测值 (毫秒)
	ProxyObservations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiproxy_observation_ms",
			Help:    "Named per-request observations such as time to first token",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"name", "provider", "endpoint"},
	)

	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiproxy_ratelimit_keys",
			Help: "Current number of per-key rate limiters",
		},
	)
)

// StatusClass buckets an HTTP status as 2xx/4xx/5xx.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// LogHistogram records a named observation; attrs may carry provider and
// endpoint labels.
func LogHistogram(name string, value float64, attrs map[string]string) {
	ProxyObservations.WithLabelValues(name, attrs["provider"], attrs["endpoint"]).Observe(value)
}

// RecordAttempt records one failover attempt.
func RecordAttempt(kind string, status int, latency, delay time.Duration) {
	UpstreamAttemptsTotal.WithLabelValues(kind, StatusClass(status)).Inc()
	UpstreamAttemptDuration.WithLabelValues(kind).Observe(latency.Seconds())
	if delay > 0 {
		UpstreamBackoffSeconds.Observe(delay.Seconds())
	}
}

// RecordCache counts a response cache event.
func RecordCache(result string) {
	CacheResultsTotal.WithLabelValues(result).Inc()
}

// ExposeLoadedSecrets registers a gauge reading the live secret count.
// Call once per process.
func ExposeLoadedSecrets(count func() int) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "aiproxy_loaded_secrets",
			Help: "Number of upstream secrets loaded from the secrets file",
		},
		func() float64 { return float64(count()) },
	)
}

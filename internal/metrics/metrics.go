package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsync_http_requests_total",
			Help: "Total HTTP requests served by the local API by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxsync_http_request_duration_seconds",
			Help:    "Local API latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	transportCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsync_transport_calls_total",
			Help: "Marketplace API calls by method and result class",
		},
		[]string{"method", "result"},
	)

	pollOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsync_poll_outcomes_total",
			Help: "Notification sub-fetch outcomes by category",
		},
		[]string{"category", "outcome"},
	)

	pollLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxsync_poll_latency_seconds",
			Help:    "Notification sub-fetch latency by category",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"category"},
	)

	openNotifications = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rxsync_open_notifications",
			Help: "Records currently held per category",
		},
		[]string{"category"},
	)

	listenersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rxsync_listeners_active",
			Help: "Subscribed notification listeners",
		},
	)

	pollingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rxsync_polling_active",
			Help: "1 while the polling loop is running",
		},
	)

	readStateOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsync_read_state_ops_total",
			Help: "Mark-read and dismiss operations by category and outcome",
		},
		[]string{"op", "category", "outcome"},
	)

	selections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsync_pharmacy_selections_total",
			Help: "Pharmacy selection attempts by outcome",
		},
		[]string{"outcome"},
	)

	alertsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsync_alerts_processed_total",
			Help: "Alerts processed by status and channel",
		},
		[]string{"status", "channel"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rxsync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxsync_idempotency_hits_total",
			Help: "Selection requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsync_rate_limit_rejections_total",
			Help: "Manual refreshes rejected by the rate limiter",
		},
		[]string{"key"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTransportCall records one marketplace API call.
func RecordTransportCall(method, result string) {
	transportCalls.WithLabelValues(method, result).Inc()
}

// RecordPoll records a category sub-fetch outcome and its latency.
func RecordPoll(category, outcome string, latency time.Duration) {
	pollOutcomes.WithLabelValues(category, outcome).Inc()
	pollLatency.WithLabelValues(category).Observe(latency.Seconds())
}

// SetOpenNotifications sets the record count held for a category.
func SetOpenNotifications(category string, count int) {
	openNotifications.WithLabelValues(category).Set(float64(count))
}

// SetListeners sets the subscribed listener count.
func SetListeners(count int) {
	listenersActive.Set(float64(count))
}

// SetPolling flags whether the polling loop is running.
func SetPolling(running bool) {
	if running {
		pollingActive.Set(1)
		return
	}
	pollingActive.Set(0)
}

// RecordReadStateOp records a mark-read or dismiss outcome.
func RecordReadStateOp(op, category, outcome string) {
	readStateOps.WithLabelValues(op, category, outcome).Inc()
}

// RecordSelection records a pharmacy selection outcome.
func RecordSelection(outcome string) {
	selections.WithLabelValues(outcome).Inc()
}

// RecordAlertProcessed records alert delivery result
func RecordAlertProcessed(status, channel string) {
	alertsProcessed.WithLabelValues(status, channel).Inc()
}

// SetBreakerState publishes a circuit breaker state.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// The chi route pattern is used as the path label when available so that
// ids in the URL do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

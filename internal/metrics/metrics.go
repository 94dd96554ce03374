package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwise_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slotwise_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwise_scans_total",
			Help: "Business scans by outcome (ok, partial, failed, skipped)",
		},
		[]string{"result"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slotwise_scan_duration_seconds",
			Help:    "Time to scan and reconcile one business",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	detectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwise_detector_failures_total",
			Help: "Opportunity detector failures by notification type",
		},
		[]string{"type"},
	)

	reconcileChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwise_reconcile_changes_total",
			Help: "Notification changes applied by reconciliation",
		},
		[]string{"action"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwise_deliveries_total",
			Help: "Notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	bookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwise_bookings_total",
			Help: "Booking attempts by result (booked, conflict, rejected)",
		},
		[]string{"result"},
	)

	slotsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slotwise_slots_returned",
			Help:    "Slots returned per availability request",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	scanQueueInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwise_scan_queue_in_flight",
			Help: "Scan requests received from SQS and not yet acked",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slotwise_idempotency_hits_total",
			Help: "Booking requests replayed from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotwise_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"scope"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slotwise_circuit_breaker_state",
			Help: "Delivery circuit state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotwise_db_connections_active",
			Help: "Acquired database connections",
		},
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

// RecordScan records the outcome and duration of one business scan.
func RecordScan(result string, duration time.Duration) {
	scansTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		scanDuration.Observe(duration.Seconds())
	}
}

func RecordDetectorFailure(notificationType string) {
	detectorFailures.WithLabelValues(notificationType).Inc()
}

// RecordReconcile adds n changes of one kind; zero is ignored.
func RecordReconcile(action string, n int) {
	if n > 0 {
		reconcileChanges.WithLabelValues(action).Add(float64(n))
	}
}

func RecordDelivery(channel, status string) {
	deliveriesTotal.WithLabelValues(channel, status).Inc()
}

func RecordBooking(result string) {
	bookingsTotal.WithLabelValues(result).Inc()
}

func RecordSlotsReturned(n int) {
	slotsReturned.Observe(float64(n))
}

func SetScanQueueInFlight(count int) {
	scanQueueInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// SetCircuitState exports a breaker state; the numeric value matches
// circuitbreaker.State.
func SetCircuitState(name string, state int) {
	circuitState.WithLabelValues(name).Set(float64(state))
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
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

// Middleware records request metrics labelled by the chi route pattern, so
// ids in the URL do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}

package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP and core-subsystem metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	securityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Security events recorded, by type and severity.",
		},
		[]string{"type", "severity"},
	)

	alertDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_deliveries_total",
			Help: "Alert delivery attempts, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache lookups, by backend and outcome (hit or miss).",
		},
		[]string{"backend", "outcome"},
	)

	permissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_decisions_total",
			Help: "Permission check verdicts, by outcome.",
		},
		[]string{"outcome"},
	)
)

var initOnce sync.Once

// Init registers the metric collectors in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			securityEventsTotal,
			alertDeliveriesTotal,
			cacheOpsTotal,
			permissionDecisionsTotal,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSecurityEvent counts a recorded security event.
func RecordSecurityEvent(eventType, severity string) {
	securityEventsTotal.WithLabelValues(eventType, severity).Inc()
}

// RecordAlertDelivery counts an alert delivery attempt.
func RecordAlertDelivery(channel string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	alertDeliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordCacheLookup counts a cache hit or miss for the named backend.
func RecordCacheLookup(backend string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheOpsTotal.WithLabelValues(backend, outcome).Inc()
}

// RecordPermissionDecision counts a permission verdict.
func RecordPermissionDecision(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	permissionDecisionsTotal.WithLabelValues(outcome).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler with request count, latency and in-flight
// metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

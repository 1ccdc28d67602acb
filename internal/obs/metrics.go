package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantcore"

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// GateAdmissions counts tenant gate decisions by outcome
	// (admitted, bypassed, unauthenticated, forbidden, payment_required, suspended).
	GateAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "admissions_total",
			Help:      "Tenant gate decisions by outcome.",
		},
		[]string{"population", "outcome"},
	)

	// TenantCacheLookups counts directory cache results (hit, miss, error).
	TenantCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "cache_lookups_total",
			Help:      "Tenant directory cache lookups by result.",
		},
		[]string{"result"},
	)

	// PermissionChecks counts resolver decisions (granted, superadmin, denied, error).
	PermissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rbac",
			Name:      "checks_total",
			Help:      "Permission checks by result.",
		},
		[]string{"result"},
	)

	// AuditAppends counts ledger appends (ok, failed) and sink publishes (sink_failed).
	AuditAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "appends_total",
			Help:      "Audit ledger appends by result.",
		},
		[]string{"result"},
	)

	// AuditVerifications counts chain verifications by integrity status.
	AuditVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "verifications_total",
			Help:      "Audit chain verifications by integrity status.",
		},
		[]string{"integrity"},
	)
)

// Init registers collectors in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		GateAdmissions, TenantCacheLookups, PermissionChecks,
		AuditAppends, AuditVerifications,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. Paths are labelled
// with the matched chi route pattern to keep cardinality bounded.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		path := CanonicalPath(r)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath returns the route pattern that served r, or "unmatched".
func CanonicalPath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return strings.TrimSuffix(pattern, "/*")
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

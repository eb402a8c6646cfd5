package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Rejected authentication attempts by kind.",
		},
		[]string{"kind"},
	)

	permissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_checks_total",
			Help: "Permission evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	credentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refresh_total",
			Help: "Integration credential refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	revokedTokensPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revoked_tokens_purged_total",
		Help: "Expired revocation markers removed by the purge job.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		authFailures, permissionChecks, credentialRefreshes, revokedTokensPurged)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuthFailure counts one rejected authentication by kind
// (missing_token, invalid_token, unknown_principal).
func RecordAuthFailure(kind string) {
	authFailures.WithLabelValues(kind).Inc()
}

// RecordPermissionCheck counts one evaluation outcome
// (allowed, denied, expired, error).
func RecordPermissionCheck(outcome string) {
	permissionChecks.WithLabelValues(outcome).Inc()
}

// RecordCredentialRefresh counts one refresh attempt outcome
// (refreshed, failed, deactivated).
func RecordCredentialRefresh(outcome string) {
	credentialRefreshes.WithLabelValues(outcome).Inc()
}

// RecordTokensPurged adds the purge job's removal count.
func RecordTokensPurged(n int64) {
	if n > 0 {
		revokedTokensPurged.Add(float64(n))
	}
}

// Instrument wraps a handler with RPS, latency and in-flight tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// CanonicalPath collapses per-resource path segments so metric cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "grants", "sync-operations":
			if len(parts) == 4 && parts[3] != "" {
				parts[3] = ":id"
			}
		case "integrations":
			if len(parts) >= 4 && parts[3] != "" {
				parts[3] = ":provider"
			}
		}
	}
	return strings.Join(parts, "/")
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

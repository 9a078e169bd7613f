package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	casesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_ingested_total",
			Help: "Total number of cases created through the ingestion pipeline",
		},
		[]string{"source_system", "outcome"},
	)

	caseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_transitions_total",
			Help: "Total number of case workflow transitions",
		},
		[]string{"from_status", "to_status"},
	)

	allocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_allocations_total",
			Help: "Total number of allocation attempts",
		},
		[]string{"outcome"},
	)

	scoringFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoring_fallbacks_total",
			Help: "Total number of risk-scoring calls served by the stub scorer",
		},
	)

	slaBreaches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sla_breaches_total",
			Help: "Total number of SLA breaches detected",
		},
		[]string{"sla_type"},
	)

	provisioningDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_provisioning_decisions_total",
			Help: "Total number of user provisioning decisions",
		},
		[]string{"creator_role", "target_role", "decision"},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// CaseIngested records an ingestion pipeline outcome.
func CaseIngested(sourceSystem, outcome string) {
	casesIngested.WithLabelValues(sourceSystem, outcome).Inc()
}

// CaseTransitioned records a workflow transition.
func CaseTransitioned(from, to string) {
	caseTransitions.WithLabelValues(from, to).Inc()
}

// AllocationAttempted records an allocation outcome (allocated, pending, failed).
func AllocationAttempted(outcome string) {
	allocationsTotal.WithLabelValues(outcome).Inc()
}

// ScoringFallback records a degraded scoring call served by the stub.
func ScoringFallback() {
	scoringFallbacks.Inc()
}

// SLABreached records a detected SLA breach.
func SLABreached(slaType string) {
	slaBreaches.WithLabelValues(slaType).Inc()
}

// ProvisioningDecision records an allow/deny provisioning outcome.
func ProvisioningDecision(creatorRole, targetRole, decision string) {
	provisioningDecisions.WithLabelValues(creatorRole, targetRole, decision).Inc()
}

// AuditEntryWritten records an audit append.
func AuditEntryWritten() {
	auditEntriesTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath replaces high-cardinality path segments (UUIDs, case numbers)
// with placeholders.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if looksLikeUUID(seg) {
			segments[i] = ":id"
		} else if strings.HasPrefix(seg, "DCA-") {
			segments[i] = ":case_number"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}

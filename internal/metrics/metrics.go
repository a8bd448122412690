// Package metrics provides Prometheus instrumentation for FraudGuard.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fraudguard"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts assessments by risk label and action.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Total risk assessments by label and action.",
		},
		[]string{"label", "action"},
	)

	// AssessmentDuration observes end-to-end pipeline latency.
	AssessmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Time to assess and record one transaction.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// CacheLookupsTotal counts assessment cache lookups by result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Assessment cache lookups by result (hit, miss, stale, error).",
		},
		[]string{"result"},
	)

	// ModelTrainingsTotal counts training runs by result.
	ModelTrainingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_trainings_total",
			Help:      "Model training runs by result.",
		},
		[]string{"result"},
	)

	// ModelInfo is 1 for the serving model version.
	ModelInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_info",
			Help:      "Serving model version; the value is always 1.",
		},
		[]string{"version"},
	)

	// LedgerSubmissionsTotal counts ledger submissions by status.
	LedgerSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_submissions_total",
			Help:      "Ledger submissions of blocked transactions by status.",
		},
		[]string{"status"},
	)

	// BlockedAccountsTotal counts sender accounts blocked.
	BlockedAccountsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocked_accounts_total",
		Help:      "Sender accounts blocked after a high-risk assessment.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AssessmentDuration,
		CacheLookupsTotal,
		ModelTrainingsTotal,
		ModelInfo,
		LedgerSubmissionsTotal,
		BlockedAccountsTotal,
	)
}

// ObserveHTTP records one served request. path should be the route
// pattern, not the raw URL, to bound label cardinality.
func ObserveHTTP(method, path string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, statusBucket(status)).Inc()
}

// ObserveAssessment records one completed assessment.
func ObserveAssessment(label, action string, d time.Duration) {
	AssessmentsTotal.WithLabelValues(label, action).Inc()
	AssessmentDuration.Observe(d.Seconds())
}

// SetModelVersion marks version as the serving model.
func SetModelVersion(version string) {
	ModelInfo.Reset()
	ModelInfo.WithLabelValues(version).Set(1)
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}

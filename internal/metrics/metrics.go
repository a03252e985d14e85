// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a private Prometheus registry so tests can create as many as they need
type Registry struct {
	reg *prometheus.Registry

	rateLimited     *prometheus.CounterVec
	limiterFailures *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	expired         prometheus.Counter
	httpDuration    *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_rate_limited_total",
			Help: "Requests denied by the rate limiter.",
		}, []string{"bucket"}),
		limiterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_rate_limiter_backend_failures_total",
			Help: "Rate limiter cache errors, by the outcome applied (open or closed).",
		}, []string{"outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_anomalies_total",
			Help: "Suspicious request patterns observed.",
		}, []string{"kind"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_submissions_total",
			Help: "Bulk submissions by outcome.",
		}, []string{"outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "survey_responses_expired_total",
			Help: "Responses moved to ended by the period sweep.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "survey_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	r.reg.MustRegister(
		r.rateLimited,
		r.limiterFailures,
		r.anomalies,
		r.submissions,
		r.expired,
		r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) IncRateLimited(bucket string) {
	r.rateLimited.WithLabelValues(bucket).Inc()
}

func (r *Registry) IncLimiterFailure(outcome string) {
	r.limiterFailures.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncAnomaly(kind string) {
	r.anomalies.WithLabelValues(kind).Inc()
}

// AnomalyCounter returns the counter for kind
func (r *Registry) AnomalyCounter(kind string) prometheus.Counter {
	return r.anomalies.WithLabelValues(kind)
}

func (r *Registry) IncSubmission(outcome string) {
	r.submissions.WithLabelValues(outcome).Inc()
}

func (r *Registry) AddExpired(n int64) {
	if n > 0 {
		r.expired.Add(float64(n))
	}
}

func (r *Registry) ObserveHTTP(method, route string, status int, d time.Duration) {
	r.httpDuration.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

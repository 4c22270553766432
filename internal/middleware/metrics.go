package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// no-op so tests can skip registration.
type Metrics struct {
	requestsTotal         *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	authFailuresTotal     prometheus.Counter
	rateLimitRejectsTotal prometheus.Counter
}

// NewMetrics creates and registers the service collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokend_http_requests_total",
			Help: "HTTP requests processed, by method and status code.",
		}, []string{"method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokend_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		authFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokend_auth_failures_total",
			Help: "Bearer authentication failures.",
		}),
		rateLimitRejectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokend_rate_limit_rejections_total",
			Help: "Requests rejected by per-token rate limits.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.authFailuresTotal, m.rateLimitRejectsTotal)
	return m
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailuresTotal.Inc()
}

func (m *Metrics) RateLimitRejection() {
	if m == nil {
		return
	}
	m.rateLimitRejectsTotal.Inc()
}

// Instrument returns middleware that records request counts and latency.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

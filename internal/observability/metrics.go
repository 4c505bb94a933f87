package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes recorded by RecordDecision.
const (
	OutcomeAllowed       = "allowed"
	OutcomeRejected      = "rejected"
	OutcomeMisconfigured = "misconfigured"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewMetrics creates a registry with the service collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routeguard_access_decisions_total",
		Help: "Access decisions by route and outcome.",
	}, []string{"route", "outcome"})
	decisionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "routeguard_access_decision_duration_seconds",
		Help:    "Time spent resolving and evaluating access rules.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routeguard_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "routeguard_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(decisions, decisionDuration, requests, duration)

	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		decisionsTotal:   decisions,
		decisionDuration: decisionDuration,
		requestsTotal:    requests,
		requestDuration:  duration,
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// RecordDecision counts one access decision. A nil Metrics is a no-op.
func (m *Metrics) RecordDecision(route, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(route, outcome).Inc()
	m.decisionDuration.Observe(elapsed.Seconds())
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RegisterGauge exposes value as a gauge sampled on every scrape. A nil
// Metrics ignores the registration.
func (m *Metrics) RegisterGauge(name, help string, value func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, value))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

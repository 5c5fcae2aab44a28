// Package observability wires Prometheus collectors for the HTTP surface and
// the KPI pipeline.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the application's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	computeDuration *prometheus.HistogramVec
	droppedRows     *prometheus.CounterVec
	staleServed     *prometheus.CounterVec
	uploadRows      *prometheus.CounterVec
}

// NewMetrics initialises the registry with the HTTP and KPI collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chai_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chai_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	compute := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chai_kpi_compute_duration_seconds",
		Help:    "Time spent computing a KPI snapshot, by view kind.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"view"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chai_kpi_dropped_rows_total",
		Help: "Sales rows excluded by the normalizer, by reason.",
	}, []string{"reason"})
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chai_stale_snapshots_total",
		Help: "Responses served from a last-known-good snapshot, by source.",
	}, []string{"source"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chai_upload_rows_total",
		Help: "Uploaded sales rows by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, compute, dropped, stale, uploads)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		computeDuration: compute,
		droppedRows:     dropped,
		staleServed:     stale,
		uploadRows:      uploads,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveCompute records one KPI computation.
func (m *Metrics) ObserveCompute(view string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.computeDuration.WithLabelValues(view).Observe(elapsed.Seconds())
}

// AddDroppedRows counts rows the normalizer excluded.
func (m *Metrics) AddDroppedRows(reasons map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range reasons {
		if n > 0 {
			m.droppedRows.WithLabelValues(reason).Add(float64(n))
		}
	}
}

// IncStale counts a response served from a stale snapshot.
func (m *Metrics) IncStale(source string) {
	if m == nil {
		return
	}
	m.staleServed.WithLabelValues(source).Inc()
}

// AddUploadRows counts uploaded rows by outcome, "accepted" or "rejected".
func (m *Metrics) AddUploadRows(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadRows.WithLabelValues(outcome).Add(float64(n))
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

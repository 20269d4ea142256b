package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	readinessChecks *prometheus.CounterVec
	readinessTime   *prometheus.HistogramVec
	generations     *prometheus.CounterVec
	fileOps         *prometheus.CounterVec
	activePollers   prometheus.Gauge
}

// NewMetrics builds a registry with the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "closeflow_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "closeflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "closeflow_readiness_checks_total",
		Help: "Readiness checks by statement, trigger and outcome.",
	}, []string{"statement", "trigger", "outcome"})
	checkTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "closeflow_readiness_check_duration_seconds",
		Help:    "Backend round trip of readiness checks.",
		Buckets: prometheus.DefBuckets,
	}, []string{"statement"})
	generations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "closeflow_statement_generations_total",
		Help: "Statement generations by type, mode and outcome.",
	}, []string{"statement", "mode", "outcome"})
	fileOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "closeflow_file_operations_total",
		Help: "File registry operations by action and outcome.",
	}, []string{"action", "outcome"})
	pollers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "closeflow_readiness_streams_active",
		Help: "Open readiness streams.",
	})
	registry.MustRegister(requests, duration, checks, checkTime, generations, fileOps, pollers)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		readinessChecks: checks,
		readinessTime:   checkTime,
		generations:     generations,
		fileOps:         fileOps,
		activePollers:   pollers,
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

// Middleware records metrics for every HTTP request.
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

// ObserveReadinessCheck records one readiness check.
func (m *Metrics) ObserveReadinessCheck(statement, trigger, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.readinessChecks.WithLabelValues(statement, trigger, outcome).Inc()
	m.readinessTime.WithLabelValues(statement).Observe(elapsed.Seconds())
}

// ObserveGeneration records one statement generation attempt.
func (m *Metrics) ObserveGeneration(statement, mode, outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(statement, mode, outcome).Inc()
}

// ObserveFileOperation records one file registry operation.
func (m *Metrics) ObserveFileOperation(action string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.fileOps.WithLabelValues(action, outcome).Inc()
}

// StreamOpened tracks an open readiness stream; the returned func closes it.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activePollers.Inc()
	return m.activePollers.Dec
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets streaming handlers flush through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

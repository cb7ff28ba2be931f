package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service. All methods are
// nil-safe so wiring stays optional.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reconcileTotal  *prometheus.CounterVec
	edgesMutated    *prometheus.CounterVec
	cascadeDeletes  *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_reconcile_total",
		Help: "Assignment reconciliations by relation and outcome.",
	}, []string{"relation", "outcome"})
	edges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_edges_mutated_total",
		Help: "Graph edges added or removed, by relation and operation.",
	}, []string{"relation", "op"})
	cascades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_cascade_deletes_total",
		Help: "Cascade deletions by entity kind.",
	}, []string{"entity"})
	registry.MustRegister(requests, duration, reconciles, edges, cascades)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		reconcileTotal:  reconciles,
		edgesMutated:    edges,
		cascadeDeletes:  cascades,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveReconcile records one reconciliation outcome.
func (m *Metrics) ObserveReconcile(relation string, removed, added, failed int) {
	if m == nil {
		return
	}
	outcome := "clean"
	if failed > 0 {
		outcome = "partial"
	}
	m.reconcileTotal.WithLabelValues(relation, outcome).Inc()
	if removed > 0 {
		m.edgesMutated.WithLabelValues(relation, "remove").Add(float64(removed))
	}
	if added > 0 {
		m.edgesMutated.WithLabelValues(relation, "add").Add(float64(added))
	}
}

// ObserveCascadeDelete records one cascade deletion.
func (m *Metrics) ObserveCascadeDelete(entity string) {
	if m == nil {
		return
	}
	m.cascadeDeletes.WithLabelValues(entity).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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

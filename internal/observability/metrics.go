package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Extraction outcomes recorded by ObserveExtraction.
const (
	ExtractionOK      = "ok"
	ExtractionFailed  = "failed"
	ExtractionTimeout = "timeout"
	ExtractionEmpty   = "empty"
)

// Metrics collects the Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	extractions     *prometheus.CounterVec
	shipments       prometheus.Counter
	ledgerRetries   *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitestock_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitestock_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	extractions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitestock_extractions_total",
		Help: "Invoice extractions by result.",
	}, []string{"result"})
	shipments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitestock_shipments_total",
		Help: "Shipment rows appended to the ledger.",
	})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitestock_ledger_retries_total",
		Help: "Ledger write attempts retried after a transient failure.",
	}, []string{"operation"})
	registry.MustRegister(requests, duration, extractions, shipments, retries)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		extractions:     extractions,
		shipments:       shipments,
		ledgerRetries:   retries,
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

// ObserveExtraction counts one extraction attempt.
func (m *Metrics) ObserveExtraction(result string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(result).Inc()
}

// AddShipments counts shipment rows that reached the ledger.
func (m *Metrics) AddShipments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.shipments.Add(float64(n))
}

// IncLedgerRetry counts a retried ledger operation.
func (m *Metrics) IncLedgerRetry(operation string) {
	if m == nil {
		return
	}
	m.ledgerRetries.WithLabelValues(operation).Inc()
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

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

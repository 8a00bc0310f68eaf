// Package observability owns the Prometheus registry of the API process.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	productionEvents *prometheus.CounterVec
	producedPieces   *prometheus.CounterVec
	recordRejections *prometheus.CounterVec
	payments         *prometheus.CounterVec
	paymentAmount    *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and production metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "garmentflow_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "garmentflow_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "garmentflow_production_events_total",
		Help: "Production events recorded by stage.",
	}, []string{"stage"})
	pieces := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "garmentflow_production_pieces_total",
		Help: "Pieces moved through each production stage.",
	}, []string{"stage"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "garmentflow_production_rejections_total",
		Help: "Production events rejected by stage and reason.",
	}, []string{"stage", "reason"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "garmentflow_vendor_payments_total",
		Help: "Vendor payments applied by vendor type.",
	}, []string{"vendor_type"})
	paid := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "garmentflow_vendor_payment_amount_total",
		Help: "Sum of vendor payment amounts by vendor type.",
	}, []string{"vendor_type"})
	registry.MustRegister(requests, duration, events, pieces, rejections, payments, paid)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		productionEvents: events,
		producedPieces:   pieces,
		recordRejections: rejections,
		payments:         payments,
		paymentAmount:    paid,
	}
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
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

// ObserveProductionEvent counts a committed production event and its pieces.
func (m *Metrics) ObserveProductionEvent(stage string, pieces int64) {
	if m == nil {
		return
	}
	m.productionEvents.WithLabelValues(stage).Inc()
	if pieces > 0 {
		m.producedPieces.WithLabelValues(stage).Add(float64(pieces))
	}
}

// ObserveRejection counts a production event refused before commit.
func (m *Metrics) ObserveRejection(stage, reason string) {
	if m == nil {
		return
	}
	m.recordRejections.WithLabelValues(stage, reason).Inc()
}

// ObservePayment counts an applied vendor payment.
func (m *Metrics) ObservePayment(vendorType string, amount float64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(vendorType).Inc()
	if amount > 0 {
		m.paymentAmount.WithLabelValues(vendorType).Add(amount)
	}
}

// Registerer exposes the registry so other components can add collectors.
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

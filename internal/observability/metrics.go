package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	restocks        *prometheus.CounterVec
	restockedUnits  *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	allocations     *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	restocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_restocks_total",
		Help: "Restock attempts per channel and result status.",
	}, []string{"channel", "status"})
	restockedUnits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_restocked_units_total",
		Help: "Units moved from the warehouse ledger into a channel.",
	}, []string{"channel"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_checkouts_total",
		Help: "Checkout attempts per channel and outcome.",
	}, []string{"channel", "outcome"})
	allocations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_checkout_batches_per_line",
		Help:    "Number of batches a single checkout line was drawn from.",
		Buckets: []float64{1, 2, 3, 5, 8},
	}, []string{"channel"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_order_transitions_total",
		Help: "Order status transitions by target status.",
	}, []string{"status"})
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(requests, duration, restocks, restockedUnits, checkouts, allocations, transitions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		restocks:        restocks,
		restockedUnits:  restockedUnits,
		checkouts:       checkouts,
		allocations:     allocations,
		transitions:     transitions,
	}
}

// ObserveRestock records one restock attempt and the units it moved.
func (m *Metrics) ObserveRestock(channel, status string, units int) {
	if m == nil {
		return
	}
	m.restocks.WithLabelValues(channel, status).Inc()
	if units > 0 {
		m.restockedUnits.WithLabelValues(channel).Add(float64(units))
	}
}

// ObserveCheckout records a checkout outcome: committed, rejected, or failed.
func (m *Metrics) ObserveCheckout(channel, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(channel, outcome).Inc()
}

// ObserveAllocation records how many batches served one line.
func (m *Metrics) ObserveAllocation(channel string, batches int) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(channel).Observe(float64(batches))
}

// ObserveOrderTransition counts an order reaching status.
func (m *Metrics) ObserveOrderTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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

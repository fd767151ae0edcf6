package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Metrics collects Prometheus metrics for the HTTP surface and the stock ledgers.
// All recording methods are safe on a nil receiver.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	delegatedUnits  *prometheus.CounterVec
	soldUnits       *prometheus.CounterVec
	returnedUnits   prometheus.Counter
	returnsReversed prometheus.Counter
	rejections      *prometheus.CounterVec
}

// NewMetrics initialises the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmacy_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	delegated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_delegated_units_total",
		Help: "Units delegated from central stock by recipient role.",
	}, []string{"role"})
	sold := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_sold_units_total",
		Help: "Units sold by source ledger (delegation or central).",
	}, []string{"source"})
	returned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pharmacy_returned_units_total",
		Help: "Units returned by patients.",
	})
	reversed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pharmacy_returns_reversed_total",
		Help: "Returns deleted and reversed.",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_ledger_rejections_total",
		Help: "Ledger mutations rejected by operation and reason.",
	}, []string{"operation", "reason"})
	registry.MustRegister(requests, duration, delegated, sold, returned, reversed, rejections)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		delegatedUnits:  delegated,
		soldUnits:       sold,
		returnedUnits:   returned,
		returnsReversed: reversed,
		rejections:      rejections,
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

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// DelegationCreated counts units moved to role.
func (m *Metrics) DelegationCreated(role string, units int64) {
	if m == nil {
		return
	}
	m.delegatedUnits.WithLabelValues(role).Add(float64(units))
}

// Sold counts units sold from source ("delegation" or "central").
func (m *Metrics) Sold(source string, units int64) {
	if m == nil {
		return
	}
	m.soldUnits.WithLabelValues(source).Add(float64(units))
}

// Returned counts units returned.
func (m *Metrics) Returned(units int64) {
	if m == nil {
		return
	}
	m.returnedUnits.Add(float64(units))
}

// ReturnReversed counts a deleted return.
func (m *Metrics) ReturnReversed() {
	if m == nil {
		return
	}
	m.returnsReversed.Inc()
}

// StockRejected counts a rejected mutation when err is a business-rule
// rejection. Other errors are ignored.
func (m *Metrics) StockRejected(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	var reason string
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		reason = "insufficient_stock"
	case errors.Is(err, shared.ErrOverReturn):
		reason = "over_return"
	case errors.Is(err, shared.ErrValidation):
		reason = "validation"
	case errors.Is(err, shared.ErrNotFound):
		reason = "not_found"
	default:
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
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

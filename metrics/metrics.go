// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names.
const (
	MetricOrdersCreatedTotal     = "rc_orders_created_total"
	MetricReservationsTotal      = "rc_reservations_total"
	MetricConnectorRequestsTotal = "rc_connector_requests_total"
	MetricHTTPRequestsTotal      = "rc_http_requests_total"
	MetricHTTPRequestDuration    = "rc_http_request_duration_seconds"
)

// Registry owns a private Prometheus registry and the service's collectors.
type Registry struct {
	registry *prometheus.Registry

	OrdersCreated     prometheus.Counter
	Reservations      *prometheus.CounterVec
	ConnectorRequests *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricOrdersCreatedTotal,
			Help: "Orders created from carts.",
		}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReservationsTotal,
			Help: "Inventory reservation attempts by outcome.",
		}, []string{"outcome"}),
		ConnectorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricConnectorRequestsTotal,
			Help: "Third-party connector requests by connector and outcome.",
		}, []string{"connector", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestDuration,
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	r.registry.MustRegister(r.OrdersCreated, r.Reservations, r.ConnectorRequests, r.HTTPRequests, r.HTTPDuration)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Reservation outcomes.
const (
	OutcomeReserved     = "reserved"
	OutcomeInsufficient = "insufficient"
	OutcomeReleased     = "released"
	OutcomeExpired      = "expired"
)

// ObserveReservation counts a reservation outcome. A nil registry is a no-op.
func (r *Registry) ObserveReservation(outcome string) {
	if r == nil {
		return
	}
	r.Reservations.WithLabelValues(outcome).Inc()
}

// ObserveConnector counts a connector call.
func (r *Registry) ObserveConnector(connector, outcome string) {
	if r == nil {
		return
	}
	r.ConnectorRequests.WithLabelValues(connector, outcome).Inc()
}

// ObserveOrderCreated counts a new order.
func (r *Registry) ObserveOrderCreated() {
	if r == nil {
		return
	}
	r.OrdersCreated.Inc()
}

// ObserveHTTP records one served request.
func (r *Registry) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

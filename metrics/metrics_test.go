package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservers(t *testing.T) {
	r := New()
	r.ObserveReservation(OutcomeReserved)
	r.ObserveReservation(OutcomeReserved)
	r.ObserveConnector("taxcloud", "success")
	r.ObserveOrderCreated()
	r.ObserveHTTP("GET", "/cart", 200, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("GET", "/cart", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Reservations.WithLabelValues(OutcomeReserved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ConnectorRequests.WithLabelValues("taxcloud", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OrdersCreated))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveReservation(OutcomeExpired)
		r.ObserveConnector("shopify", "failure")
		r.ObserveOrderCreated()
		r.ObserveHTTP("GET", "/", 200, time.Second)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.ObserveOrderCreated()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), MetricOrdersCreatedTotal+" 1")
}

package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors/shopify"
	"reaction-commerce/events"
	"reaction-commerce/models"
)

type shopifyFake struct {
	srv   *httptest.Server
	calls int32
	fail  atomic.Bool
}

func newShopifyFake(t *testing.T) *shopifyFake {
	f := &shopifyFake{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.calls, 1)
		assert.Equal(t, "/admin/api/2024-01/orders.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "pass", pass)
		if f.fail.Load() {
			http.Error(w, `{"errors":"bad order"}`, http.StatusUnprocessableEntity)
			return
		}
		var body struct {
			Order shopify.Order `json:"order"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"order": map[string]interface{}{"id": 1001}})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func enableShopify(t *testing.T, e *env, hooked bool) {
	t.Helper()
	shop, err := e.store.Shops.Get(e.ctx, shopID)
	require.NoError(t, err)
	shop.Settings.Shopify = models.ShopifySettings{Enabled: true, APIKey: "key", Password: "pass", ShopName: "test"}
	if hooked {
		shop.Settings.Shopify.SyncHooks = []models.SyncHook{{Topic: ShopifyHookTopic, Event: ShopifyHookEvent, SyncType: ShopifyHookSyncType}}
	}
	require.NoError(t, e.store.Shops.Upsert(e.ctx, shop))
}

func newExporter(e *env, f *shopifyFake) *ShopifyExporter {
	client := shopify.New(connectorClient("shopify", e.logger), "2024-01")
	client.BaseURL = f.srv.URL
	x := NewShopifyExporter(e.store, client, e.idem, e.logger)
	x.clock = func() time.Time { return e.now }
	return x
}

func TestExportOnOrderCreated(t *testing.T) {
	e := newEnv(t)
	f := newShopifyFake(t)
	enableShopify(t, e, true)
	exporter := newExporter(e, f)
	order := placeOrder(t, e, e.customer(t, "ada", ""), 1)

	ev := events.Event{Topic: events.AfterOrderCreate, OrderID: order.ID}
	require.NoError(t, exporter.HandleOrderCreated(e.ctx, ev))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))

	got, err := e.store.Orders.Get(e.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.ExportHistory, 1)
	rec := got.ExportHistory[0]
	assert.Equal(t, models.ExportSuccess, rec.Status)
	assert.Equal(t, "1001", rec.DestinationIdentifier)
	assert.Equal(t, shopID, rec.ShopID)
	assert.Equal(t, e.now, rec.DateAttempted.UTC())

	require.NoError(t, exporter.HandleOrderCreated(e.ctx, ev))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls), "each order is exported once")
	got, err = e.store.Orders.Get(e.ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, got.ExportHistory, 1)
}

func TestExportNeedsHookUnlessManual(t *testing.T) {
	e := newEnv(t)
	f := newShopifyFake(t)
	enableShopify(t, e, false)
	exporter := newExporter(e, f)
	order := placeOrder(t, e, e.customer(t, "ada", ""), 1)

	require.NoError(t, exporter.HandleOrderCreated(e.ctx, events.Event{OrderID: order.ID}))
	assert.Zero(t, atomic.LoadInt32(&f.calls))

	got, err := exporter.ExportOrder(e.ctx, order.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
	require.Len(t, got.ExportHistory, 1)
}

func TestExportFailureIsRecordedAndRetryable(t *testing.T) {
	e := newEnv(t)
	f := newShopifyFake(t)
	f.fail.Store(true)
	enableShopify(t, e, true)
	exporter := newExporter(e, f)
	order := placeOrder(t, e, e.customer(t, "ada", ""), 1)

	got, err := exporter.ExportOrder(e.ctx, order.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConnectorError))
	require.Len(t, got.ExportHistory, 1)
	assert.Equal(t, models.ExportFailed, got.ExportHistory[0].Status)

	done, err := e.idem.IsProcessed(e.ctx, ExportKey(order.ID, shopID))
	require.NoError(t, err)
	assert.False(t, done)

	f.fail.Store(false)
	got, err = exporter.ExportOrder(e.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.ExportHistory, 2)
	assert.Equal(t, models.ExportSuccess, got.ExportHistory[1].Status)
}

func TestExportSkipsShopsWithoutShopify(t *testing.T) {
	e := newEnv(t)
	f := newShopifyFake(t)
	exporter := newExporter(e, f)
	order := placeOrder(t, e, e.customer(t, "ada", ""), 1)

	got, err := exporter.ExportOrder(e.ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ExportHistory)
	assert.Zero(t, atomic.LoadInt32(&f.calls))

	_, err = exporter.ExportOrder(e.ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

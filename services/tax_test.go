package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/connectors"
	"reaction-commerce/connectors/avalara"
	"reaction-commerce/connectors/taxcloud"
	"reaction-commerce/models"
)

func TestMatchTaxRate(t *testing.T) {
	rates := []*models.TaxRate{
		{ID: "us", Country: "US", Rate: decimal.NewFromInt(1)},
		{ID: "ca", Country: "US", Region: "CA", Rate: decimal.NewFromInt(2)},
		{ID: "zip", Country: "US", Region: "CA", Postal: "90405", Rate: decimal.NewFromInt(3)},
		{ID: "food", Country: "US", TaxCode: "FOOD", Rate: decimal.NewFromInt(4)},
	}
	tests := []struct {
		name    string
		addr    models.Address
		taxCode string
		want    string
	}{
		{"postal wins", models.Address{Country: "US", Region: "CA", Postal: "90405"}, "", "zip"},
		{"region", models.Address{Country: "US", Region: "CA", Postal: "94105"}, "", "ca"},
		{"country", models.Address{Country: "US", Region: "TX"}, "", "us"},
		{"tax code beats location", models.Address{Country: "US", Region: "CA", Postal: "90405"}, "FOOD", "food"},
		{"no match", models.Address{Country: "DE"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchTaxRate(rates, tt.addr, tt.taxCode)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestCalculateCustomRates(t *testing.T) {
	e := newEnv(t)
	actor := e.customer(t, "ada", "")
	cart := e.readyCart(t, actor, 2)
	version := cart.Version

	cart, err := e.taxes.Calculate(e.ctx, cart.ID)
	require.NoError(t, err)
	item := cart.Items[0]
	assert.Equal(t, "10", item.TaxRate.String())
	assert.Equal(t, "2", item.Tax.String())
	assert.Equal(t, version+1, cart.Version)

	cart, err = e.taxes.Calculate(e.ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, version+1, cart.Version, "unchanged taxes are not rewritten")
}

func TestCalculateWithoutAddressIsZero(t *testing.T) {
	e := newEnv(t)
	actor := e.customer(t, "ada", "")
	cart, err := e.carts.CreateCart(e.ctx, actor)
	require.NoError(t, err)
	_, err = e.carts.AddToCart(e.ctx, actor, cart.ID, productID, tracked, 1)
	require.NoError(t, err)

	cart, err = e.taxes.Calculate(e.ctx, cart.ID)
	require.NoError(t, err)
	assert.True(t, cart.Items[0].Tax.IsZero())
}

func connectorClient(name string, logger logrus.FieldLogger) *connectors.Client {
	return connectors.New(name, connectors.Options{
		Logger:  logger,
		BackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
}

func useProvider(t *testing.T, e *env, provider string) {
	t.Helper()
	shop, err := e.store.Shops.Get(e.ctx, shopID)
	require.NoError(t, err)
	shop.Settings.Taxes.Provider = provider
	shop.Settings.TaxCloud = models.TaxCloudSettings{Enabled: true, APIKey: "key", APILoginID: "login"}
	shop.Settings.Avalara = models.AvalaraSettings{Enabled: true, Username: "user", Password: "pass", CompanyCode: "DEFAULT"}
	require.NoError(t, e.store.Shops.Upsert(e.ctx, shop))
}

func TestCalculateWithTaxCloud(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req taxcloud.LookupRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "90405", req.Origin.Zip5)
		require.Len(t, req.CartItems, 1)
		assert.Equal(t, taxcloud.DefaultTIC, req.CartItems[0].TIC)
		_ = json.NewEncoder(w).Encode(taxcloud.LookupResponse{
			ResponseType:      3,
			CartItemsResponse: []taxcloud.CartItemResponse{{CartItemIndex: 0, TaxAmount: 1.9}},
		})
	}))
	defer srv.Close()
	e.taxes.taxcloud = taxcloud.New(connectorClient("taxcloud", e.logger), srv.URL)
	useProvider(t, e, models.TaxProviderTaxCloud)

	actor := e.customer(t, "ada", "")
	cart := e.readyCart(t, actor, 2)
	cart, err := e.taxes.Calculate(e.ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.9", cart.Items[0].Tax.String())
	assert.Equal(t, "9.5", cart.Items[0].TaxRate.String())
}

func TestCalculateFallsBackToCustomRates(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	e.taxes.taxcloud = taxcloud.New(connectorClient("taxcloud", e.logger), srv.URL)
	useProvider(t, e, models.TaxProviderTaxCloud)

	actor := e.customer(t, "ada", "")
	cart := e.readyCart(t, actor, 1)
	cart, err := e.taxes.Calculate(e.ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", cart.Items[0].Tax.String())

	var warned bool
	for _, entry := range e.hook.AllEntries() {
		if entry.Message == "tax connector failed, using custom rates" {
			warned = true
			assert.Equal(t, models.TaxProviderTaxCloud, entry.Data["connector"])
		}
	}
	assert.True(t, warned)
}

func TestCalculateWithAvalara(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		var req avalara.CreateTransactionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "DEFAULT", req.CompanyCode)
		assert.Equal(t, "US", req.Addresses.ShipTo.Country)
		require.Len(t, req.Lines, 1)
		assert.Equal(t, "1", req.Lines[0].Number)
		_ = json.NewEncoder(w).Encode(avalara.Transaction{Lines: []avalara.LineResult{{LineNumber: "1", Tax: 2.25}}})
	}))
	defer srv.Close()
	e.taxes.avalara = avalara.New(connectorClient("avalara", e.logger), srv.URL)
	useProvider(t, e, models.TaxProviderAvalara)

	actor := e.customer(t, "ada", "")
	cart := e.readyCart(t, actor, 3)
	cart, err := e.taxes.Calculate(e.ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.25", cart.Items[0].Tax.String())
	assert.Equal(t, "7.5", cart.Items[0].TaxRate.String())
}

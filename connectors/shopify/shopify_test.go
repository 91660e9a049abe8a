package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors"
	"reaction-commerce/models"
)

func sampleOrder() *models.Order {
	addr := &models.Address{FullName: "Ada Lovelace King", Address1: "1 Main St", City: "Austin", Region: "TX", Postal: "78701", Country: "US", Phone: "5125550100"}
	return &models.Order{
		ID:    "order-1",
		Email: "ada@example.com",
		Items: []models.OrderItem{
			{CartItem: models.CartItem{ID: "i1", ShopID: "shop-1", ProductID: "p1", VariantID: "v1", Title: "Shirt", Quantity: 2,
				Price: decimal.RequireFromString("10"), Taxable: true, TaxCode: "CLOTH", TaxRate: decimal.RequireFromString("8.25"),
				Tax: decimal.RequireFromString("1.65"), Parcel: &models.Parcel{Weight: 1.5}}},
			{CartItem: models.CartItem{ID: "i2", ShopID: "shop-2", VariantID: "v2", Quantity: 1, Price: decimal.RequireFromString("99")}},
		},
		Shipping: []models.ShippingRecord{{ShopID: "shop-1", Address: addr,
			ShipmentMethod: &models.ShippingMethod{Rate: decimal.RequireFromString("5"), Handling: decimal.RequireFromString("0.5")}}},
		Billing: []models.BillingRecord{{ShopID: "shop-1", Address: addr,
			PaymentMethod: &models.PaymentMethod{Method: "credit", Mode: models.ModeAuthorize}}},
	}
}

func TestConvertOrder(t *testing.T) {
	shop := &models.Shop{ID: "shop-1", BaseUOM: "kg"}
	out, err := ConvertOrder(sampleOrder(), 0, shop)
	require.NoError(t, err)

	assert.Equal(t, "authorized", out.FinancialStatus)
	assert.Equal(t, "Ada", out.BillingAddress.FirstName)
	assert.Equal(t, "Lovelace King", out.BillingAddress.LastName)
	assert.Equal(t, "+15125550100", out.Customer.Phone)
	assert.Equal(t, "5125550100", out.Phone)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, 1500.0, out.LineItems[0].Grams)
	assert.Equal(t, 3000.0, out.TotalWeight)
	require.Len(t, out.LineItems[0].TaxLines, 1)
	assert.Equal(t, "CLOTH", out.LineItems[0].TaxLines[0].Title)
	assert.InDelta(t, 0.0825, out.LineItems[0].TaxLines[0].Rate, 1e-9)
	assert.Equal(t, "20.00", out.SubtotalPrice)
	assert.Equal(t, "20.00", out.TotalLineItemsPrice)
	assert.Equal(t, "1.65", out.TotalTax)
	assert.Equal(t, "0.00", out.TotalDiscounts)
	assert.Equal(t, "27.15", out.TotalPrice)
	assert.Equal(t, "reaction_export", out.SourceName)
}

func TestConvertOrderPaidAndForeignPhone(t *testing.T) {
	o := sampleOrder()
	o.Billing[0].PaymentMethod.Mode = models.ModeCapture
	o.Billing[0].Address = &models.Address{FullName: "Jean", Country: "FR", Phone: "0102"}
	out, err := ConvertOrder(o, 0, &models.Shop{BaseUOM: "g"})
	require.NoError(t, err)
	assert.Equal(t, "paid", out.FinancialStatus)
	assert.Equal(t, "0102", out.Customer.Phone)
	assert.Equal(t, "", out.Customer.LastName)

	_, err = ConvertOrder(o, 3, &models.Shop{})
	assert.Error(t, err)
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/2024-01/orders.json", r.URL.Path)
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)

		var body struct {
			Order Order `json:"order"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "order-1", body.Order.ID)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":{"id":450789469}}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	c := New(connectors.New("shopify", connectors.Options{
		Logger:  logger,
		BackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}), "2024-01")
	c.BaseURL = srv.URL

	created, err := c.CreateOrder(context.Background(), Credentials{ShopName: "demo", APIKey: "key", Password: "secret"}, &Order{ID: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(450789469), created.ID)

	_, err = c.CreateOrder(context.Background(), Credentials{}, &Order{})
	assert.Equal(t, apperr.CodeInvalidCredentials, apperr.CodeOf(err))
}

func TestCreateOrderIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	c := New(connectors.New("shopify", connectors.Options{
		MaxRetries: 3,
		Logger:     logger,
		BackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}), "2024-01")
	c.BaseURL = srv.URL

	_, err := c.CreateOrder(context.Background(), Credentials{ShopName: "demo", APIKey: "key", Password: "secret"}, &Order{ID: "order-1"})
	assert.Equal(t, apperr.CodeConnectorError, apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a lost response must not export the order twice")
}

func TestOrdersURL(t *testing.T) {
	c := New(nil, "2024-01")
	assert.Equal(t, "https://demo.myshopify.com/admin/api/2024-01/orders.json", c.ordersURL("demo"))
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/config"
	"reaction-commerce/models"
	"reaction-commerce/services"
	"reaction-commerce/utils"
	"reaction-commerce/workflow"
)

const (
	shopID    = "J8Bhq3uTtdgwZx3rz"
	productID = "BCTMZ6HTxFSppJESk"
	variantID = "CJoRBm9vRrorc9mxZ"
)

func testConfig() *config.Config {
	return &config.Config{
		App:        config.AppConfig{Env: "test", Port: "0", BaseURL: "http://localhost"},
		Log:        config.LogConfig{Level: "debug"},
		Store:      config.StoreConfig{Driver: "memory"},
		JWT:        config.JWTConfig{Secret: "test-secret", TTL: time.Hour},
		Email:      config.EmailConfig{Provider: "none", Sender: "shop@example.com"},
		NATS:       config.NATSConfig{SubjectPrefix: "reaction"},
		Inventory:  config.InventoryConfig{ReservationTTL: 15 * time.Minute},
		Jobs:       config.JobsConfig{ReservationSweep: "@every 1m"},
		Connectors: config.ConnectorsConfig{Timeout: time.Second},
		Fixtures:   config.FixturesConfig{Path: "../fixtures/shops.yaml"},
		Shopify:    config.ShopifyConfig{APIVersion: "2024-01"},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	logger, _ := test.NewNullLogger()
	a, err := New(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

// call sends a JSON request and decodes a JSON response into out.
func call(t *testing.T, a *App, method, path, token string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func adminToken(t *testing.T, a *App) string {
	t.Helper()
	require.NoError(t, a.Store.Users.Create(context.Background(), &models.User{
		ID:         "admin-1",
		ShopID:     shopID,
		Name:       "Admin",
		Email:      "admin@example.com",
		Role:       models.RoleAdmin,
		IsVerified: true,
	}))
	token, err := a.Tokens.GenerateJWT(utils.Claims{UserID: "admin-1", ShopID: shopID, Role: models.RoleAdmin})
	require.NoError(t, err)
	return token
}

func TestPublicEndpoints(t *testing.T) {
	a := newTestApp(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, call(t, a, "GET", "/healthz", "", nil, &health))
	assert.Equal(t, "ok", health["status"])

	var shop models.Shop
	require.Equal(t, http.StatusOK, call(t, a, "GET", "/shops/slug/reaction", "", nil, &shop))
	assert.Equal(t, shopID, shop.ID)
	require.NotNil(t, shop.DefaultParcelSize)

	var apiErr struct {
		Error struct{ Code, Message string } `json:"error"`
	}
	assert.Equal(t, http.StatusNotFound, call(t, a, "GET", "/shops/slug/nope", "", nil, &apiErr))
	assert.Equal(t, "not-found", apiErr.Error.Code)

	var surcharge models.Surcharge
	require.Equal(t, http.StatusOK, call(t, a, "GET", "/shops/"+shopID+"/surcharges/hazmat?language=es", "", nil, &surcharge))
	assert.Equal(t, "es", surcharge.Language)
	assert.Equal(t, http.StatusNotFound, call(t, a, "GET", "/shops/"+shopID+"/surcharges/none", "", nil, nil))

	var products []models.Product
	require.Equal(t, http.StatusOK, call(t, a, "GET", "/products?shop_id="+shopID, "", nil, &products))
	require.Len(t, products, 1)
	assert.Equal(t, 10, products[0].InventoryQuantity)

	assert.Equal(t, http.StatusUnauthorized, call(t, a, "GET", "/cart", "", nil, nil))
}

func TestAnonymousCart(t *testing.T) {
	a := newTestApp(t)

	var session services.Session
	require.Equal(t, http.StatusCreated, call(t, a, "POST", "/sessions/anonymous", "", nil, &session))
	require.NotEmpty(t, session.Token)
	assert.Equal(t, shopID, session.User.ShopID)

	var cart models.Cart
	require.Equal(t, http.StatusOK, call(t, a, "POST", "/cart", session.Token, nil, &cart))
	require.Equal(t, http.StatusOK, call(t, a, "POST", "/cart/items", session.Token,
		map[string]interface{}{"product_id": productID, "variant_id": variantID, "quantity": 3}, &cart))
	require.Len(t, cart.Items, 1)
	itemID := cart.Items[0].ID

	require.Equal(t, http.StatusOK, call(t, a, "PATCH", "/cart/items/"+itemID, session.Token,
		map[string]int{"quantity": 1}, &cart))
	assert.Equal(t, 1, cart.Items[0].Quantity)

	var apiErr struct {
		Error struct{ Code string } `json:"error"`
	}
	assert.Equal(t, http.StatusConflict, call(t, a, "POST", "/cart/items", session.Token,
		map[string]interface{}{"product_id": productID, "variant_id": variantID, "quantity": 50}, &apiErr))
	assert.Equal(t, "insufficient-stock", apiErr.Error.Code)

	require.Equal(t, http.StatusOK, call(t, a, "DELETE", "/cart/items/"+itemID, session.Token, nil, &cart))
	assert.Empty(t, cart.Items)
}

func TestCheckoutAndFulfilment(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.Equal(t, http.StatusCreated, call(t, a, "POST", "/register", "",
		map[string]string{"name": "Ada", "email": "ada@example.com", "password": "secret123"}, nil))
	user, err := a.Store.Users.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, call(t, a, "GET", "/verify?token="+user.VerificationToken, "", nil, nil))

	var session services.Session
	require.Equal(t, http.StatusOK, call(t, a, "POST", "/login", "",
		map[string]string{"email": "ada@example.com", "password": "secret123"}, &session))
	token := session.Token

	var cart models.Cart
	require.Equal(t, http.StatusOK, call(t, a, "POST", "/cart", token, nil, &cart))
	require.Equal(t, http.StatusOK, call(t, a, "POST", "/cart/items", token,
		map[string]interface{}{"product_id": productID, "variant_id": variantID, "quantity": 2}, &cart))

	address := models.Address{
		FullName: "Ada Lovelace",
		Address1: "1 Ocean Ave",
		City:     "Santa Monica",
		Region:   "CA",
		Postal:   "90405",
		Country:  "US",
	}
	require.Equal(t, http.StatusOK, call(t, a, "PUT", "/cart/shipping/address", token, address, &cart))
	require.Equal(t, http.StatusOK, call(t, a, "PUT", "/cart/shipping/method", token,
		map[string]string{"method_id": "standard"}, &cart))
	assert.Equal(t, workflow.CoreCheckoutShipping, cart.Workflow.Status)

	var priced struct {
		Cart    models.Cart    `json:"cart"`
		Invoice models.Invoice `json:"invoice"`
	}
	require.Equal(t, http.StatusOK, call(t, a, "POST", "/cart/taxes", token, nil, &priced))
	assert.Equal(t, "10.25", priced.Cart.Items[0].TaxRate.String())
	assert.True(t, priced.Invoice.Taxes.IsPositive())

	var order models.Order
	require.Equal(t, http.StatusCreated, call(t, a, "POST", "/cart/checkout", token, map[string]string{
		"card_number": "4242424242424242", "expiration_month": "12", "expiration_year": "2030", "cvv2": "123",
	}, &order))
	assert.Equal(t, workflow.OrderNew, order.Workflow.Status)
	assert.Equal(t, "ada@example.com", order.Email)

	var orders []models.Order
	require.Equal(t, http.StatusOK, call(t, a, "GET", "/orders", token, nil, &orders))
	require.Len(t, orders, 1)

	variant, err := a.Store.Products.Get(ctx, variantID)
	require.NoError(t, err)
	assert.Equal(t, 10, variant.InventoryQuantity)
	assert.Equal(t, 8, variant.InventoryAvailableToSell)

	assert.Equal(t, http.StatusForbidden, call(t, a, "POST", "/orders/"+order.ID+"/approve", token, nil, nil))

	admin := adminToken(t, a)
	for _, step := range []string{"approve", "capture", "complete"} {
		require.Equal(t, http.StatusOK, call(t, a, "POST", "/orders/"+order.ID+"/"+step, admin, nil, &order), step)
	}
	assert.Equal(t, workflow.OrderCompleted, order.Workflow.Status)
	assert.Equal(t, http.StatusConflict, call(t, a, "POST", "/orders/"+order.ID+"/cancel", admin, nil, nil))

	var refund struct {
		Saved bool `json:"saved"`
	}
	require.Equal(t, http.StatusOK, call(t, a, "POST", "/orders/"+order.ID+"/refund", admin,
		map[string]string{"amount": "5.00"}, &refund))
	assert.True(t, refund.Saved)

	a.Bus.Wait()
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "rc_orders_created_total 1")
}

func TestServiceConfigurationIsAdminOnly(t *testing.T) {
	a := newTestApp(t)
	var session services.Session
	require.Equal(t, http.StatusCreated, call(t, a, "POST", "/sessions/anonymous", "", nil, &session))

	assert.Equal(t, http.StatusForbidden, call(t, a, "PUT", "/accounts/service-configuration/github", session.Token,
		map[string]string{"client_id": "x"}, nil))

	var out map[string]bool
	require.Equal(t, http.StatusOK, call(t, a, "PUT", "/accounts/service-configuration/github", adminToken(t, a),
		map[string]string{"client_id": "x"}, &out))
	assert.True(t, out["updated"])
}

func TestMissingFixturesFileIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Fixtures.Path = "does-not-exist.yaml"
	logger, hook := test.NewNullLogger()
	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.NotNil(t, hook.LastEntry())
	_, err = a.Store.Shops.GetPrimary(context.Background())
	assert.Error(t, err)
}

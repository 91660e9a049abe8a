package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"reaction-commerce/cache"
	"reaction-commerce/events"
	"reaction-commerce/metrics"
	"reaction-commerce/models"
	"reaction-commerce/payments"
	"reaction-commerce/payments/example"
	"reaction-commerce/store"
	"reaction-commerce/store/memstore"
	"reaction-commerce/workflow"
)

const (
	shopID    = "shop-1"
	productID = "prod-1"
	// tracked denies backorders and starts with 5 units.
	tracked = "var-tracked"
	// backorder allows backorders and starts with none.
	backorder = "var-backorder"
)

var testAddress = models.Address{
	FullName: "Grace Hopper",
	Address1: "1 Navy Way",
	City:     "Santa Monica",
	Region:   "CA",
	Postal:   "90405",
	Country:  "US",
}

// recorder collects every published event.
type recorder struct {
	events []events.Event
}

func (r *recorder) topics() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Topic)
	}
	return out
}

// env wires every service against a memory store with a fixed clock.
type env struct {
	ctx       context.Context
	store     *store.Store
	bus       *events.Bus
	published *recorder
	metrics   *metrics.Registry
	logger    *logrus.Logger
	hook      *test.Hook
	now       time.Time
	idem      *cache.InMemoryIdempotencyStore
	processor *example.Processor
	registry  *payments.Registry

	inventory *InventoryService
	carts     *CartService
	shipping  *ShippingService
	taxes     *TaxService
	checkout  *CheckoutService
	orders    *OrderService
	products  *ProductService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	e := &env{
		ctx:       context.Background(),
		store:     memstore.New(),
		bus:       events.NewBus(logger),
		published: &recorder{},
		metrics:   metrics.New(),
		logger:    logger,
		hook:      hook,
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		idem:      cache.NewInMemoryIdempotencyStore(),
		processor: example.New(),
	}
	for _, topic := range []string{
		events.AfterCartUpdate, events.AfterAddItemsToCart, events.AfterModifyQuantityInCart,
		events.BeforeRemoveItemsFromCart, events.AfterOrderCreate, events.AfterOrderUpdate,
		events.AfterOrderCancel, events.AfterVariantInsert, events.AfterVariantUpdate, events.AfterVariantRemove,
	} {
		e.bus.Subscribe(topic, func(_ context.Context, ev events.Event) error {
			e.published.events = append(e.published.events, ev)
			return nil
		})
	}
	clk := clock(func() time.Time { return e.now })

	e.inventory = NewInventoryService(e.store, e.bus, e.metrics, logger, 15*time.Minute)
	e.inventory.clock = clk
	e.carts = NewCartService(e.store, e.inventory, e.bus, logger)
	e.carts.clock = clk
	e.shipping = NewShippingService(e.store, e.carts, e.bus, logger)
	e.shipping.clock = clk
	e.taxes = NewTaxService(e.store, nil, nil, logger)
	e.taxes.clock = clk
	e.registry = payments.NewRegistry(e.processor)
	e.checkout = NewCheckoutService(CheckoutDeps{
		Store:       e.store,
		Carts:       e.carts,
		Inventory:   e.inventory,
		Taxes:       e.taxes,
		Processors:  e.registry,
		Idempotency: e.idem,
		Bus:         e.bus,
		Metrics:     e.metrics,
		Logger:      logger,
	})
	e.checkout.clock = clk
	e.orders = NewOrderService(e.store, e.inventory, e.registry, e.bus, logger)
	e.orders.clock = clk
	e.products = NewProductService(e.store, e.inventory, logger)
	e.products.clock = clk

	e.seed(t)
	return e
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.Shops.Upsert(e.ctx, &models.Shop{
		ID:       shopID,
		Name:     "Test Shop",
		Slug:     "test",
		Currency: "USD",
		BaseUOM:  "lb",
		BaseUOL:  "in",
		Primary:  true,
		AddressBook: []models.Address{{
			FullName: "Test Shop", Address1: "2110 Main Street", City: "Santa Monica",
			Region: "CA", Postal: "90405", Country: "US",
		}},
		ShippingMethods: []models.ShippingMethod{
			{ID: "standard", Name: "Standard", Rate: decimal.RequireFromString("5"), Enabled: true},
			{ID: "priority", Name: "Priority", Rate: decimal.RequireFromString("10"), Handling: decimal.RequireFromString("1.5"), Enabled: true},
			{ID: "retired", Name: "Retired", Rate: decimal.RequireFromString("1"), Enabled: false},
		},
	}))
	require.NoError(t, e.store.TaxRates.Upsert(e.ctx, &models.TaxRate{
		ID: "ca", ShopID: shopID, Country: "US", Region: "CA", Rate: decimal.RequireFromString("10"),
	}))
	require.NoError(t, e.store.Products.Create(e.ctx, &models.Product{
		ID: productID, ShopID: shopID, Type: models.ProductTypeSimple, Ancestors: []string{}, Title: "Shirt",
	}))
	for _, v := range []*models.Product{
		{ID: tracked, Title: "Red", Price: decimal.RequireFromString("10"), Taxable: true,
			InventoryManagement: true, InventoryPolicy: true, LowInventoryWarningThreshold: 2, InventoryQuantity: 5},
		{ID: backorder, Title: "Blue", Price: decimal.RequireFromString("20"), Taxable: true,
			InventoryManagement: true, InventoryPolicy: false},
	} {
		v.ShopID = shopID
		v.Type = models.ProductTypeVariant
		v.Ancestors = []string{productID}
		v.RequiresShipping = true
		_, err := e.inventory.RegisterVariant(e.ctx, v)
		require.NoError(t, err)
	}
	e.published.events = nil
}

// customer creates a verified customer and returns its actor.
func (e *env) customer(t *testing.T, id, sessionID string) Actor {
	t.Helper()
	require.NoError(t, e.store.Users.Create(e.ctx, &models.User{
		ID: id, ShopID: shopID, Name: id, Email: id + "@example.com", Role: models.RoleCustomer, IsVerified: true,
	}))
	return Actor{UserID: id, ShopID: shopID, Role: models.RoleCustomer, SessionID: sessionID}
}

// guest creates an anonymous user for sessionID.
func (e *env) guest(t *testing.T, id, sessionID string) Actor {
	t.Helper()
	require.NoError(t, e.store.Users.Create(e.ctx, &models.User{
		ID: id, ShopID: shopID, Name: "Guest", Role: models.RoleAnonymous, SessionID: sessionID,
	}))
	return Actor{UserID: id, ShopID: shopID, Role: models.RoleAnonymous, SessionID: sessionID}
}

func (e *env) variant(t *testing.T, id string) *models.Product {
	t.Helper()
	v, err := e.store.Products.Get(e.ctx, id)
	require.NoError(t, err)
	return v
}

func (e *env) cart(t *testing.T, id string) *models.Cart {
	t.Helper()
	c, err := e.store.Carts.Get(e.ctx, id)
	require.NoError(t, err)
	return c
}

// readyCart returns a cart with qty of the tracked variant, an address and
// the standard shipping method, ready for payment.
func (e *env) readyCart(t *testing.T, actor Actor, qty int) *models.Cart {
	t.Helper()
	cart, err := e.carts.CreateCart(e.ctx, actor)
	require.NoError(t, err)
	_, err = e.carts.AddToCart(e.ctx, actor, cart.ID, productID, tracked, qty)
	require.NoError(t, err)
	_, err = e.shipping.SetShipmentAddress(e.ctx, actor, cart.ID, testAddress)
	require.NoError(t, err)
	cart, err = e.shipping.SetShipmentMethod(e.ctx, actor, cart.ID, "standard")
	require.NoError(t, err)
	require.Equal(t, workflow.CoreCheckoutShipping, cart.Workflow.Status)
	return cart
}

var goodCard = payments.Card{Number: "4242424242424242", ExpirationMonth: "12", ExpirationYear: "2030", CVV: "123"}

// Package storetest is a behavioral suite every store.Store backend must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/models"
	"reaction-commerce/store"
)

// Run exercises s. newStore must return an empty store for each call.
func Run(t *testing.T, newStore func(t *testing.T) *store.Store) {
	t.Run("UserCAS", func(t *testing.T) { testUserCAS(t, newStore(t)) })
	t.Run("UserUniqueEmail", func(t *testing.T) { testUserUniqueEmail(t, newStore(t)) })
	t.Run("ShopLookup", func(t *testing.T) { testShopLookup(t, newStore(t)) })
	t.Run("AdjustInventory", func(t *testing.T) { testAdjustInventory(t, newStore(t)) })
	t.Run("ProductQueries", func(t *testing.T) { testProductQueries(t, newStore(t)) })
	t.Run("CartRoundTrip", func(t *testing.T) { testCartRoundTrip(t, newStore(t)) })
	t.Run("OrderQueries", func(t *testing.T) { testOrderQueries(t, newStore(t)) })
	t.Run("Reservations", func(t *testing.T) { testReservations(t, newStore(t)) })
	t.Run("TaxRatesAndSurcharges", func(t *testing.T) { testTaxRatesAndSurcharges(t, newStore(t)) })
}

func testUserCAS(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := &models.User{ID: models.NewID(), Email: "a@example.com", Role: models.RoleCustomer, VerificationToken: "tok"}
	require.NoError(t, s.Users.Create(ctx, u))

	stale, err := s.Users.Get(ctx, u.ID)
	require.NoError(t, err)

	u.Name = "Alice"
	require.NoError(t, s.Users.Update(ctx, u))
	assert.Equal(t, 1, u.Version)

	stale.Name = "Mallory"
	assert.True(t, errors.Is(s.Users.Update(ctx, stale), store.ErrConflict))

	got, err := s.Users.GetByVerificationToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, 1, got.Version)

	require.NoError(t, s.Users.Delete(ctx, u.ID))
	_, err = s.Users.Get(ctx, u.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, errors.Is(s.Users.Update(ctx, u), store.ErrNotFound))
}

func testUserUniqueEmail(t *testing.T, s *store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Users.Create(ctx, &models.User{ID: models.NewID(), Email: "dup@example.com"}))
	err := s.Users.Create(ctx, &models.User{ID: models.NewID(), Email: "dup@example.com"})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	got, err := s.Users.GetByEmail(ctx, "dup@example.com")
	require.NoError(t, err)
	assert.Equal(t, "dup@example.com", got.Email)
}

func testShopLookup(t *testing.T, s *store.Store) {
	ctx := context.Background()
	shop := &models.Shop{
		ID: "shop-1", Name: "Reaction", Slug: "reaction", Primary: true, Currency: "USD",
		ShippingMethods: []models.ShippingMethod{{ID: "ground", Rate: decimal.RequireFromString("5.25"), Enabled: true}},
	}
	require.NoError(t, s.Shops.Upsert(ctx, shop))
	require.NoError(t, s.Shops.Upsert(ctx, &models.Shop{ID: "shop-2", Slug: "other"}))

	got, err := s.Shops.GetBySlug(ctx, "reaction")
	require.NoError(t, err)
	assert.Equal(t, "shop-1", got.ID)
	assert.True(t, got.ShippingMethods[0].Rate.Equal(decimal.RequireFromString("5.25")))

	_, err = s.Shops.GetBySlug(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	primary, err := s.Shops.GetPrimary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shop-1", primary.ID)

	all, err := s.Shops.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func seedVariant(t *testing.T, s *store.Store, available int) (*models.Product, *models.Product) {
	ctx := context.Background()
	parent := &models.Product{ID: models.NewID(), ShopID: "shop-1", Type: models.ProductTypeSimple, Title: "Shirt",
		InventoryQuantity: available, InventoryAvailableToSell: available, CreatedAt: time.Now().UTC()}
	variant := &models.Product{ID: models.NewID(), ShopID: "shop-1", Type: models.ProductTypeVariant, Ancestors: []string{parent.ID},
		Title: "Small", Price: decimal.RequireFromString("19.99"), InventoryManagement: true, InventoryPolicy: true,
		InventoryQuantity: available, InventoryAvailableToSell: available, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.Products.Create(ctx, parent))
	require.NoError(t, s.Products.Create(ctx, variant))
	return parent, variant
}

func testAdjustInventory(t *testing.T, s *store.Store) {
	ctx := context.Background()
	parent, variant := seedVariant(t, s, 3)

	got, err := s.Products.AdjustInventory(ctx, variant.ID, models.InventoryDelta{AvailableToSell: -2}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.InventoryAvailableToSell)
	assert.Equal(t, 3, got.InventoryQuantity)
	assert.Equal(t, 1, got.Version)

	_, err = s.Products.AdjustInventory(ctx, variant.ID, models.InventoryDelta{AvailableToSell: -2}, true)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	got, err = s.Products.AdjustInventory(ctx, variant.ID, models.InventoryDelta{AvailableToSell: -2}, false)
	require.NoError(t, err)
	assert.Equal(t, -1, got.InventoryAvailableToSell)

	p, err := s.Products.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, p.InventoryAvailableToSell)
	assert.Equal(t, 3, p.InventoryQuantity)

	_, err = s.Products.AdjustInventory(ctx, "missing", models.InventoryDelta{Quantity: 1}, true)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Stale writers lose against inventory adjustments.
	variant.Title = "Stale"
	assert.True(t, errors.Is(s.Products.Update(ctx, variant), store.ErrConflict))
}

func testProductQueries(t *testing.T, s *store.Store) {
	ctx := context.Background()
	parent, variant := seedVariant(t, s, 1)

	variants, err := s.Products.Variants(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, variant.ID, variants[0].ID)

	tops, err := s.Products.List(ctx, store.ProductFilter{Type: models.ProductTypeSimple})
	require.NoError(t, err)
	require.Len(t, tops, 1)

	variant.IsDeleted = true
	require.NoError(t, s.Products.Update(ctx, variant))
	variants, err = s.Products.Variants(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)

	all, err := s.Products.List(ctx, store.ProductFilter{ShopID: "shop-1", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testCartRoundTrip(t *testing.T, s *store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	cart := &models.Cart{
		ID: models.NewID(), ShopID: "shop-1", UserID: "user-1", SessionID: "sess-1",
		Items: []models.CartItem{{ID: "item-1", ShopID: "shop-1", VariantID: "v1", Quantity: 2,
			Price: decimal.RequireFromString("10.10"), Parcel: &models.Parcel{Weight: 1.5}}},
		Shipping:  []models.ShippingRecord{},
		Billing:   []models.BillingRecord{},
		Workflow:  models.Workflow{Status: "new", Workflow: []string{}},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Carts.Create(ctx, cart))

	got, err := s.Carts.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("10.10")))
	assert.Equal(t, 1.5, got.Items[0].Parcel.Weight)

	session, err := s.Carts.ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, session, 1)

	got.Items[0].Quantity = 5
	require.NoError(t, s.Carts.Update(ctx, got))
	cart.Items = nil
	assert.True(t, errors.Is(s.Carts.Update(ctx, cart), store.ErrConflict))

	require.NoError(t, s.Carts.Delete(ctx, cart.ID))
	_, err = s.Carts.Get(ctx, cart.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testOrderQueries(t *testing.T, s *store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	o1 := &models.Order{ID: "o1", CartID: "c1", UserID: "u1", CreatedAt: base}
	o2 := &models.Order{ID: "o2", CartID: "c2", UserID: "u1", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.Orders.Create(ctx, o1))
	require.NoError(t, s.Orders.Create(ctx, o2))
	assert.True(t, errors.Is(s.Orders.Create(ctx, &models.Order{ID: "o3", CartID: "c1"}), store.ErrDuplicate))

	list, err := s.Orders.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "o2", list[0].ID)

	byCart, err := s.Orders.GetByCart(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "o1", byCart.ID)

	byCart.ExportHistory = append(byCart.ExportHistory, models.ExportRecord{Status: models.ExportSuccess, ShopID: "shop-1"})
	require.NoError(t, s.Orders.Update(ctx, byCart))
	got, err := s.Orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, got.ExportHistory, 1)
}

func testReservations(t *testing.T, s *store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	old := &models.Reservation{ID: "r1", CartID: "c1", CartItemID: "i1", VariantID: "v1", Quantity: 1,
		Status: models.ReservationReserved, ExpiresAt: now.Add(-time.Minute), CreatedAt: now}
	fresh := &models.Reservation{ID: "r2", CartID: "c1", CartItemID: "i2", VariantID: "v1", Quantity: 2,
		Status: models.ReservationReserved, ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(time.Second)}
	require.NoError(t, s.Reservations.Create(ctx, old))
	require.NoError(t, s.Reservations.Create(ctx, fresh))

	dup := &models.Reservation{ID: "r3", CartItemID: "i1", Status: models.ReservationReserved}
	assert.True(t, errors.Is(s.Reservations.Create(ctx, dup), store.ErrDuplicate))

	expired, err := s.Reservations.FindExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "r1", expired[0].ID)

	byVariant, err := s.Reservations.FindActiveByVariant(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, byVariant, 2)

	expired[0].Status = models.ReservationExpired
	require.NoError(t, s.Reservations.Update(ctx, expired[0]))
	_, err = s.Reservations.FindActiveByCartItem(ctx, "i1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	active, err := s.Reservations.FindActiveByCartItem(ctx, "i2")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Quantity)

	byCart, err := s.Reservations.FindByCart(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, byCart, 2)
}

func testTaxRatesAndSurcharges(t *testing.T, s *store.Store) {
	ctx := context.Background()
	require.NoError(t, s.TaxRates.Upsert(ctx, &models.TaxRate{ID: "t1", ShopID: "shop-1", Country: "US", Rate: decimal.RequireFromString("8.25")}))
	require.NoError(t, s.TaxRates.Upsert(ctx, &models.TaxRate{ID: "t2", ShopID: "shop-2", Country: "US", Rate: decimal.RequireFromString("5")}))
	rates, err := s.TaxRates.ListByShop(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.True(t, rates[0].Rate.Equal(decimal.RequireFromString("8.25")))

	require.NoError(t, s.Surcharges.Upsert(ctx, &models.Surcharge{ID: "s1", ShopID: "shop-1", Amount: decimal.NewFromInt(2), Message: map[string]string{"en": "Fee"}}))
	sc, err := s.Surcharges.Get(ctx, "shop-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Fee", sc.Message["en"])
	_, err = s.Surcharges.Get(ctx, "shop-2", "s1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.ServiceConfigs.Upsert(ctx, &models.ServiceConfiguration{Service: "google", Fields: map[string]string{"clientId": "x"}}))
	cfg, err := s.ServiceConfigs.Get(ctx, "google")
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Fields["clientId"])
}

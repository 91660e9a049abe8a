package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/apperr"
	"reaction-commerce/events"
	"reaction-commerce/models"
)

func intPtr(n int) *int { return &n }

func TestCreateProduct(t *testing.T) {
	e := newEnv(t)

	p, err := e.products.Create(e.ctx, ProductInput{ShopID: shopID, Title: "Mug", Price: decimal.NewFromInt(12)})
	require.NoError(t, err)
	assert.Equal(t, models.ProductTypeSimple, p.Type)
	assert.Empty(t, p.Ancestors)
	assert.Equal(t, e.now, p.CreatedAt)

	list, err := e.products.List(e.ctx, shopID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = e.products.Create(e.ctx, ProductInput{ShopID: shopID})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidParameter))

	_, err = e.products.Create(e.ctx, ProductInput{ShopID: "nowhere", Title: "Mug"})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestAddNestedVariant(t *testing.T) {
	e := newEnv(t)

	child, err := e.products.AddVariant(e.ctx, tracked, ProductInput{
		Title:               "Small",
		Price:               decimal.NewFromInt(9),
		InventoryManagement: true,
		InventoryPolicy:     true,
		InventoryQuantity:   intPtr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{productID, tracked}, child.Ancestors)
	assert.Equal(t, shopID, child.ShopID)
	assert.Equal(t, 3, child.InventoryQuantity)
	assert.Equal(t, 3, child.InventoryAvailableToSell)
	assert.Equal(t, []string{events.AfterVariantInsert}, e.published.topics())

	assert.Equal(t, 8, e.variant(t, tracked).InventoryQuantity)
	parent, err := e.products.Get(e.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 8, parent.InventoryQuantity)
	assert.Len(t, parent.Variants, 3)

	_, err = e.products.AddVariant(e.ctx, "missing", ProductInput{Title: "x"})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	_, err = e.products.AddVariant(e.ctx, productID, ProductInput{Title: "x", InventoryQuantity: intPtr(-1)})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidParameter))
}

func TestUpdateVariantQuantity(t *testing.T) {
	e := newEnv(t)

	v, err := e.products.Update(e.ctx, tracked, ProductInput{
		Title:                        "Tracked",
		Price:                        decimal.NewFromInt(11),
		InventoryManagement:          true,
		InventoryPolicy:              true,
		LowInventoryWarningThreshold: 2,
		InventoryQuantity:            intPtr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v.InventoryQuantity)
	assert.Equal(t, 1, v.InventoryAvailableToSell)
	assert.True(t, v.Price.Equal(decimal.NewFromInt(11)))

	parent, err := e.products.Get(e.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, parent.InventoryQuantity)
}

func TestUpdateProductFieldsOnly(t *testing.T) {
	e := newEnv(t)

	p, err := e.products.Update(e.ctx, productID, ProductInput{Title: "Renamed", Vendor: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Title)
	assert.Equal(t, "Acme", p.Vendor)
	assert.Equal(t, 5, p.InventoryQuantity, "stock counters are left alone")
	assert.Empty(t, e.published.events)
}

func TestDeleteProductRemovesVariantsDeepestFirst(t *testing.T) {
	e := newEnv(t)
	_, err := e.products.AddVariant(e.ctx, tracked, ProductInput{Title: "Small", InventoryQuantity: intPtr(3)})
	require.NoError(t, err)

	require.NoError(t, e.products.Delete(e.ctx, productID))

	_, err = e.products.Get(e.ctx, productID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	p, err := e.store.Products.Get(e.ctx, productID)
	require.NoError(t, err)
	assert.True(t, p.IsDeleted)
	assert.Zero(t, p.InventoryQuantity)

	list, err := e.products.List(e.ctx, shopID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteSingleVariant(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.products.Delete(e.ctx, tracked))

	parent, err := e.products.Get(e.ctx, productID)
	require.NoError(t, err)
	require.Len(t, parent.Variants, 1)
	assert.Equal(t, backorder, parent.Variants[0].ID)
	assert.Zero(t, parent.InventoryQuantity)
	assert.Contains(t, e.published.topics(), events.AfterVariantRemove)

	_, err = e.products.Update(e.ctx, tracked, ProductInput{Title: "gone"})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

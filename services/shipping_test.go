package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
	"reaction-commerce/workflow"
)

func TestSetShipmentAddress(t *testing.T) {
	e := newEnv(t)
	actor := e.customer(t, "ada", "")
	cart, err := e.carts.CreateCart(e.ctx, actor)
	require.NoError(t, err)
	_, err = e.carts.AddToCart(e.ctx, actor, cart.ID, productID, tracked, 1)
	require.NoError(t, err)

	cart, err = e.shipping.SetShipmentAddress(e.ctx, actor, cart.ID, testAddress)
	require.NoError(t, err)
	rec := cart.ShippingFor(shopID)
	require.NotNil(t, rec)
	assert.Equal(t, "90405", rec.Address.Postal)
	assert.NotEmpty(t, rec.Address.ID)
	require.Len(t, rec.ShipmentQuotes, 2, "disabled methods are not quoted")
	assert.Nil(t, rec.ShipmentMethod)

	bill := cart.BillingFor(shopID)
	require.NotNil(t, bill, "billing defaults to the shipping address")
	assert.Equal(t, testAddress.Address1, bill.Address.Address1)

	assert.Equal(t, workflow.CheckoutAddressBook, cart.Workflow.Status)
	assert.True(t, cart.Workflow.Has(workflow.CheckoutLogin))
}

func TestSetShipmentAddressValidates(t *testing.T) {
	e := newEnv(t)
	actor := e.customer(t, "ada", "")
	cart, err := e.carts.CreateCart(e.ctx, actor)
	require.NoError(t, err)

	bad := testAddress
	bad.Country = "USA"
	_, err = e.shipping.SetShipmentAddress(e.ctx, actor, cart.ID, bad)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidParameter))

	_, err = e.shipping.SetShipmentAddress(e.ctx, actor, cart.ID, models.Address{})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidParameter))
}

func TestSetPaymentAddressKeepsShipping(t *testing.T) {
	e := newEnv(t)
	actor := e.customer(t, "ada", "")
	cart := e.readyCart(t, actor, 1)

	billing := testAddress
	billing.Address1 = "99 Billing Rd"
	cart, err := e.shipping.SetPaymentAddress(e.ctx, actor, cart.ID, billing)
	require.NoError(t, err)
	assert.Equal(t, "99 Billing Rd", cart.BillingFor(shopID).Address.Address1)
	assert.Equal(t, testAddress.Address1, cart.ShippingFor(shopID).Address.Address1)

	// A new shipping address does not overwrite an existing billing address.
	moved := testAddress
	moved.Address1 = "5 New St"
	cart, err = e.shipping.SetShipmentAddress(e.ctx, actor, cart.ID, moved)
	require.NoError(t, err)
	assert.Equal(t, "99 Billing Rd", cart.BillingFor(shopID).Address.Address1)
	require.NotNil(t, cart.ShippingFor(shopID).ShipmentMethod, "still quoted, so kept")
}

func TestSetShipmentMethod(t *testing.T) {
	e := newEnv(t)
	actor := e.customer(t, "ada", "")
	cart := e.readyCart(t, actor, 1)
	assert.Equal(t, "standard", cart.ShippingFor(shopID).ShipmentMethod.ID)

	_, err := e.shipping.SetShipmentMethod(e.ctx, actor, cart.ID, "retired")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidParameter))

	cart, err = e.shipping.SetShipmentMethod(e.ctx, actor, cart.ID, "priority")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("11.5").Equal(cart.ShippingFor(shopID).ShipmentMethod.Cost()))
}

func TestSetShipmentMethodWithoutAddress(t *testing.T) {
	e := newEnv(t)
	actor := e.customer(t, "ada", "")
	cart, err := e.carts.CreateCart(e.ctx, actor)
	require.NoError(t, err)

	_, err = e.shipping.SetShipmentMethod(e.ctx, actor, cart.ID, "standard")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition), "shipping requires the address steps")
	assert.Empty(t, e.cart(t, cart.ID).Shipping)
}

func TestGetSurcharge(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Surcharges.Upsert(e.ctx, &models.Surcharge{
		ID: "hazmat", ShopID: shopID, Type: "surcharge", Amount: decimal.RequireFromString("4.5"),
		Message: map[string]string{"en": "Hazmat fee"},
	}))

	sc, err := e.shipping.GetSurcharge(e.ctx, shopID, "hazmat", "en")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "en", sc.Language)
	assert.Equal(t, "Hazmat fee", sc.Message["en"])

	sc, err = e.shipping.GetSurcharge(e.ctx, "other-shop", "hazmat", "en")
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestInvoice(t *testing.T) {
	cart := &models.Cart{
		Items: []models.CartItem{
			{ID: "a", ShopID: "s1", Quantity: 3, Price: decimal.RequireFromString("3.333"), Tax: decimal.RequireFromString("1")},
			{ID: "b", ShopID: "s2", Quantity: 1, Price: decimal.RequireFromString("20"), Tax: decimal.RequireFromString("2.5")},
		},
		Shipping: []models.ShippingRecord{
			{ShopID: "s1", ShipmentMethod: &models.ShippingMethod{Rate: decimal.RequireFromString("5"), Handling: decimal.RequireFromString("1")}},
			{ShopID: "s2"},
		},
	}
	surcharge := &models.Surcharge{Amount: decimal.RequireFromString("2")}

	inv := Invoice(cart, surcharge, nil)
	assert.Equal(t, "30", inv.Subtotal.String())
	assert.Equal(t, "6", inv.Shipping.String())
	assert.Equal(t, "3.5", inv.Taxes.String())
	assert.Equal(t, "2", inv.Surcharges.String())
	assert.True(t, inv.Discounts.IsZero())
	assert.Equal(t, "41.5", inv.Total.String())

	s1 := InvoiceForShop(cart, "s1")
	assert.Equal(t, "10", s1.Subtotal.String())
	assert.Equal(t, "17", s1.Total.String())

	s2 := InvoiceForShop(cart, "s2")
	assert.Equal(t, "22.5", s2.Total.String())
	assert.True(t, s2.Shipping.IsZero())
}

package services

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/events"
	"reaction-commerce/models"
	"reaction-commerce/store"
	"reaction-commerce/workflow"
)

var validate = validator.New()

// validateAddress checks the required address fields.
func validateAddress(a models.Address) error {
	if err := validate.Struct(a); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidParameter, "Invalid address")
	}
	return nil
}

// ShippingService sets checkout addresses and shipping methods and prices
// carts.
type ShippingService struct {
	store  *store.Store
	carts  *CartService
	bus    events.Publisher
	logger logrus.FieldLogger
	clock  clock
}

func NewShippingService(st *store.Store, carts *CartService, bus events.Publisher, logger logrus.FieldLogger) *ShippingService {
	return &ShippingService{store: st, carts: carts, bus: publisherOrNoop(bus), logger: logger.WithField("service", "shipping")}
}

// cartShops returns the shops that need shipping and billing records: every
// shop with items, or the cart's own shop for an empty cart.
func cartShops(cart *models.Cart) []string {
	if ids := cart.ShopIDs(); len(ids) > 0 {
		return ids
	}
	return []string{cart.ShopID}
}

func (s *ShippingService) mutate(ctx context.Context, actor Actor, cartID string, fn func(*models.Cart) error) (*models.Cart, error) {
	var cart *models.Cart
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if cart, err = s.carts.load(ctx, actor, cartID); err != nil {
			return err
		}
		if err := fn(cart); err != nil {
			return err
		}
		cart.UpdatedAt = s.clock.now()
		return s.store.Carts.Update(ctx, cart)
	})
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	_ = s.bus.Publish(ctx, events.Event{Topic: events.AfterCartUpdate, ShopID: cart.ShopID, UserID: cart.UserID, CartID: cart.ID})
	return cart, nil
}

// SetShipmentAddress sets the shipping address of every shop in the cart and
// refreshes the shipment quotes. A cart without a billing address gets the
// same address for billing.
func (s *ShippingService) SetShipmentAddress(ctx context.Context, actor Actor, cartID string, addr models.Address) (*models.Cart, error) {
	if err := validateAddress(addr); err != nil {
		return nil, err
	}
	if addr.ID == "" {
		addr.ID = models.NewID()
	}
	return s.mutate(ctx, actor, cartID, func(cart *models.Cart) error {
		for _, shopID := range cartShops(cart) {
			shop, err := s.store.Shops.Get(ctx, shopID)
			if err != nil {
				return storeErr(err, "Shop")
			}
			rec := cart.ShippingFor(shopID)
			if rec == nil {
				cart.Shipping = append(cart.Shipping, models.ShippingRecord{ID: models.NewID(), ShopID: shopID})
				rec = &cart.Shipping[len(cart.Shipping)-1]
			}
			a := addr
			rec.Address = &a
			rec.ShipmentQuotes = shop.EnabledShippingMethods()
			if rec.ShipmentMethod != nil && !hasMethod(rec.ShipmentQuotes, rec.ShipmentMethod.ID) {
				rec.ShipmentMethod = nil
			}

			if b := cart.BillingFor(shopID); b == nil || b.Address == nil {
				setBillingAddress(cart, shopID, addr)
			}
		}
		for _, step := range []string{workflow.CheckoutLogin, workflow.CheckoutAddressBook} {
			if _, err := workflow.Cart.Push(&cart.Workflow, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetPaymentAddress sets the billing address of every shop in the cart.
func (s *ShippingService) SetPaymentAddress(ctx context.Context, actor Actor, cartID string, addr models.Address) (*models.Cart, error) {
	if err := validateAddress(addr); err != nil {
		return nil, err
	}
	if addr.ID == "" {
		addr.ID = models.NewID()
	}
	return s.mutate(ctx, actor, cartID, func(cart *models.Cart) error {
		for _, shopID := range cartShops(cart) {
			setBillingAddress(cart, shopID, addr)
		}
		return nil
	})
}

func setBillingAddress(cart *models.Cart, shopID string, addr models.Address) {
	rec := cart.BillingFor(shopID)
	if rec == nil {
		cart.Billing = append(cart.Billing, models.BillingRecord{ID: models.NewID(), ShopID: shopID})
		rec = &cart.Billing[len(cart.Billing)-1]
	}
	a := addr
	rec.Address = &a
}

// SetShipmentMethod selects methodID on every shipping record quoting it. A
// cart without shipping records gets one for its own shop.
func (s *ShippingService) SetShipmentMethod(ctx context.Context, actor Actor, cartID, methodID string) (*models.Cart, error) {
	return s.mutate(ctx, actor, cartID, func(cart *models.Cart) error {
		if len(cart.Shipping) == 0 {
			shop, err := s.store.Shops.Get(ctx, cart.ShopID)
			if err != nil {
				return storeErr(err, "Shop")
			}
			cart.Shipping = append(cart.Shipping, models.ShippingRecord{
				ID:             models.NewID(),
				ShopID:         cart.ShopID,
				ShipmentQuotes: shop.EnabledShippingMethods(),
			})
		}
		found := false
		for i := range cart.Shipping {
			rec := &cart.Shipping[i]
			for _, q := range rec.ShipmentQuotes {
				if q.ID == methodID {
					m := q
					rec.ShipmentMethod = &m
					found = true
					break
				}
			}
		}
		if !found {
			return apperr.Newf(apperr.CodeInvalidParameter, "Shipping method %q is not available", methodID)
		}
		_, err := workflow.Cart.Push(&cart.Workflow, workflow.CoreCheckoutShipping)
		return err
	})
}

func hasMethod(methods []models.ShippingMethod, id string) bool {
	for _, m := range methods {
		if m.ID == id {
			return true
		}
	}
	return false
}

// GetSurcharge returns a shop's surcharge with language attached, or nil
// when the shop has no such surcharge.
func (s *ShippingService) GetSurcharge(ctx context.Context, shopID, surchargeID, language string) (*models.Surcharge, error) {
	sc, err := s.store.Surcharges.Get(ctx, shopID, surchargeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "Surcharge")
	}
	sc.Language = language
	return sc, nil
}

// Invoice prices the whole cart.
func Invoice(cart *models.Cart, surcharges ...*models.Surcharge) models.Invoice {
	shipping := decimal.Zero
	for _, rec := range cart.Shipping {
		if rec.ShipmentMethod != nil {
			shipping = shipping.Add(rec.ShipmentMethod.Cost())
		}
	}
	return buildInvoice(cart.Items, shipping, surcharges)
}

// InvoiceForShop prices one shop's part of the cart.
func InvoiceForShop(cart *models.Cart, shopID string, surcharges ...*models.Surcharge) models.Invoice {
	shipping := decimal.Zero
	if rec := cart.ShippingFor(shopID); rec != nil && rec.ShipmentMethod != nil {
		shipping = rec.ShipmentMethod.Cost()
	}
	return buildInvoice(cart.ItemsByShop()[shopID], shipping, surcharges)
}

func buildInvoice(items []models.CartItem, shipping decimal.Decimal, surcharges []*models.Surcharge) models.Invoice {
	subtotal, taxes := decimal.Zero, decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
		taxes = taxes.Add(item.Tax)
	}
	fees := decimal.Zero
	for _, sc := range surcharges {
		if sc != nil {
			fees = fees.Add(sc.Amount)
		}
	}
	// Discount rates are not offered.
	discounts := decimal.Zero
	total := subtotal.Add(shipping).Add(taxes).Add(fees).Sub(discounts)
	return models.Invoice{
		Subtotal:   subtotal.Round(2),
		Shipping:   shipping.Round(2),
		Taxes:      taxes.Round(2),
		Discounts:  discounts,
		Surcharges: fees.Round(2),
		Total:      total.Round(2),
	}
}

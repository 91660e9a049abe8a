package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/cache"
	"reaction-commerce/events"
	"reaction-commerce/metrics"
	"reaction-commerce/models"
	"reaction-commerce/payments"
	"reaction-commerce/store"
	"reaction-commerce/workflow"
)

// authorizationTTL is how long an authorization result is remembered for a
// cart version.
const authorizationTTL = 24 * time.Hour

// CheckoutService turns a cart into an order. The steps run in order and
// undo the earlier ones on failure: authorizations are voided and the cart
// is left as it was.
type CheckoutService struct {
	store      *store.Store
	carts      *CartService
	inventory  *InventoryService
	taxes      *TaxService
	processors *payments.Registry
	idem       cache.IdempotencyStore
	bus        events.Publisher
	metrics    *metrics.Registry
	logger     logrus.FieldLogger
	clock      clock
}

type CheckoutDeps struct {
	Store       *store.Store
	Carts       *CartService
	Inventory   *InventoryService
	Taxes       *TaxService
	Processors  *payments.Registry
	Idempotency cache.IdempotencyStore
	Bus         events.Publisher
	Metrics     *metrics.Registry
	Logger      logrus.FieldLogger
}

func NewCheckoutService(d CheckoutDeps) *CheckoutService {
	idem := d.Idempotency
	if idem == nil {
		idem = cache.NewInMemoryIdempotencyStore()
	}
	return &CheckoutService{
		store:      d.Store,
		carts:      d.Carts,
		inventory:  d.Inventory,
		taxes:      d.Taxes,
		processors: d.Processors,
		idem:       idem,
		bus:        publisherOrNoop(d.Bus),
		metrics:    d.Metrics,
		logger:     d.Logger.WithField("service", "checkout"),
	}
}

// AuthorizationKey identifies the authorization of one cart version.
func AuthorizationKey(cartID string, version int) string {
	return fmt.Sprintf("authorize:%s:%d", cartID, version)
}

// validateForPayment checks that every shop of the cart can be shipped to
// and billed.
func validateForPayment(cart *models.Cart) error {
	if len(cart.Items) == 0 {
		return apperr.New(apperr.CodeInvalidParameter, "Cart is empty")
	}
	for _, shopID := range cart.ShopIDs() {
		ship := cart.ShippingFor(shopID)
		if ship == nil || ship.Address == nil {
			return apperr.New(apperr.CodeInvalidParameter, "Shipping address is required")
		}
		if ship.ShipmentMethod == nil {
			return apperr.New(apperr.CodeInvalidParameter, "Shipping method is required")
		}
		if bill := cart.BillingFor(shopID); bill == nil || bill.Address == nil {
			return apperr.New(apperr.CodeInvalidParameter, "Billing address is required")
		}
	}
	return nil
}

// authorization is the payment of one shop, remembered under the cart's
// authorization key.
type authorization struct {
	ShopID        string               `json:"shop_id"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
}

// SubmitPayment prices the cart, authorizes the card with each shop's
// processor and places the order.
func (s *CheckoutService) SubmitPayment(ctx context.Context, actor Actor, cartID string, card payments.Card) (*models.Order, error) {
	if err := payments.ValidateCard(card); err != nil {
		return nil, err
	}
	cart, err := s.carts.load(ctx, actor, cartID)
	if err != nil {
		return nil, err
	}
	if err := validateForPayment(cart); err != nil {
		return nil, err
	}
	prevWorkflow := cart.Workflow.Clone()
	if _, err := pushSubmit(prevWorkflow.Clone()); err != nil {
		return nil, err
	}
	// Requests for the same cart version share one authorization.
	key := AuthorizationKey(cart.ID, cart.Version)

	// Lines whose reservation lapsed are reserved again before the card is
	// touched.
	if err := s.inventory.Reconfirm(ctx, cart); err != nil {
		return nil, err
	}
	if cart, err = s.taxes.Calculate(ctx, cart.ID); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{"cart_id": cart.ID, "user_id": cart.UserID})
	auths, recalled, err := s.authorize(ctx, cart, card, key)
	if err != nil {
		return nil, err
	}
	undo := func() {
		if recalled {
			// The request that authorized owns these and settles them.
			log.Warn("leaving reused authorization to the request that made it")
			return
		}
		s.voidAll(ctx, s.unclaimed(ctx, cart.ID, auths), key)
	}

	// Record the payments and submit the cart.
	for _, a := range auths {
		rec := cart.BillingFor(a.ShopID)
		if rec == nil {
			continue
		}
		pm := a.PaymentMethod
		inv := InvoiceForShop(cart, a.ShopID)
		rec.PaymentMethod = &pm
		rec.Invoice = &inv
	}
	if cart.Workflow, err = pushSubmit(cart.Workflow); err != nil {
		undo()
		return nil, err
	}
	cart.UpdatedAt = s.clock.now()
	if err := s.store.Carts.Update(ctx, cart); err != nil {
		undo()
		return nil, storeErr(err, "Cart")
	}

	order, err := s.CopyCartToOrder(ctx, cart.ID)
	if err != nil {
		log.WithError(err).Error("order creation failed, voiding payment")
		undo()
		s.restoreCart(ctx, cart.ID, prevWorkflow)
		return nil, err
	}
	log.WithField("order_id", order.ID).Info("payment submitted")
	return order, nil
}

// pushSubmit moves a checkout workflow through review and payment to
// submitted.
func pushSubmit(wf models.Workflow) (models.Workflow, error) {
	for _, step := range []string{workflow.CheckoutReview, workflow.CheckoutPayment, workflow.PaymentSubmitted} {
		if _, err := workflow.Cart.Push(&wf, step); err != nil {
			return wf, err
		}
	}
	return wf, nil
}

// authorize authorizes each shop's invoice total once per cart version. It
// reports whether the authorizations were made by an earlier request.
func (s *CheckoutService) authorize(ctx context.Context, cart *models.Cart, card payments.Card, key string) ([]authorization, bool, error) {
	if raw, ok, err := s.idem.Recall(ctx, key); err != nil {
		s.logger.WithError(err).Warn("idempotency lookup failed")
	} else if ok {
		var auths []authorization
		if err := json.Unmarshal([]byte(raw), &auths); err == nil {
			s.logger.WithField("cart_id", cart.ID).Info("reusing authorization for cart version")
			return auths, true, nil
		}
	}

	var auths []authorization
	for _, shopID := range cart.ShopIDs() {
		shop, err := s.store.Shops.Get(ctx, shopID)
		if err != nil {
			s.voidAll(ctx, auths, "")
			return nil, false, storeErr(err, "Shop")
		}
		processor, err := s.processors.ForShop(shop)
		if err != nil {
			s.voidAll(ctx, auths, "")
			return nil, false, err
		}
		inv := InvoiceForShop(cart, shopID)
		pm, err := processor.Authorize(ctx, shop, payments.AuthorizeRequest{
			Card:      card,
			Amount:    inv.Total,
			Currency:  shop.Currency,
			Mode:      models.ModeAuthorize,
			Reference: cart.ID,
		})
		if err != nil {
			s.voidAll(ctx, auths, "")
			if apperr.CodeOf(err) == apperr.CodeServerError {
				err = apperr.Wrap(err, apperr.CodePaymentFailed, "Payment could not be authorized")
			}
			return nil, false, err
		}
		auths = append(auths, authorization{ShopID: shopID, PaymentMethod: *pm})
	}

	raw, err := json.Marshal(auths)
	if err == nil {
		err = s.idem.Remember(ctx, key, string(raw), authorizationTTL)
	}
	if err != nil {
		s.logger.WithError(err).WithField("cart_id", cart.ID).Warn("could not remember authorization")
	}
	return auths, false, nil
}

// unclaimed drops the authorizations an order placed from the cart already
// carries; a concurrent submit may have won with them.
func (s *CheckoutService) unclaimed(ctx context.Context, cartID string, auths []authorization) []authorization {
	order, err := s.store.Orders.GetByCart(ctx, cartID)
	if err != nil {
		return auths
	}
	claimed := map[string]bool{}
	for _, b := range order.Billing {
		if b.PaymentMethod != nil {
			claimed[b.PaymentMethod.Processor+"/"+b.PaymentMethod.TransactionID] = true
		}
	}
	var out []authorization
	for _, a := range auths {
		if !claimed[a.PaymentMethod.Processor+"/"+a.PaymentMethod.TransactionID] {
			out = append(out, a)
		}
	}
	return out
}

// voidAll voids authorizations after a later step failed and forgets the
// remembered result so that a retry authorizes again.
func (s *CheckoutService) voidAll(ctx context.Context, auths []authorization, key string) {
	for _, a := range auths {
		pm := a.PaymentMethod
		log := s.logger.WithFields(logrus.Fields{"shop_id": a.ShopID, "transaction_id": pm.TransactionID})
		processor, err := s.processors.Get(pm.Processor)
		if err != nil {
			log.WithError(err).Error("cannot void authorization")
			continue
		}
		shop, err := s.store.Shops.Get(ctx, a.ShopID)
		if err != nil {
			log.WithError(err).Error("cannot void authorization")
			continue
		}
		res, err := processor.Void(ctx, shop, &pm)
		switch {
		case err != nil:
			log.WithError(err).Error("void failed")
		case !res.Saved:
			log.WithField("error", res.Error).Error("void rejected")
		default:
			log.Info("authorization voided")
		}
	}
	if key != "" {
		if err := s.idem.Forget(ctx, key); err != nil {
			s.logger.WithError(err).Warn("could not forget authorization")
		}
	}
}

// restoreCart puts back the cart's workflow and clears the payments after
// the order could not be created.
func (s *CheckoutService) restoreCart(ctx context.Context, cartID string, wf models.Workflow) {
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		cart, err := s.store.Carts.Get(ctx, cartID)
		if err != nil {
			return err
		}
		cart.Workflow = wf.Clone()
		for i := range cart.Billing {
			cart.Billing[i].PaymentMethod = nil
			cart.Billing[i].Invoice = nil
		}
		cart.UpdatedAt = s.clock.now()
		return s.store.Carts.Update(ctx, cart)
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WithError(err).WithField("cart_id", cartID).Error("could not restore cart")
	}
}

// CopyCartToOrder creates the order for a submitted cart, commits its
// reservations, deletes the cart and gives the user a fresh one. Calling it
// again for the same cart returns the existing order.
func (s *CheckoutService) CopyCartToOrder(ctx context.Context, cartID string) (*models.Order, error) {
	if order, err := s.store.Orders.GetByCart(ctx, cartID); err == nil {
		return order, nil
	}
	cart, err := s.store.Carts.Get(ctx, cartID)
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	if len(cart.Items) == 0 {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Missing cart items")
	}

	now := s.clock.now()
	order := &models.Order{
		ID:            models.NewID(),
		CartID:        cart.ID,
		ShopID:        cart.ShopID,
		UserID:        cart.UserID,
		SessionID:     cart.SessionID,
		Email:         cart.Email,
		Shipping:      cart.Clone().Shipping,
		Billing:       cart.Clone().Billing,
		Workflow:      workflow.NewOrderWorkflow(),
		ExportHistory: []models.ExportRecord{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.Email == "" {
		if u, err := s.store.Users.Get(ctx, cart.UserID); err == nil {
			order.Email = u.Email
		}
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, models.OrderItem{CartItem: item, Workflow: workflow.NewItemWorkflow()})
	}

	log := s.logger.WithFields(logrus.Fields{"cart_id": cart.ID, "order_id": order.ID})

	// Reservations are committed before the order exists; a line whose
	// reservation is gone cannot be ordered.
	if err := s.inventory.Commit(ctx, cart, order.ID); err != nil {
		if existing, gerr := s.store.Orders.GetByCart(ctx, cartID); gerr == nil {
			return existing, nil
		}
		log.WithError(err).Warn("could not commit reservations")
		return nil, err
	}
	if err := s.store.Orders.Create(ctx, order); err != nil {
		s.inventory.Uncommit(ctx, cart.ID, order.ID)
		if errors.Is(err, store.ErrDuplicate) {
			existing, gerr := s.store.Orders.GetByCart(ctx, cartID)
			return existing, storeErr(gerr, "Order")
		}
		return nil, storeErr(err, "Order")
	}
	if err := s.store.Carts.Delete(ctx, cart.ID); err != nil {
		log.WithError(err).Error("could not remove ordered cart")
	}
	if _, err := s.carts.newCart(ctx, cart.UserID, cart.ShopID, cart.SessionID); err != nil {
		log.WithError(err).Warn("could not create a new cart")
	}

	s.metrics.ObserveOrderCreated()
	_ = s.bus.Publish(ctx, events.Event{
		Topic:   events.AfterOrderCreate,
		ShopID:  order.ShopID,
		UserID:  order.UserID,
		CartID:  cart.ID,
		OrderID: order.ID,
	})
	log.Info("order created")
	return order, nil
}

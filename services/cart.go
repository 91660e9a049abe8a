package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/events"
	"reaction-commerce/models"
	"reaction-commerce/store"
	"reaction-commerce/workflow"
)

// CartService implements the cart mutations. Every line holds a stock
// reservation through the InventoryService.
type CartService struct {
	store     *store.Store
	inventory *InventoryService
	bus       events.Publisher
	logger    logrus.FieldLogger
	clock     clock
}

func NewCartService(st *store.Store, inv *InventoryService, bus events.Publisher, logger logrus.FieldLogger) *CartService {
	return &CartService{
		store:     st,
		inventory: inv,
		bus:       publisherOrNoop(bus),
		logger:    logger.WithField("service", "cart"),
	}
}

// load returns the cart if actor may change it.
func (s *CartService) load(ctx context.Context, actor Actor, cartID string) (*models.Cart, error) {
	cart, err := s.store.Carts.Get(ctx, cartID)
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	if cart.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.New(apperr.CodeAccessDenied, "Access Denied")
	}
	return cart, nil
}

// GetCartByID returns a cart the actor owns, or any cart for admins.
func (s *CartService) GetCartByID(ctx context.Context, actor Actor, cartID string) (*models.Cart, error) {
	return s.load(ctx, actor, cartID)
}

// GetCart returns the actor's cart.
func (s *CartService) GetCart(ctx context.Context, actor Actor) (*models.Cart, error) {
	cart, err := s.store.Carts.GetByUser(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	return cart, nil
}

// CreateCart returns the actor's cart, creating it when there is none.
// Registered users also absorb the carts left by their anonymous session.
func (s *CartService) CreateCart(ctx context.Context, actor Actor) (*models.Cart, error) {
	cart, err := s.store.Carts.GetByUser(ctx, actor.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cart, err = s.newCart(ctx, actor.UserID, actor.ShopID, actor.SessionID)
		if err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{"cart_id": cart.ID, "user_id": actor.UserID}).Info("create cart: no existing cart")
	case err != nil:
		return nil, storeErr(err, "Cart")
	}

	if actor.IsAnonymous() || actor.SessionID == "" {
		return cart, nil
	}
	if _, err := s.MergeCart(ctx, actor, cart.ID); err != nil {
		return nil, err
	}
	return s.load(ctx, actor, cart.ID)
}

func (s *CartService) newCart(ctx context.Context, userID, shopID, sessionID string) (*models.Cart, error) {
	now := s.clock.now()
	cart := &models.Cart{
		ID:        models.NewID(),
		ShopID:    shopID,
		UserID:    userID,
		SessionID: sessionID,
		Items:     []models.CartItem{},
		Workflow:  workflow.NewCartWorkflow(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if u, err := s.store.Users.Get(ctx, userID); err == nil {
		cart.Email = u.Email
		if cart.ShopID == "" {
			cart.ShopID = u.ShopID
		}
	}
	if err := s.store.Carts.Create(ctx, cart); err != nil {
		return nil, storeErr(err, "Cart")
	}
	return cart, nil
}

// MergeCart moves the items of every other cart of the actor's session into
// cartID, then deletes those carts and their anonymous owners. It reports
// false without changes when the cart belongs to an anonymous user.
func (s *CartService) MergeCart(ctx context.Context, actor Actor, cartID string) (bool, error) {
	cart, err := s.load(ctx, actor, cartID)
	if err != nil {
		return false, err
	}
	owner, err := s.store.Users.Get(ctx, cart.UserID)
	if err != nil {
		return false, storeErr(err, "User")
	}
	if owner.IsAnonymous() {
		return false, nil
	}

	sessionID := actor.SessionID
	if sessionID == "" {
		sessionID = cart.SessionID
	}
	others, err := s.store.Carts.ListBySession(ctx, sessionID)
	if err != nil {
		return false, storeErr(err, "Cart")
	}
	var merging []*models.Cart
	for _, sc := range others {
		if sc.UserID != cart.UserID && sc.ID != cart.ID {
			merging = append(merging, sc)
		}
	}
	if len(merging) == 0 {
		return true, nil
	}

	log := s.logger.WithFields(logrus.Fields{"cart_id": cart.ID, "session_id": sessionID})
	log.Info("merge cart: begin merge processing")

	// moves lists the reservations to re-home once the cart is saved.
	type move struct{ fromItemID, intoItemID string }
	var moves []move
	err = store.RetryOnConflict(ctx, conflictAttempts, func() error {
		if cart, err = s.store.Carts.Get(ctx, cart.ID); err != nil {
			return err
		}
		moves = moves[:0]
		for _, sc := range merging {
			for _, item := range sc.Items {
				if idx := cart.FindItemByVariant(item.VariantID); idx >= 0 {
					cart.Items[idx].Quantity += item.Quantity
					moves = append(moves, move{fromItemID: item.ID, intoItemID: cart.Items[idx].ID})
					continue
				}
				cart.Items = append(cart.Items, item)
				moves = append(moves, move{fromItemID: item.ID, intoItemID: item.ID})
			}
		}
		cart.UpdatedAt = s.clock.now()
		return s.store.Carts.Update(ctx, cart)
	})
	if err != nil {
		return false, storeErr(err, "Cart")
	}

	touched := map[string]bool{}
	for _, m := range moves {
		touched[m.intoItemID] = true
		if err := s.inventory.MergeLine(ctx, m.fromItemID, cart.ID, m.intoItemID); err != nil {
			log.WithError(err).WithField("item_id", m.intoItemID).Warn("merge cart: could not move reservation")
		}
	}
	// Reservations now match the merged quantities unless one was missing.
	for _, item := range cart.Items {
		if !touched[item.ID] {
			continue
		}
		if err := s.inventory.Reserve(ctx, cart, item, item.Quantity); err != nil {
			log.WithError(err).WithField("variant_id", item.VariantID).Warn("merge cart: could not reserve merged quantity")
		}
	}

	for _, sc := range merging {
		if err := s.store.Carts.Delete(ctx, sc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, storeErr(err, "Cart")
		}
		if u, err := s.store.Users.Get(ctx, sc.UserID); err == nil && u.IsAnonymous() {
			if err := s.store.Users.Delete(ctx, u.ID); err != nil {
				log.WithError(err).WithField("user_id", u.ID).Warn("merge cart: could not remove anonymous user")
			}
		}
		log.WithField("session_cart_id", sc.ID).Info("merge cart: processed merge")
	}
	s.updated(ctx, events.AfterCartUpdate, cart)
	return true, nil
}

// AddToCart adds qty of a variant. A variant already in the cart has its
// line quantity increased.
func (s *CartService) AddToCart(ctx context.Context, actor Actor, cartID, productID, variantID string, qty int) (*models.Cart, error) {
	if qty < 1 {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Quantity must be at least 1")
	}
	product, variant, err := s.lookupVariant(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}

	var (
		cart  *models.Cart
		topic string
	)
	err = store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if cart, err = s.load(ctx, actor, cartID); err != nil {
			return err
		}
		if workflow.Cart.IsTerminal(cart.Workflow.Status) {
			return apperr.New(apperr.CodeInvalidTransition, "Cart has already been submitted")
		}

		if idx := cart.FindItemByVariant(variantID); idx >= 0 {
			topic = events.AfterModifyQuantityInCart
			return s.setQuantity(ctx, cart, idx, cart.Items[idx].Quantity+qty)
		}

		topic = events.AfterAddItemsToCart
		item := models.CartItem{
			ID:               models.NewID(),
			ShopID:           product.ShopID,
			ProductID:        product.ID,
			VariantID:        variant.ID,
			Title:            product.Title,
			VariantTitle:     variant.Title,
			Vendor:           product.Vendor,
			Quantity:         qty,
			Price:            variant.Price,
			Taxable:          variant.Taxable,
			TaxCode:          variant.TaxCode,
			Parcel:           variant.Parcel,
			RequiresShipping: variant.RequiresShipping,
		}
		if variant.Vendor != "" {
			item.Vendor = variant.Vendor
		}
		if err := s.inventory.Reserve(ctx, cart, item, qty); err != nil {
			return err
		}
		cart.Items = append(cart.Items, item)
		cart.UpdatedAt = s.clock.now()
		if err := s.store.Carts.Update(ctx, cart); err != nil {
			s.releaseQuietly(ctx, item.ID)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	s.updated(ctx, topic, cart)
	return cart, nil
}

// setQuantity re-reserves and saves a line's new quantity, restoring the
// old reservation when the save fails.
func (s *CartService) setQuantity(ctx context.Context, cart *models.Cart, idx, qty int) error {
	item := cart.Items[idx]
	if err := s.inventory.Reserve(ctx, cart, item, qty); err != nil {
		return err
	}
	cart.Items[idx].Quantity = qty
	cart.UpdatedAt = s.clock.now()
	if err := s.store.Carts.Update(ctx, cart); err != nil {
		if rerr := s.inventory.Reserve(ctx, cart, item, item.Quantity); rerr != nil {
			s.logger.WithError(rerr).WithField("cart_id", cart.ID).Error("could not restore reservation")
		}
		return err
	}
	return nil
}

func (s *CartService) lookupVariant(ctx context.Context, productID, variantID string) (*models.Product, *models.Product, error) {
	product, err := s.store.Products.Get(ctx, productID)
	if err != nil {
		return nil, nil, storeErr(err, "Product")
	}
	variant, err := s.store.Products.Get(ctx, variantID)
	if err != nil {
		return nil, nil, storeErr(err, "Variant")
	}
	if product.IsDeleted || variant.IsDeleted || !variant.IsVariant() || variant.RootID() != product.ID {
		return nil, nil, apperr.New(apperr.CodeInvalidParameter, "Variant is not available for this product")
	}
	return product, variant, nil
}

// UpdateItemQuantity sets a line's quantity; zero removes the line.
func (s *CartService) UpdateItemQuantity(ctx context.Context, actor Actor, cartID, itemID string, qty int) (*models.Cart, error) {
	if qty < 0 {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Quantity cannot be negative")
	}
	if qty == 0 {
		return s.RemoveFromCart(ctx, actor, cartID, itemID, 0)
	}
	var cart *models.Cart
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if cart, err = s.load(ctx, actor, cartID); err != nil {
			return err
		}
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return apperr.New(apperr.CodeNotFound, "Cart item not found")
		}
		return s.setQuantity(ctx, cart, idx, qty)
	})
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	s.updated(ctx, events.AfterModifyQuantityInCart, cart)
	return cart, nil
}

// RemoveFromCart takes qty units off a line. Zero, or at least the line's
// quantity, removes the line and releases its reservation.
func (s *CartService) RemoveFromCart(ctx context.Context, actor Actor, cartID, itemID string, qty int) (*models.Cart, error) {
	if qty < 0 {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Quantity cannot be negative")
	}
	var (
		cart    *models.Cart
		removed *models.CartItem
	)
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if cart, err = s.load(ctx, actor, cartID); err != nil {
			return err
		}
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return apperr.New(apperr.CodeNotFound, "Cart item not found")
		}
		item := cart.Items[idx]
		if qty > 0 && qty < item.Quantity {
			return s.setQuantity(ctx, cart, idx, item.Quantity-qty)
		}

		_ = s.bus.Publish(ctx, events.Event{
			Topic:  events.BeforeRemoveItemsFromCart,
			ShopID: item.ShopID,
			UserID: cart.UserID,
			CartID: cart.ID,
			Data:   map[string]interface{}{"item_id": item.ID, "variant_id": item.VariantID},
		})
		cart.Items = append(cart.Items[:idx:idx], cart.Items[idx+1:]...)
		cart.UpdatedAt = s.clock.now()
		if err := s.store.Carts.Update(ctx, cart); err != nil {
			return err
		}
		removed = &item
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	if removed != nil {
		s.releaseQuietly(ctx, removed.ID)
	}
	s.updated(ctx, events.AfterCartUpdate, cart)
	return cart, nil
}

// PushCartWorkflow records step on the cart's checkout workflow.
func (s *CartService) PushCartWorkflow(ctx context.Context, cartID, step string) (bool, error) {
	var changed bool
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		cart, err := s.store.Carts.Get(ctx, cartID)
		if err != nil {
			return err
		}
		if changed, err = workflow.Cart.Push(&cart.Workflow, step); err != nil || !changed {
			return err
		}
		cart.UpdatedAt = s.clock.now()
		return s.store.Carts.Update(ctx, cart)
	})
	if err != nil {
		return false, storeErr(err, "Cart")
	}
	return changed, nil
}

// releaseQuietly is used after the cart already dropped the line; a
// reservation left behind expires on its own.
func (s *CartService) releaseQuietly(ctx context.Context, itemID string) {
	if err := s.inventory.Release(ctx, itemID); err != nil {
		s.logger.WithError(err).WithField("item_id", itemID).Warn("could not release reservation")
	}
}

func (s *CartService) updated(ctx context.Context, topic string, cart *models.Cart) {
	s.publish(ctx, topic, cart)
	if topic != events.AfterCartUpdate {
		s.publish(ctx, events.AfterCartUpdate, cart)
	}
}

func (s *CartService) publish(ctx context.Context, topic string, cart *models.Cart) {
	_ = s.bus.Publish(ctx, events.Event{Topic: topic, ShopID: cart.ShopID, UserID: cart.UserID, CartID: cart.ID})
}

package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/events"
	"reaction-commerce/metrics"
	"reaction-commerce/models"
	"reaction-commerce/store"
	"reaction-commerce/workflow"
)

// expireBatch is how many expired reservations one sweep pass loads.
const expireBatch = 100

// InventoryService is the reservation ledger. A cart line holds at most one
// active reservation; its quantity is subtracted from the variant's
// available-to-sell count until the order is placed, the line is removed or
// the reservation expires.
type InventoryService struct {
	store   *store.Store
	bus     events.Publisher
	metrics *metrics.Registry
	logger  logrus.FieldLogger
	ttl     time.Duration
	clock   clock
}

func NewInventoryService(st *store.Store, bus events.Publisher, m *metrics.Registry, logger logrus.FieldLogger, ttl time.Duration) *InventoryService {
	return &InventoryService{
		store:   st,
		bus:     publisherOrNoop(bus),
		metrics: m,
		logger:  logger.WithField("service", "inventory"),
		ttl:     ttl,
	}
}

func (s *InventoryService) activeReservation(ctx context.Context, cartItemID string) (*models.Reservation, error) {
	r, err := s.store.Reservations.FindActiveByCartItem(ctx, cartItemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// Reserve makes the line's reservation hold exactly qty units. Growing a
// line reserves only the difference and shrinking it releases the difference.
func (s *InventoryService) Reserve(ctx context.Context, cart *models.Cart, item models.CartItem, qty int) error {
	if qty < 1 {
		return s.Release(ctx, item.ID)
	}
	variant, err := s.store.Products.Get(ctx, item.VariantID)
	if err != nil {
		return storeErr(err, "Variant")
	}
	existing, err := s.activeReservation(ctx, item.ID)
	if err != nil {
		return storeErr(err, "Reservation")
	}
	held := 0
	if existing != nil {
		held = existing.Quantity
	}
	delta := qty - held
	log := s.logger.WithFields(logrus.Fields{"cart_id": cart.ID, "variant_id": variant.ID})

	if delta != 0 {
		guard := delta > 0 && variant.DeniesBackorder()
		if _, err := s.store.Products.AdjustInventory(ctx, variant.ID, models.InventoryDelta{AvailableToSell: -delta}, guard); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				s.metrics.ObserveReservation(metrics.OutcomeInsufficient)
				log.WithField("quantity", delta).Info("not enough stock to reserve")
				return apperr.Newf(apperr.CodeInsufficientStock, "Only %d of %s available", variant.InventoryAvailableToSell, variant.Title)
			}
			return storeErr(err, "Variant")
		}
	}

	now := s.clock.now()
	if existing == nil {
		err = s.store.Reservations.Create(ctx, &models.Reservation{
			ID:         models.NewID(),
			ShopID:     item.ShopID,
			CartID:     cart.ID,
			CartItemID: item.ID,
			ProductID:  item.ProductID,
			VariantID:  variant.ID,
			Quantity:   qty,
			Guarded:    variant.DeniesBackorder(),
			Status:     models.ReservationReserved,
			ExpiresAt:  now.Add(s.ttl),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	} else {
		existing.Quantity = qty
		existing.ExpiresAt = now.Add(s.ttl)
		existing.UpdatedAt = now
		err = s.store.Reservations.Update(ctx, existing)
	}
	if err != nil {
		// Give the stock back; the ledger did not record it.
		s.restock(ctx, variant.ID, models.InventoryDelta{AvailableToSell: delta})
		return storeErr(err, "Reservation")
	}

	s.metrics.ObserveReservation(metrics.OutcomeReserved)
	log.WithFields(logrus.Fields{"quantity": qty, "delta": delta}).Debug("stock reserved")
	return s.refreshFlags(ctx, variant.ID)
}

// Release gives back the stock held for a cart line. Lines without an
// active reservation are ignored.
func (s *InventoryService) Release(ctx context.Context, cartItemID string) error {
	r, err := s.activeReservation(ctx, cartItemID)
	if err != nil {
		return storeErr(err, "Reservation")
	}
	if r == nil {
		return nil
	}
	return s.finish(ctx, r, models.ReservationReleased, metrics.OutcomeReleased)
}

// finish closes r with status and returns its stock. The status change is
// written first so that concurrent releases credit the stock only once; if
// the stock cannot be returned the reservation is reopened for a later retry.
func (s *InventoryService) finish(ctx context.Context, r *models.Reservation, status models.ReservationStatus, outcome string) error {
	prev := r.Status
	r.Status = status
	r.UpdatedAt = s.clock.now()
	if err := s.store.Reservations.Update(ctx, r); err != nil {
		return storeErr(err, "Reservation")
	}
	if _, err := s.store.Products.AdjustInventory(ctx, r.VariantID, models.InventoryDelta{AvailableToSell: r.Quantity}, false); err != nil {
		r.Status = prev
		if uerr := s.store.Reservations.Update(ctx, r); uerr != nil {
			s.logger.WithError(uerr).WithField("reservation_id", r.ID).Error("could not reopen reservation after failed restock")
		}
		return storeErr(err, "Variant")
	}
	s.metrics.ObserveReservation(outcome)
	s.logger.WithFields(logrus.Fields{"cart_id": r.CartID, "variant_id": r.VariantID, "status": status}).Debug("reservation closed")
	return s.refreshFlags(ctx, r.VariantID)
}

// ReleaseCart releases every active reservation of a cart.
func (s *InventoryService) ReleaseCart(ctx context.Context, cartID string) error {
	rs, err := s.store.Reservations.FindByCart(ctx, cartID)
	if err != nil {
		return storeErr(err, "Reservation")
	}
	var errs []error
	for _, r := range rs {
		if !r.IsActive() {
			continue
		}
		if err := s.finish(ctx, r, models.ReservationReleased, metrics.OutcomeReleased); err != nil {
			errs = append(errs, err)
		}
	}
	return firstErr(errs)
}

// MergeLine hands the reservation of a merged-away cart line to the line it
// was merged into. When the target line already holds a reservation the two
// are combined without touching stock.
func (s *InventoryService) MergeLine(ctx context.Context, fromItemID, toCartID, toItemID string) error {
	from, err := s.activeReservation(ctx, fromItemID)
	if err != nil || from == nil {
		return storeErr(err, "Reservation")
	}
	now := s.clock.now()
	if fromItemID == toItemID {
		from.CartID = toCartID
		from.UpdatedAt = now
		return storeErr(s.store.Reservations.Update(ctx, from), "Reservation")
	}

	to, err := s.activeReservation(ctx, toItemID)
	if err != nil {
		return storeErr(err, "Reservation")
	}
	if to == nil {
		// The target line has no reservation yet, so this one becomes it.
		from.CartID = toCartID
		from.CartItemID = toItemID
		from.UpdatedAt = now
		return storeErr(s.store.Reservations.Update(ctx, from), "Reservation")
	}

	// Closing without restocking moves the units to the target reservation.
	from.Status = models.ReservationReleased
	from.UpdatedAt = now
	if err := s.store.Reservations.Update(ctx, from); err != nil {
		return storeErr(err, "Reservation")
	}
	to.Quantity += from.Quantity
	to.UpdatedAt = now
	if err := s.store.Reservations.Update(ctx, to); err != nil {
		s.restock(ctx, from.VariantID, models.InventoryDelta{AvailableToSell: from.Quantity})
		return storeErr(err, "Reservation")
	}
	return nil
}

// Reconfirm makes every line of cart hold an active reservation for its
// quantity, reserving again where an earlier one expired or was released, and
// pushes the expiry out. Lines that can no longer be covered fail with
// insufficient stock.
func (s *InventoryService) Reconfirm(ctx context.Context, cart *models.Cart) error {
	for _, item := range cart.Items {
		if err := s.Reserve(ctx, cart, item, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Commit ties the reservation of every cart line to the order created from
// it. It fails without committing anything when a line has no active
// reservation covering its quantity.
func (s *InventoryService) Commit(ctx context.Context, cart *models.Cart, orderID string) error {
	held := make([]*models.Reservation, 0, len(cart.Items))
	for _, item := range cart.Items {
		r, err := s.activeReservation(ctx, item.ID)
		if err != nil {
			return storeErr(err, "Reservation")
		}
		if r == nil || r.Quantity < item.Quantity {
			return apperr.Newf(apperr.CodeInsufficientStock, "Reservation for %s has expired", item.Title)
		}
		held = append(held, r)
	}
	now := s.clock.now()
	for _, r := range held {
		r.Status = models.ReservationCommitted
		r.OrderID = orderID
		r.UpdatedAt = now
		if err := s.store.Reservations.Update(ctx, r); err != nil {
			s.Uncommit(ctx, cart.ID, orderID)
			return storeErr(err, "Reservation")
		}
	}
	return nil
}

// Uncommit hands the reservations committed to orderID back to the cart
// after the order could not be saved.
func (s *InventoryService) Uncommit(ctx context.Context, cartID, orderID string) {
	rs, err := s.store.Reservations.FindByCart(ctx, cartID)
	if err != nil {
		s.logger.WithError(err).WithField("cart_id", cartID).Error("could not load reservations to uncommit")
		return
	}
	now := s.clock.now()
	for _, r := range rs {
		if r.Status != models.ReservationCommitted || r.OrderID != orderID {
			continue
		}
		r.Status = models.ReservationReserved
		r.OrderID = ""
		r.ExpiresAt = now.Add(s.ttl)
		r.UpdatedAt = now
		if err := s.store.Reservations.Update(ctx, r); err != nil {
			s.logger.WithError(err).WithField("reservation_id", r.ID).Error("could not uncommit reservation")
		}
	}
}

// MarkSold removes sold units from the on-hand quantity once payment is
// approved. Available-to-sell was already reduced by the reservation. On
// failure the units already taken are put back.
func (s *InventoryService) MarkSold(ctx context.Context, order *models.Order) error {
	for i, item := range order.Items {
		if _, err := s.store.Products.AdjustInventory(ctx, item.VariantID, models.InventoryDelta{Quantity: -item.Quantity}, false); err != nil {
			s.unsell(ctx, order.Items[:i])
			return storeErr(err, "Variant")
		}
	}
	s.refreshItems(ctx, order.Items)
	return nil
}

// UnmarkSold reverses MarkSold.
func (s *InventoryService) UnmarkSold(ctx context.Context, order *models.Order) {
	s.unsell(ctx, order.Items)
	s.refreshItems(ctx, order.Items)
}

func (s *InventoryService) unsell(ctx context.Context, items []models.OrderItem) {
	for _, item := range items {
		s.restock(ctx, item.VariantID, models.InventoryDelta{Quantity: item.Quantity})
	}
}

// refreshItems recomputes flags after the counters moved. The counters are
// already right, so failures are only logged.
func (s *InventoryService) refreshItems(ctx context.Context, items []models.OrderItem) {
	for _, item := range items {
		if err := s.refreshFlags(ctx, item.VariantID); err != nil {
			s.logger.WithError(err).WithField("variant_id", item.VariantID).Warn("could not refresh stock flags")
		}
	}
}

// MarkShipped moves every item of order to shipped. The caller saves order.
func (s *InventoryService) MarkShipped(_ context.Context, order *models.Order) error {
	for i := range order.Items {
		item := &order.Items[i]
		if item.Workflow.Status == workflow.ItemShipped {
			continue
		}
		if err := workflow.Item.Apply(&item.Workflow, workflow.ItemShipped); err != nil {
			return err
		}
	}
	return nil
}

// ReturnToStock puts a canceled order's units back. Approved orders already
// left the on-hand count, so both counters return when returnToStock is set;
// unapproved orders only held available stock.
func (s *InventoryService) ReturnToStock(ctx context.Context, order *models.Order, returnToStock bool) error {
	approved := order.IsApproved()
	if approved && !returnToStock {
		return nil
	}
	for _, item := range order.Items {
		delta := models.InventoryDelta{AvailableToSell: item.Quantity}
		if approved {
			delta.Quantity = item.Quantity
		}
		if _, err := s.store.Products.AdjustInventory(ctx, item.VariantID, delta, false); err != nil {
			return storeErr(err, "Variant")
		}
		if err := s.refreshFlags(ctx, item.VariantID); err != nil {
			return err
		}
	}
	return nil
}

// ExpireReservations releases every reservation that expired before now and
// returns how many it expired.
func (s *InventoryService) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for {
		rs, err := s.store.Reservations.FindExpired(ctx, now, expireBatch)
		if err != nil {
			return expired, storeErr(err, "Reservation")
		}
		progressed := false
		for _, r := range rs {
			err := s.finish(ctx, r, models.ReservationExpired, metrics.OutcomeExpired)
			if apperr.Is(err, apperr.CodeConflict) {
				// Released or checked out in the meantime.
				continue
			}
			if err != nil {
				return expired, err
			}
			expired++
			progressed = true
		}
		if len(rs) < expireBatch || !progressed {
			return expired, nil
		}
	}
}

// RegisterVariant inserts a new variant. Its stock is added to the variant
// and every ancestor, and the stock flags are computed.
func (s *InventoryService) RegisterVariant(ctx context.Context, v *models.Product) (*models.Product, error) {
	qty := v.InventoryQuantity
	v.InventoryQuantity = 0
	v.InventoryAvailableToSell = 0
	if err := s.store.Products.Create(ctx, v); err != nil {
		return nil, storeErr(err, "Variant")
	}
	if qty != 0 {
		if _, err := s.store.Products.AdjustInventory(ctx, v.ID, models.InventoryDelta{Quantity: qty, AvailableToSell: qty}, false); err != nil {
			return nil, storeErr(err, "Variant")
		}
	}
	if err := s.refreshFlags(ctx, v.ID); err != nil {
		return nil, err
	}
	s.publish(ctx, events.AfterVariantInsert, v)
	return s.variant(ctx, v.ID)
}

// AdjustVariant sets a variant's on-hand quantity. The difference is applied
// to available-to-sell and to the ancestors.
func (s *InventoryService) AdjustVariant(ctx context.Context, variantID string, quantity int) (*models.Product, error) {
	if quantity < 0 {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Inventory quantity cannot be negative")
	}
	v, err := s.variant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if delta := quantity - v.InventoryQuantity; delta != 0 {
		if _, err := s.store.Products.AdjustInventory(ctx, variantID, models.InventoryDelta{Quantity: delta, AvailableToSell: delta}, false); err != nil {
			return nil, storeErr(err, "Variant")
		}
	}
	if err := s.refreshFlags(ctx, variantID); err != nil {
		return nil, err
	}
	s.publish(ctx, events.AfterVariantUpdate, v)
	return s.variant(ctx, variantID)
}

// RemoveVariant releases the variant's reservations, takes its stock out of
// the ancestors and marks it deleted.
func (s *InventoryService) RemoveVariant(ctx context.Context, variantID string) error {
	rs, err := s.store.Reservations.FindActiveByVariant(ctx, variantID)
	if err != nil {
		return storeErr(err, "Reservation")
	}
	for _, r := range rs {
		if err := s.finish(ctx, r, models.ReservationReleased, metrics.OutcomeReleased); err != nil && !apperr.Is(err, apperr.CodeConflict) {
			return err
		}
	}

	v, err := s.variant(ctx, variantID)
	if err != nil {
		return err
	}
	delta := models.InventoryDelta{Quantity: v.InventoryQuantity, AvailableToSell: v.InventoryAvailableToSell}.Negate()
	if delta != (models.InventoryDelta{}) {
		if _, err := s.store.Products.AdjustInventory(ctx, variantID, delta, false); err != nil {
			return storeErr(err, "Variant")
		}
	}
	err = store.RetryOnConflict(ctx, conflictAttempts, func() error {
		v, err := s.store.Products.Get(ctx, variantID)
		if err != nil {
			return err
		}
		v.IsDeleted = true
		v.UpdatedAt = s.clock.now()
		return s.store.Products.Update(ctx, v)
	})
	if err != nil {
		return storeErr(err, "Variant")
	}
	for _, id := range v.Ancestors {
		if err := s.refreshProduct(ctx, id); err != nil {
			return err
		}
	}
	s.publish(ctx, events.AfterVariantRemove, v)
	return nil
}

func (s *InventoryService) variant(ctx context.Context, id string) (*models.Product, error) {
	v, err := s.store.Products.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Variant")
	}
	return v, nil
}

func (s *InventoryService) publish(ctx context.Context, topic string, v *models.Product) {
	_ = s.bus.Publish(ctx, events.Event{Topic: topic, ShopID: v.ShopID, VariantID: v.ID})
}

// restock undoes an adjustment after a failed write. Failures are logged;
// the caller already reports the original error.
func (s *InventoryService) restock(ctx context.Context, variantID string, delta models.InventoryDelta) {
	if delta == (models.InventoryDelta{}) {
		return
	}
	if _, err := s.store.Products.AdjustInventory(ctx, variantID, delta, false); err != nil {
		s.logger.WithError(err).WithField("variant_id", variantID).Error("could not restore reserved stock")
	}
}

// IsLowQuantity reports whether every variant is stock-tracked, denies
// backorders, has stock and is at or below its warning threshold.
func IsLowQuantity(variants []*models.Product) bool {
	if len(variants) == 0 {
		return false
	}
	for _, v := range variants {
		qty := v.InventoryAvailableToSell
		if !v.DeniesBackorder() || qty == 0 || qty > v.LowInventoryWarningThreshold {
			return false
		}
	}
	return true
}

// IsSoldOut reports whether every variant is stock-tracked, denies
// backorders and has nothing left to sell.
func IsSoldOut(variants []*models.Product) bool {
	if len(variants) == 0 {
		return false
	}
	for _, v := range variants {
		if !v.DeniesBackorder() || v.InventoryAvailableToSell > 0 {
			return false
		}
	}
	return true
}

// refreshFlags recomputes the stock flags of a variant and its ancestors.
func (s *InventoryService) refreshFlags(ctx context.Context, variantID string) error {
	v, err := s.variant(ctx, variantID)
	if err != nil {
		return err
	}
	if err := s.setFlags(ctx, variantID, []*models.Product{v}); err != nil {
		return err
	}
	for _, id := range v.Ancestors {
		if err := s.refreshProduct(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// refreshProduct recomputes a product's flags from its variants.
func (s *InventoryService) refreshProduct(ctx context.Context, productID string) error {
	variants, err := s.store.Products.Variants(ctx, productID)
	if err != nil {
		return storeErr(err, "Product")
	}
	return s.setFlags(ctx, productID, variants)
}

func (s *InventoryService) setFlags(ctx context.Context, id string, from []*models.Product) error {
	low, soldOut := IsLowQuantity(from), IsSoldOut(from)
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		p, err := s.store.Products.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.IsLowQuantity == low && p.IsSoldOut == soldOut {
			return nil
		}
		p.IsLowQuantity, p.IsSoldOut = low, soldOut
		p.UpdatedAt = s.clock.now()
		return s.store.Products.Update(ctx, p)
	})
	return storeErr(err, "Product")
}

func firstErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

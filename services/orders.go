package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/events"
	"reaction-commerce/models"
	"reaction-commerce/payments"
	"reaction-commerce/store"
	"reaction-commerce/workflow"
)

// OrderService moves placed orders through payment and fulfilment.
type OrderService struct {
	store      *store.Store
	inventory  *InventoryService
	processors *payments.Registry
	bus        events.Publisher
	logger     logrus.FieldLogger
	clock      clock
}

func NewOrderService(st *store.Store, inv *InventoryService, processors *payments.Registry, bus events.Publisher, logger logrus.FieldLogger) *OrderService {
	return &OrderService{
		store:      st,
		inventory:  inv,
		processors: processors,
		bus:        publisherOrNoop(bus),
		logger:     logger.WithField("service", "orders"),
	}
}

// ListOrders returns every order for admins and the actor's own otherwise.
func (s *OrderService) ListOrders(ctx context.Context, actor Actor) ([]*models.Order, error) {
	var (
		orders []*models.Order
		err    error
	)
	if actor.IsAdmin() {
		orders, err = s.store.Orders.ListAll(ctx)
	} else {
		orders, err = s.store.Orders.ListByUser(ctx, actor.UserID)
	}
	return orders, storeErr(err, "Order")
}

// GetOrder returns an order the actor placed, or any order for admins.
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, id string) (*models.Order, error) {
	order, err := s.store.Orders.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Order")
	}
	if order.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.New(apperr.CodeAccessDenied, "Access Denied")
	}
	return order, nil
}

// update applies fn to a fresh copy of the order and saves it.
func (s *OrderService) update(ctx context.Context, id string, fn func(*models.Order) error) (*models.Order, error) {
	var order *models.Order
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if order, err = s.store.Orders.Get(ctx, id); err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
		order.UpdatedAt = s.clock.now()
		return s.store.Orders.Update(ctx, order)
	})
	if err != nil {
		return nil, storeErr(err, "Order")
	}
	return order, nil
}

func (s *OrderService) publish(ctx context.Context, topic string, order *models.Order, data map[string]interface{}) {
	_ = s.bus.Publish(ctx, events.Event{
		Topic:   topic,
		ShopID:  order.ShopID,
		UserID:  order.UserID,
		CartID:  order.CartID,
		OrderID: order.ID,
		Status:  order.Workflow.Status,
		Data:    data,
	})
}

// approvable checks that o has a payment awaiting approval. Only new and
// processing orders can approve a payment.
func approvable(o *models.Order) error {
	if o.Workflow.Status != workflow.OrderNew && o.Workflow.Status != workflow.OrderProcessing {
		return apperr.Newf(apperr.CodeInvalidTransition, "Cannot approve payment of a %s order", o.Workflow.Status)
	}
	for _, b := range o.Billing {
		if b.PaymentMethod != nil && b.PaymentMethod.Status == models.PaymentCreated {
			return nil
		}
	}
	return apperr.New(apperr.CodeInvalidTransition, "Order has no payment awaiting approval")
}

// ApprovePayment approves the order's created payments, takes the sold
// units off the on-hand count and starts processing. The units are taken
// first and put back if the approval cannot be saved.
func (s *OrderService) ApprovePayment(ctx context.Context, orderID string) (*models.Order, error) {
	current, err := s.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "Order")
	}
	if err := approvable(current); err != nil {
		return nil, err
	}
	if err := s.inventory.MarkSold(ctx, current); err != nil {
		return nil, err
	}

	order, err := s.update(ctx, orderID, func(o *models.Order) error {
		if err := approvable(o); err != nil {
			return err
		}
		for i := range o.Billing {
			pm := o.Billing[i].PaymentMethod
			if pm != nil && pm.Status == models.PaymentCreated {
				pm.Status = models.PaymentApproved
			}
		}
		if o.Workflow.Status == workflow.OrderNew {
			return workflow.Order.Apply(&o.Workflow, workflow.OrderProcessing)
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("approval not saved, returning sold units")
		s.inventory.UnmarkSold(ctx, current)
		return nil, err
	}
	s.publish(ctx, events.AfterOrderUpdate, order, map[string]interface{}{"payment_status": models.PaymentApproved})
	return order, nil
}

// CapturePayment captures every approved payment. A zero amount voids the
// authorization instead. Payments taken in capture mode were settled when
// they were authorized.
func (s *OrderService) CapturePayment(ctx context.Context, orderID string) (*models.Order, error) {
	current, err := s.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "Order")
	}

	// Gateway calls happen once, outside the retry loop.
	results := map[string]string{}
	for _, b := range current.Billing {
		pm := b.PaymentMethod
		if pm == nil || pm.Status != models.PaymentApproved {
			continue
		}
		status, err := s.capture(ctx, b.ShopID, pm)
		if err != nil {
			return nil, err
		}
		results[b.ID] = status
	}
	if len(results) == 0 {
		return nil, apperr.New(apperr.CodeInvalidTransition, "Order has no approved payment to capture")
	}

	order, err := s.update(ctx, orderID, func(o *models.Order) error {
		for i := range o.Billing {
			if status, ok := results[o.Billing[i].ID]; ok && o.Billing[i].PaymentMethod != nil {
				o.Billing[i].PaymentMethod.Status = status
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AfterOrderUpdate, order, map[string]interface{}{"payment_status": order.PaymentStatus()})
	return order, nil
}

func (s *OrderService) capture(ctx context.Context, shopID string, pm *models.PaymentMethod) (string, error) {
	if pm.Mode == models.ModeCapture {
		return models.PaymentCompleted, nil
	}
	processor, shop, err := s.processorFor(ctx, shopID, pm)
	if err != nil {
		return "", err
	}
	res, err := processor.Capture(ctx, shop, pm)
	if err != nil {
		return "", err
	}
	log := s.logger.WithFields(logrus.Fields{"shop_id": shopID, "transaction_id": pm.TransactionID})
	if !res.Saved {
		log.WithField("error", res.Error).Warn("capture rejected")
		return "", apperr.New(apperr.CodePaymentFailed, res.Error)
	}
	if pm.Amount.IsZero() {
		log.Info("zero amount capture voided")
		return models.PaymentVoided, nil
	}
	return models.PaymentCompleted, nil
}

func (s *OrderService) processorFor(ctx context.Context, shopID string, pm *models.PaymentMethod) (payments.Processor, *models.Shop, error) {
	processor, err := s.processors.Get(pm.Processor)
	if err != nil {
		return nil, nil, err
	}
	shop, err := s.store.Shops.Get(ctx, shopID)
	if err != nil {
		return nil, nil, storeErr(err, "Shop")
	}
	return processor, shop, nil
}

// billingFor picks the billing record to refund: shopID's, or the first
// paid one.
func billingFor(order *models.Order, shopID string) *models.BillingRecord {
	for i := range order.Billing {
		b := &order.Billing[i]
		if b.PaymentMethod != nil && (shopID == "" || b.ShopID == shopID) {
			return b
		}
	}
	return nil
}

// RefundPayment refunds amount of a completed payment. The processor's
// result is returned as is, including gateways that decline to refund.
func (s *OrderService) RefundPayment(ctx context.Context, orderID, shopID string, amount decimal.Decimal) (*payments.Result, error) {
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Refund amount must be positive")
	}
	order, err := s.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "Order")
	}
	b := billingFor(order, shopID)
	if b == nil {
		return nil, apperr.New(apperr.CodeNotFound, "Order has no payment")
	}
	if b.PaymentMethod.Status != models.PaymentCompleted && b.PaymentMethod.Status != models.PaymentRefunded {
		return nil, apperr.New(apperr.CodeInvalidTransition, "Only captured payments can be refunded")
	}
	processor, shop, err := s.processorFor(ctx, b.ShopID, b.PaymentMethod)
	if err != nil {
		return nil, err
	}
	res, err := processor.Refund(ctx, shop, b.PaymentMethod, amount)
	if err != nil {
		return nil, err
	}
	if !res.Saved {
		s.logger.WithFields(logrus.Fields{"order_id": orderID, "error": res.Error}).Warn("refund not processed")
		return res, nil
	}

	billingID := b.ID
	order, err = s.update(ctx, orderID, func(o *models.Order) error {
		for i := range o.Billing {
			if o.Billing[i].ID == billingID && o.Billing[i].PaymentMethod != nil {
				o.Billing[i].PaymentMethod.Status = models.PaymentRefunded
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AfterOrderUpdate, order, map[string]interface{}{"payment_status": models.PaymentRefunded})
	return res, nil
}

// ListRefunds returns the refunds of every payment of the order.
func (s *OrderService) ListRefunds(ctx context.Context, orderID string) ([]payments.Refund, error) {
	order, err := s.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "Order")
	}
	var out []payments.Refund
	for _, b := range order.Billing {
		if b.PaymentMethod == nil {
			continue
		}
		processor, shop, err := s.processorFor(ctx, b.ShopID, b.PaymentMethod)
		if err != nil {
			return nil, err
		}
		refunds, err := processor.ListRefunds(ctx, shop, b.PaymentMethod)
		if err != nil {
			return nil, err
		}
		out = append(out, refunds...)
	}
	return out, nil
}

// CompleteOrder ships every item and completes the order.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.update(ctx, orderID, func(o *models.Order) error {
		if err := workflow.Order.Apply(&o.Workflow, workflow.OrderCompleted); err != nil {
			return err
		}
		return s.inventory.MarkShipped(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AfterOrderUpdate, order, nil)
	return order, nil
}

// CancelOrder cancels the order, voids payments that were not captured and
// returns its units to stock.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, returnToStock bool) (*models.Order, error) {
	var before *models.Order
	order, err := s.update(ctx, orderID, func(o *models.Order) error {
		before = o.Clone()
		return workflow.Order.Apply(&o.Workflow, workflow.OrderCanceled)
	})
	if err != nil {
		return nil, err
	}
	log := s.logger.WithField("order_id", order.ID)

	if err := s.inventory.ReturnToStock(ctx, before, returnToStock); err != nil {
		log.WithError(err).Error("could not return inventory")
	}

	voided := map[string]bool{}
	for _, b := range order.Billing {
		pm := b.PaymentMethod
		if pm == nil || (pm.Status != models.PaymentCreated && pm.Status != models.PaymentApproved) {
			continue
		}
		processor, shop, err := s.processorFor(ctx, b.ShopID, pm)
		if err != nil {
			log.WithError(err).Error("cannot void payment")
			continue
		}
		res, err := processor.Void(ctx, shop, pm)
		if err != nil || !res.Saved {
			log.WithError(err).Warn("payment was not voided")
			continue
		}
		voided[b.ID] = true
	}
	if len(voided) > 0 {
		order, err = s.update(ctx, orderID, func(o *models.Order) error {
			for i := range o.Billing {
				if voided[o.Billing[i].ID] && o.Billing[i].PaymentMethod != nil {
					o.Billing[i].PaymentMethod.Status = models.PaymentVoided
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	s.publish(ctx, events.AfterOrderCancel, order, map[string]interface{}{"return_to_stock": returnToStock})
	return order, nil
}

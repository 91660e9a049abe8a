package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"reaction-commerce/events"
	"reaction-commerce/models"
	"reaction-commerce/store"
)

// OrderMailer sends the order emails.
type OrderMailer interface {
	SendOrderConfirmationEmail(ctx context.Context, toEmail string, order *models.Order) error
	SendPaymentStatusEmail(ctx context.Context, toEmail string, order *models.Order, status string) error
}

// Notifier emails customers about their orders.
type Notifier struct {
	store  *store.Store
	mailer OrderMailer
	logger logrus.FieldLogger
}

func NewNotifier(st *store.Store, mailer OrderMailer, logger logrus.FieldLogger) *Notifier {
	return &Notifier{store: st, mailer: mailer, logger: logger.WithField("component", "notifications")}
}

// Register subscribes the notifier to the bus. Emails go out in the
// background; failures are only logged.
func (n *Notifier) Register(bus *events.Bus) {
	bus.SubscribeAsync(events.AfterOrderCreate, n.OrderCreated)
	bus.SubscribeAsync(events.AfterOrderUpdate, n.OrderUpdated)
}

func (n *Notifier) OrderCreated(ctx context.Context, e events.Event) error {
	order, err := n.store.Orders.Get(ctx, e.OrderID)
	if err != nil {
		return storeErr(err, "Order")
	}
	if order.Email == "" {
		return nil
	}
	return n.mailer.SendOrderConfirmationEmail(ctx, order.Email, order)
}

// OrderUpdated mails payment status changes.
func (n *Notifier) OrderUpdated(ctx context.Context, e events.Event) error {
	status, _ := e.Data["payment_status"].(string)
	if status == "" {
		return nil
	}
	order, err := n.store.Orders.Get(ctx, e.OrderID)
	if err != nil {
		return storeErr(err, "Order")
	}
	if order.Email == "" {
		return nil
	}
	return n.mailer.SendPaymentStatusEmail(ctx, order.Email, order, status)
}

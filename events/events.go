// Package events is the in-process event bus that replaces collection hooks.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Topics.
const (
	AfterCartUpdate           = "afterCartUpdate"
	AfterAddItemsToCart       = "afterAddItemsToCart"
	AfterModifyQuantityInCart = "afterModifyQuantityInCart"
	BeforeRemoveItemsFromCart = "beforeRemoveItemsFromCart"
	AfterOrderCreate          = "afterOrderCreate"
	AfterOrderUpdate          = "afterOrderUpdate"
	AfterOrderCancel          = "afterOrderCancel"
	AfterVariantInsert        = "afterVariantInsert"
	AfterVariantUpdate        = "afterVariantUpdate"
	AfterVariantRemove        = "afterVariantRemove"
)

// Event is published after (or before) a domain change.
type Event struct {
	Topic     string                 `json:"topic"`
	ShopID    string                 `json:"shop_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	CartID    string                 `json:"cart_id,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	VariantID string                 `json:"variant_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	At        time.Time              `json:"at"`
}

// Handler reacts to an event.
type Handler func(ctx context.Context, e Event) error

// Publisher is what services need from the bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type subscription struct {
	handler Handler
	async   bool
}

// Bus dispatches events to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	all    []subscription
	logger logrus.FieldLogger
	wg     sync.WaitGroup
}

func NewBus(logger logrus.FieldLogger) *Bus {
	return &Bus{topics: map[string][]subscription{}, logger: logger}
}

// Subscribe runs h synchronously for every event on topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], subscription{handler: h})
}

// SubscribeAsync runs h in its own goroutine. Its errors are logged only.
func (b *Bus) SubscribeAsync(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], subscription{handler: h, async: true})
}

// SubscribeAll runs h asynchronously for every topic.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, subscription{handler: h, async: true})
}

// Publish delivers e. Synchronous handler errors are logged and returned joined.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := append(append([]subscription{}, b.topics[e.Topic]...), b.all...)
	b.mu.RUnlock()

	log := b.logger.WithField("topic", e.Topic)
	var errs []error
	for _, s := range subs {
		if s.async {
			b.wg.Add(1)
			go func(h Handler) {
				defer b.wg.Done()
				if err := h(context.WithoutCancel(ctx), e); err != nil {
					log.WithError(err).Error("async event handler failed")
				}
			}(s.handler)
			continue
		}
		if err := s.handler(ctx, e); err != nil {
			log.WithError(err).Error("event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every asynchronous handler started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/cache"
	"reaction-commerce/connectors/shopify"
	"reaction-commerce/events"
	"reaction-commerce/models"
	"reaction-commerce/store"
)

// Shopify sync hook that exports new orders.
const (
	ShopifyHookTopic    = "orders"
	ShopifyHookEvent    = "orders/create"
	ShopifyHookSyncType = "exportToShopify"

	shopifyExportMethod = "reaction-connectors-shopify"
	exportKeyTTL        = 30 * 24 * time.Hour
)

// ShopifyExporter pushes orders to each billed shop's Shopify store and
// records every attempt in the order's export history.
type ShopifyExporter struct {
	store  *store.Store
	client *shopify.Client
	idem   cache.IdempotencyStore
	logger logrus.FieldLogger
	clock  clock
}

func NewShopifyExporter(st *store.Store, client *shopify.Client, idem cache.IdempotencyStore, logger logrus.FieldLogger) *ShopifyExporter {
	if idem == nil {
		idem = cache.NewInMemoryIdempotencyStore()
	}
	return &ShopifyExporter{store: st, client: client, idem: idem, logger: logger.WithField("connector", "shopify")}
}

// ExportKey deduplicates the export of one order to one shop.
func ExportKey(orderID, shopID string) string {
	return fmt.Sprintf("shopify:%s:%s", orderID, shopID)
}

// HandleOrderCreated is an events.Handler for afterOrderCreate. Shops
// without the order export hook are skipped.
func (x *ShopifyExporter) HandleOrderCreated(ctx context.Context, e events.Event) error {
	_, err := x.export(ctx, e.OrderID, true)
	return err
}

// ExportOrder exports an order on demand to every shop with Shopify enabled.
func (x *ShopifyExporter) ExportOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return x.export(ctx, orderID, false)
}

func (x *ShopifyExporter) export(ctx context.Context, orderID string, hookedOnly bool) (*models.Order, error) {
	order, err := x.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "Order")
	}
	var records []models.ExportRecord
	var failures []error
	for i, b := range order.Billing {
		shop, err := x.store.Shops.Get(ctx, b.ShopID)
		if err != nil {
			failures = append(failures, storeErr(err, "Shop"))
			continue
		}
		settings := shop.Settings.Shopify
		if !settings.Enabled {
			continue
		}
		if hookedOnly && !settings.HasHook(ShopifyHookTopic, ShopifyHookEvent, ShopifyHookSyncType) {
			continue
		}
		rec, err := x.exportToShop(ctx, order, i, shop)
		if rec != nil {
			records = append(records, *rec)
		}
		if err != nil {
			failures = append(failures, err)
		}
	}

	if len(records) > 0 {
		err = store.RetryOnConflict(ctx, conflictAttempts, func() error {
			var err error
			if order, err = x.store.Orders.Get(ctx, orderID); err != nil {
				return err
			}
			order.ExportHistory = append(order.ExportHistory, records...)
			order.UpdatedAt = x.clock.now()
			return x.store.Orders.Update(ctx, order)
		})
		if err != nil {
			return nil, storeErr(err, "Order")
		}
	}
	if len(failures) > 0 {
		return order, failures[0]
	}
	return order, nil
}

// exportToShop sends the part of order billed to shop. It returns no
// record when the export already ran.
func (x *ShopifyExporter) exportToShop(ctx context.Context, order *models.Order, index int, shop *models.Shop) (*models.ExportRecord, error) {
	log := x.logger.WithFields(logrus.Fields{"order_id": order.ID, "shop_id": shop.ID})
	key := ExportKey(order.ID, shop.ID)
	first, err := x.idem.MarkProcessed(ctx, key, exportKeyTTL)
	if err != nil {
		log.WithError(err).Warn("idempotency check failed, exporting anyway")
		first = true
	}
	if !first {
		log.Info("order already exported")
		return nil, nil
	}

	rec := &models.ExportRecord{
		Status:        models.ExportFailed,
		DateAttempted: x.clock.now(),
		ExportMethod:  shopifyExportMethod,
		ShopID:        shop.ID,
	}
	payload, err := shopify.ConvertOrder(order, index, shop)
	if err == nil {
		var created *shopify.CreatedOrder
		settings := shop.Settings.Shopify
		created, err = x.client.CreateOrder(ctx, shopify.Credentials{
			ShopName: settings.ShopName,
			APIKey:   settings.APIKey,
			Password: settings.Password,
		}, payload)
		if err == nil {
			rec.Status = models.ExportSuccess
			rec.DestinationIdentifier = strconv.FormatInt(created.ID, 10)
			log.WithField("shopify_order_id", created.ID).Info("order exported")
			return rec, nil
		}
	}

	log.WithError(err).Error("order export failed")
	if ferr := x.idem.Forget(ctx, key); ferr != nil {
		log.WithError(ferr).Warn("could not clear export key")
	}
	if apperr.CodeOf(err) == apperr.CodeServerError {
		err = apperr.Wrap(err, apperr.CodeConnectorError, "Error exporting order to Shopify")
	}
	return rec, err
}

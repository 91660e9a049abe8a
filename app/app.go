// Package app wires configuration, storage, connectors and services into
// the HTTP API.
package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"reaction-commerce/cache"
	"reaction-commerce/config"
	"reaction-commerce/connectors"
	"reaction-commerce/connectors/avalara"
	"reaction-commerce/connectors/shopify"
	"reaction-commerce/connectors/taxcloud"
	"reaction-commerce/controllers"
	"reaction-commerce/events"
	"reaction-commerce/fixtures"
	"reaction-commerce/jobs"
	"reaction-commerce/metrics"
	"reaction-commerce/payments"
	"reaction-commerce/payments/authnet"
	"reaction-commerce/payments/example"
	"reaction-commerce/routes"
	"reaction-commerce/services"
	"reaction-commerce/store"
	"reaction-commerce/store/memstore"
	"reaction-commerce/store/mongostore"
	"reaction-commerce/utils"
)

// App is the running service graph.
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Store   *store.Store
	Bus     *events.Bus
	Metrics *metrics.Registry
	Tokens  *utils.JWT
	Router  *mux.Router
	Jobs    *jobs.JobServer

	Accounts  *services.AccountService
	Inventory *services.InventoryService
	Carts     *services.CartService
	Checkout  *services.CheckoutService
	Orders    *services.OrderService

	closers []func(context.Context) error
}

// OpenStore connects the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Driver == "memory" {
		return memstore.New(), nil
	}
	return mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
}

// New builds the app and loads the fixtures file.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Store: st, Metrics: metrics.New()}
	if st.Close != nil {
		a.closers = append(a.closers, st.Close)
	}
	if err := a.build(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	a.Bus = events.NewBus(a.Logger)
	a.Tokens = utils.NewJWT(cfg.JWT.Secret, cfg.JWT.TTL)

	var idem cache.IdempotencyStore = cache.NewInMemoryIdempotencyStore()
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedisIdempotencyStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		idem = redisStore
		a.closers = append(a.closers, func(context.Context) error { return redisStore.Close() })
	}

	if cfg.NATS.URL != "" {
		conn, err := events.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		a.Bus.SubscribeAll(events.NewNATSForwarder(conn, cfg.NATS.SubjectPrefix).Handle)
		a.closers = append(a.closers, func(context.Context) error { return drain(conn) })
	}

	connector := func(name string) *connectors.Client {
		return connectors.New(name, connectors.Options{
			Timeout:    cfg.Connectors.Timeout,
			MaxRetries: cfg.Connectors.MaxRetries,
			Metrics:    a.Metrics,
			Logger:     a.Logger,
		})
	}
	processors := payments.NewRegistry(example.New(), authnet.New(connector("authnet"), cfg.AuthNet.URL, a.Logger))
	mailer := utils.NewEmailService(cfg.Email, cfg.App.BaseURL, a.Logger)

	a.Inventory = services.NewInventoryService(a.Store, a.Bus, a.Metrics, a.Logger, cfg.Inventory.ReservationTTL)
	a.Carts = services.NewCartService(a.Store, a.Inventory, a.Bus, a.Logger)
	shipping := services.NewShippingService(a.Store, a.Carts, a.Bus, a.Logger)
	taxes := services.NewTaxService(a.Store,
		taxcloud.New(connector("taxcloud"), cfg.TaxCloud.URL),
		avalara.New(connector("avalara"), cfg.Avalara.URL),
		a.Logger)
	a.Checkout = services.NewCheckoutService(services.CheckoutDeps{
		Store:       a.Store,
		Carts:       a.Carts,
		Inventory:   a.Inventory,
		Taxes:       taxes,
		Processors:  processors,
		Idempotency: idem,
		Bus:         a.Bus,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	})
	a.Orders = services.NewOrderService(a.Store, a.Inventory, processors, a.Bus, a.Logger)
	a.Accounts = services.NewAccountService(a.Store, a.Tokens, mailer, a.Logger)
	products := services.NewProductService(a.Store, a.Inventory, a.Logger)
	shops := services.NewShopService(a.Store)

	exporter := services.NewShopifyExporter(a.Store, shopify.New(connector("shopify"), cfg.Shopify.APIVersion), idem, a.Logger)
	a.Bus.SubscribeAsync(events.AfterOrderCreate, exporter.HandleOrderCreated)
	services.NewNotifier(a.Store, mailer, a.Logger).Register(a.Bus)

	if err := fixtures.NewLoader(a.Store, a.Logger).LoadFile(ctx, cfg.Fixtures.Path); err != nil {
		return err
	}

	js, err := jobs.NewJobServer(cfg.Jobs.ReservationSweep, a.Inventory, a.Logger)
	if err != nil {
		return err
	}
	a.Jobs = js

	a.Router = routes.NewRouter(routes.Controllers{
		Users:    controllers.NewUserController(a.Accounts),
		Products: controllers.NewProductController(products),
		Shops:    controllers.NewShopController(shops, shipping),
		Carts:    controllers.NewCartController(a.Carts, shipping, taxes, a.Checkout),
		Orders:   controllers.NewOrderController(a.Orders, exporter),
	}, a.Tokens, a.Metrics, a.Logger)
	return nil
}

func drain(conn *nats.Conn) error {
	return errors.Wrap(conn.Drain(), "drain NATS connection")
}

// Server returns the HTTP server for the configured port.
func (a *App) Server() *http.Server {
	return &http.Server{Addr: ":" + a.Config.App.Port, Handler: a.Router}
}

// Close waits for in-flight event handlers, then releases connections in
// reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	if a.Bus != nil {
		a.Bus.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

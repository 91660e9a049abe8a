package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"reaction-commerce/controllers"
	"reaction-commerce/metrics"
	"reaction-commerce/middleware"
	"reaction-commerce/utils"
)

// Controllers groups every handler set the router serves.
type Controllers struct {
	Users    *controllers.UserController
	Products *controllers.ProductController
	Shops    *controllers.ShopController
	Carts    *controllers.CartController
	Orders   *controllers.OrderController
}

// NewRouter builds the API router with logging, metrics and auth.
func NewRouter(c Controllers, tokens *utils.JWT, m *metrics.Registry, logger logrus.FieldLogger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging(logger, m))
	RegisterRoutes(router, c, tokens)

	router.Handle("/metrics", m.Handler()).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	return router
}

// RegisterRoutes sets up all the routes for the application
func RegisterRoutes(router *mux.Router, c Controllers, tokens *utils.JWT) {
	auth := middleware.Auth(tokens)
	protected := func(h http.HandlerFunc) http.Handler { return auth(h) }
	admin := func(h http.HandlerFunc) http.Handler { return auth(middleware.AdminMiddleware(h)) }

	// Public routes
	router.HandleFunc("/register", c.Users.Register).Methods("POST")
	router.HandleFunc("/login", c.Users.Login).Methods("POST")
	router.HandleFunc("/verify", c.Users.VerifyEmail).Methods("GET")
	router.HandleFunc("/sessions/anonymous", c.Users.AnonymousSession).Methods("POST")
	router.HandleFunc("/products", c.Products.GetProducts).Methods("GET")
	router.HandleFunc("/products/{id}", c.Products.GetProductByID).Methods("GET")
	router.HandleFunc("/shops/slug/{slug}", c.Shops.GetShopBySlug).Methods("GET")
	router.HandleFunc("/shops/{id}", c.Shops.GetShop).Methods("GET")
	router.HandleFunc("/shops/{shopId}/surcharges/{id}", c.Shops.GetSurcharge).Methods("GET")

	// Account routes
	router.Handle("/profile", protected(c.Users.GetProfile)).Methods("GET")
	router.Handle("/profile/addresses", protected(c.Users.AddAddress)).Methods("POST")

	// Cart Routes
	router.Handle("/cart", protected(c.Carts.CreateCart)).Methods("POST")
	router.Handle("/cart", protected(c.Carts.GetCart)).Methods("GET")
	router.Handle("/cart/items", protected(c.Carts.AddToCart)).Methods("POST")
	router.Handle("/cart/items/{itemId}", protected(c.Carts.UpdateItem)).Methods("PATCH")
	router.Handle("/cart/items/{itemId}", protected(c.Carts.RemoveFromCart)).Methods("DELETE")
	router.Handle("/cart/merge", protected(c.Carts.MergeCart)).Methods("POST")
	router.Handle("/cart/shipping/address", protected(c.Carts.SetShippingAddress)).Methods("PUT")
	router.Handle("/cart/billing/address", protected(c.Carts.SetBillingAddress)).Methods("PUT")
	router.Handle("/cart/shipping/method", protected(c.Carts.SetShippingMethod)).Methods("PUT")
	router.Handle("/cart/taxes", protected(c.Carts.CalculateTaxes)).Methods("POST")
	router.Handle("/cart/checkout", protected(c.Carts.Checkout)).Methods("POST")

	// Order Routes
	router.Handle("/orders", protected(c.Orders.GetOrders)).Methods("GET")
	router.Handle("/orders/{id}", protected(c.Orders.GetOrder)).Methods("GET")

	// Admin routes
	router.Handle("/products", admin(c.Products.CreateProduct)).Methods("POST")
	router.Handle("/products/{id}", admin(c.Products.UpdateProduct)).Methods("PUT")
	router.Handle("/products/{id}", admin(c.Products.DeleteProduct)).Methods("DELETE")
	router.Handle("/products/{id}/variants", admin(c.Products.AddVariant)).Methods("POST")
	router.Handle("/orders/{id}/approve", admin(c.Orders.ApprovePayment)).Methods("POST")
	router.Handle("/orders/{id}/capture", admin(c.Orders.CapturePayment)).Methods("POST")
	router.Handle("/orders/{id}/refund", admin(c.Orders.RefundPayment)).Methods("POST")
	router.Handle("/orders/{id}/refunds", admin(c.Orders.ListRefunds)).Methods("GET")
	router.Handle("/orders/{id}/complete", admin(c.Orders.CompleteOrder)).Methods("POST")
	router.Handle("/orders/{id}/cancel", admin(c.Orders.CancelOrder)).Methods("POST")
	router.Handle("/orders/{id}/export", admin(c.Orders.ExportOrder)).Methods("POST")
	router.Handle("/accounts/service-configuration/{service}", admin(c.Users.UpsertServiceConfiguration)).Methods("PUT")
}

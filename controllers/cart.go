package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
	"reaction-commerce/payments"
	"reaction-commerce/services"
)

// CartController handles cart and checkout requests. Every handler acts on
// the caller's cart unless ?cart_id= names another one.
type CartController struct {
	Carts     *services.CartService
	Shipping  *services.ShippingService
	Taxes     *services.TaxService
	Checkouts *services.CheckoutService
}

func NewCartController(carts *services.CartService, shipping *services.ShippingService, taxes *services.TaxService, checkout *services.CheckoutService) *CartController {
	return &CartController{Carts: carts, Shipping: shipping, Taxes: taxes, Checkouts: checkout}
}

type addItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

type mergeRequest struct {
	CartID string `json:"cart_id"`
}

type shipmentMethodRequest struct {
	MethodID string `json:"method_id" validate:"required"`
}

// cartID resolves the cart a request targets.
func (cc *CartController) cartID(ctx context.Context, r *http.Request, actor services.Actor) (string, error) {
	if id := r.URL.Query().Get("cart_id"); id != "" {
		return id, nil
	}
	cart, err := cc.Carts.GetCart(ctx, actor)
	if err != nil {
		return "", err
	}
	return cart.ID, nil
}

// withCart runs fn against the target cart and writes its result.
func (cc *CartController) withCart(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error)) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	cartID, err := cc.cartID(ctx, r, actor)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	out, err := fn(ctx, actor, cartID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, out)
}

// CreateCart returns the caller's cart, creating it if needed
func (cc *CartController) CreateCart(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	cart, err := cc.Carts.CreateCart(ctx, actor)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, cart)
}

// GetCart retrieves the caller's cart
func (cc *CartController) GetCart(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	cart, err := cc.Carts.GetCart(ctx, actor)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, cart)
}

// AddToCart adds a variant to the cart
func (cc *CartController) AddToCart(w http.ResponseWriter, r *http.Request) {
	var in addItemRequest
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		return cc.Carts.AddToCart(ctx, actor, cartID, in.ProductID, in.VariantID, in.Quantity)
	})
}

func (cc *CartController) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var in quantityRequest
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		return cc.Carts.UpdateItemQuantity(ctx, actor, cartID, mux.Vars(r)["itemId"], in.Quantity)
	})
}

// RemoveFromCart removes ?quantity= units of a line, or the whole line.
func (cc *CartController) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	qty := 0
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apperr.Write(w, apperr.New(apperr.CodeInvalidParameter, "Invalid quantity"))
			return
		}
		qty = n
	}
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		return cc.Carts.RemoveFromCart(ctx, actor, cartID, mux.Vars(r)["itemId"], qty)
	})
}

// MergeCart pulls the session's other carts into the caller's cart.
func (cc *CartController) MergeCart(w http.ResponseWriter, r *http.Request) {
	var in mergeRequest
	if r.ContentLength > 0 {
		if err := decode(r, &in); err != nil {
			apperr.Write(w, err)
			return
		}
	}
	if in.CartID != "" {
		q := r.URL.Query()
		q.Set("cart_id", in.CartID)
		r.URL.RawQuery = q.Encode()
	}
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		merged, err := cc.Carts.MergeCart(ctx, actor, cartID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"merged": merged}, nil
	})
}

func (cc *CartController) SetShippingAddress(w http.ResponseWriter, r *http.Request) {
	var addr models.Address
	if err := decodeJSON(r, &addr); err != nil {
		apperr.Write(w, err)
		return
	}
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		return cc.Shipping.SetShipmentAddress(ctx, actor, cartID, addr)
	})
}

func (cc *CartController) SetBillingAddress(w http.ResponseWriter, r *http.Request) {
	var addr models.Address
	if err := decodeJSON(r, &addr); err != nil {
		apperr.Write(w, err)
		return
	}
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		return cc.Shipping.SetPaymentAddress(ctx, actor, cartID, addr)
	})
}

func (cc *CartController) SetShippingMethod(w http.ResponseWriter, r *http.Request) {
	var in shipmentMethodRequest
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		return cc.Shipping.SetShipmentMethod(ctx, actor, cartID, in.MethodID)
	})
}

// CalculateTaxes prices the cart's taxes and returns the invoice with it.
func (cc *CartController) CalculateTaxes(w http.ResponseWriter, r *http.Request) {
	cc.withCart(w, r, func(ctx context.Context, actor services.Actor, cartID string) (interface{}, error) {
		// Access check before the tax service touches the cart.
		if _, err := cc.Carts.GetCartByID(ctx, actor, cartID); err != nil {
			return nil, err
		}
		cart, err := cc.Taxes.Calculate(ctx, cartID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"cart": cart, "invoice": services.Invoice(cart)}, nil
	})
}

// Checkout authorizes the card and turns the cart into an order.
func (cc *CartController) Checkout(w http.ResponseWriter, r *http.Request) {
	var card payments.Card
	if err := decodeJSON(r, &card); err != nil {
		apperr.Write(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	cartID, err := cc.cartID(ctx, r, actor)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	order, err := cc.Checkouts.SubmitPayment(ctx, actor, cartID, card)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusCreated, order)
}

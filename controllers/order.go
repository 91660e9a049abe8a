package controllers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"reaction-commerce/apperr"
	"reaction-commerce/models"
	"reaction-commerce/services"
)

// OrderController handles order requests
type OrderController struct {
	Orders   *services.OrderService
	Exporter *services.ShopifyExporter
}

func NewOrderController(orders *services.OrderService, exporter *services.ShopifyExporter) *OrderController {
	return &OrderController{Orders: orders, Exporter: exporter}
}

type refundRequest struct {
	ShopID string          `json:"shop_id"`
	Amount decimal.Decimal `json:"amount"`
}

type cancelRequest struct {
	ReturnToStock bool `json:"return_to_stock"`
}

// GetOrders lists the caller's orders, or all orders for admins
func (oc *OrderController) GetOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	orders, err := oc.Orders.ListOrders(ctx, actor)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, orders)
}

func (oc *OrderController) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	order, err := oc.Orders.GetOrder(ctx, actor, mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, order)
}

// transition runs one admin operation on the order in the path.
func (oc *OrderController) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*models.Order, error)) {
	ctx, cancel := requestContext(r)
	defer cancel()
	order, err := fn(ctx, mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, order)
}

func (oc *OrderController) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	oc.transition(w, r, oc.Orders.ApprovePayment)
}

func (oc *OrderController) CapturePayment(w http.ResponseWriter, r *http.Request) {
	oc.transition(w, r, oc.Orders.CapturePayment)
}

func (oc *OrderController) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	oc.transition(w, r, oc.Orders.CompleteOrder)
}

// CancelOrder cancels the order; the body may ask to return items to stock.
func (oc *OrderController) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var in cancelRequest
	if r.ContentLength > 0 {
		if err := decode(r, &in); err != nil {
			apperr.Write(w, err)
			return
		}
	}
	oc.transition(w, r, func(ctx context.Context, id string) (*models.Order, error) {
		return oc.Orders.CancelOrder(ctx, id, in.ReturnToStock)
	})
}

// ExportOrder pushes the order to every Shopify-enabled shop.
func (oc *OrderController) ExportOrder(w http.ResponseWriter, r *http.Request) {
	if oc.Exporter == nil {
		apperr.Write(w, apperr.New(apperr.CodeConnectorError, "Shopify export is not configured"))
		return
	}
	oc.transition(w, r, oc.Exporter.ExportOrder)
}

// RefundPayment refunds part of a captured payment. A refund the gateway
// would not save is still a 200 with saved=false.
func (oc *OrderController) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var in refundRequest
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	result, err := oc.Orders.RefundPayment(ctx, mux.Vars(r)["id"], in.ShopID, in.Amount)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func (oc *OrderController) ListRefunds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	refunds, err := oc.Orders.ListRefunds(ctx, mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, refunds)
}

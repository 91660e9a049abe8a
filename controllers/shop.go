package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"reaction-commerce/apperr"
	"reaction-commerce/services"
)

type ShopController struct {
	Shops    *services.ShopService
	Shipping *services.ShippingService
}

func NewShopController(shops *services.ShopService, shipping *services.ShippingService) *ShopController {
	return &ShopController{Shops: shops, Shipping: shipping}
}

func (sc *ShopController) GetShop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	shop, err := sc.Shops.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, shop)
}

func (sc *ShopController) GetShopBySlug(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	shop, err := sc.Shops.GetBySlug(ctx, mux.Vars(r)["slug"])
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, shop)
}

// GetSurcharge returns a surcharge with its message in ?language= (default en).
func (sc *ShopController) GetSurcharge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctx, cancel := requestContext(r)
	defer cancel()
	surcharge, err := sc.Shipping.GetSurcharge(ctx, vars["shopId"], vars["id"], r.URL.Query().Get("language"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if surcharge == nil {
		apperr.Write(w, apperr.New(apperr.CodeNotFound, "Surcharge not found"))
		return
	}
	respond(w, http.StatusOK, surcharge)
}

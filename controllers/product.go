package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"reaction-commerce/apperr"
	"reaction-commerce/services"
)

// ProductController handles catalog requests
type ProductController struct {
	Products *services.ProductService
}

func NewProductController(products *services.ProductService) *ProductController {
	return &ProductController{Products: products}
}

// GetProducts lists top-level products, optionally filtered by ?shop_id=.
func (pc *ProductController) GetProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	products, err := pc.Products.List(ctx, r.URL.Query().Get("shop_id"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, products)
}

// GetProductByID returns a product with its variants
func (pc *ProductController) GetProductByID(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	product, err := pc.Products.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, product)
}

// CreateProduct adds a product (admin only)
func (pc *ProductController) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in services.ProductInput
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	if in.ShopID == "" {
		if actor, err := actorFrom(r); err == nil {
			in.ShopID = actor.ShopID
		}
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	product, err := pc.Products.Create(ctx, in)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusCreated, product)
}

// AddVariant adds a variant under a product or variant (admin only)
func (pc *ProductController) AddVariant(w http.ResponseWriter, r *http.Request) {
	var in services.ProductInput
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	variant, err := pc.Products.AddVariant(ctx, mux.Vars(r)["id"], in)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusCreated, variant)
}

// UpdateProduct changes a product or variant (admin only)
func (pc *ProductController) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in services.ProductInput
	if err := decode(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	product, err := pc.Products.Update(ctx, mux.Vars(r)["id"], in)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	respond(w, http.StatusOK, product)
}

// DeleteProduct removes a product or variant (admin only)
func (pc *ProductController) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := pc.Products.Delete(ctx, mux.Vars(r)["id"]); err != nil {
		apperr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

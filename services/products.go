package services

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/events"
	"reaction-commerce/models"
	"reaction-commerce/store"
)

// ProductInput carries the editable product and variant fields.
type ProductInput struct {
	ShopID                       string          `json:"shop_id"`
	Title                        string          `json:"title" validate:"required"`
	Vendor                       string          `json:"vendor"`
	Price                        decimal.Decimal `json:"price"`
	Taxable                      bool            `json:"taxable"`
	TaxCode                      string          `json:"tax_code"`
	RequiresShipping             bool            `json:"requires_shipping"`
	Parcel                       *models.Parcel  `json:"parcel"`
	InventoryManagement          bool            `json:"inventory_management"`
	InventoryPolicy              bool            `json:"inventory_policy"`
	LowInventoryWarningThreshold int             `json:"low_inventory_warning_threshold" validate:"min=0"`
	InventoryQuantity            *int            `json:"inventory_quantity" validate:"omitempty,min=0"`
}

func (in ProductInput) apply(p *models.Product) {
	p.Title = in.Title
	p.Vendor = in.Vendor
	p.Price = in.Price
	p.Taxable = in.Taxable
	p.TaxCode = in.TaxCode
	p.RequiresShipping = in.RequiresShipping
	p.Parcel = in.Parcel
	p.InventoryManagement = in.InventoryManagement
	p.InventoryPolicy = in.InventoryPolicy
	p.LowInventoryWarningThreshold = in.LowInventoryWarningThreshold
}

// ProductWithVariants is a product and its live variants.
type ProductWithVariants struct {
	*models.Product
	Variants []*models.Product `json:"variants"`
}

type ProductService struct {
	store     *store.Store
	inventory *InventoryService
	logger    logrus.FieldLogger
	clock     clock
}

func NewProductService(st *store.Store, inv *InventoryService, logger logrus.FieldLogger) *ProductService {
	return &ProductService{store: st, inventory: inv, logger: logger.WithField("service", "products")}
}

// List returns top-level products, optionally of one shop.
func (s *ProductService) List(ctx context.Context, shopID string) ([]*models.Product, error) {
	products, err := s.store.Products.List(ctx, store.ProductFilter{ShopID: shopID, Type: models.ProductTypeSimple})
	return products, storeErr(err, "Product")
}

// Get returns a live product with its variants.
func (s *ProductService) Get(ctx context.Context, id string) (*ProductWithVariants, error) {
	p, err := s.store.Products.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Product")
	}
	if p.IsDeleted {
		return nil, apperr.New(apperr.CodeNotFound, "Product not found")
	}
	variants, err := s.store.Products.Variants(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Product")
	}
	return &ProductWithVariants{Product: p, Variants: variants}, nil
}

// Create adds a top-level product.
func (s *ProductService) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidParameter, "Invalid product")
	}
	if _, err := s.store.Shops.Get(ctx, in.ShopID); err != nil {
		return nil, storeErr(err, "Shop")
	}
	now := s.clock.now()
	p := &models.Product{
		ID:        models.NewID(),
		ShopID:    in.ShopID,
		Type:      models.ProductTypeSimple,
		Ancestors: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(p)
	if err := s.store.Products.Create(ctx, p); err != nil {
		return nil, storeErr(err, "Product")
	}
	return p, nil
}

// AddVariant adds a variant under parentID, which is a product or another
// variant.
func (s *ProductService) AddVariant(ctx context.Context, parentID string, in ProductInput) (*models.Product, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidParameter, "Invalid variant")
	}
	parent, err := s.store.Products.Get(ctx, parentID)
	if err != nil {
		return nil, storeErr(err, "Product")
	}
	if parent.IsDeleted {
		return nil, apperr.New(apperr.CodeNotFound, "Product not found")
	}
	now := s.clock.now()
	v := &models.Product{
		ID:        models.NewID(),
		ShopID:    parent.ShopID,
		Type:      models.ProductTypeVariant,
		Ancestors: append(append([]string{}, parent.Ancestors...), parent.ID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(v)
	if in.InventoryQuantity != nil {
		v.InventoryQuantity = *in.InventoryQuantity
	}
	return s.inventory.RegisterVariant(ctx, v)
}

// Update changes a product's or variant's fields. A variant's inventory
// quantity, when given, goes through the inventory ledger.
func (s *ProductService) Update(ctx context.Context, id string, in ProductInput) (*models.Product, error) {
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidParameter, "Invalid product")
	}
	var p *models.Product
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if p, err = s.store.Products.Get(ctx, id); err != nil {
			return err
		}
		if p.IsDeleted {
			return apperr.New(apperr.CodeNotFound, "Product not found")
		}
		in.apply(p)
		p.UpdatedAt = s.clock.now()
		return s.store.Products.Update(ctx, p)
	})
	if err != nil {
		return nil, storeErr(err, "Product")
	}
	if p.IsVariant() && in.InventoryQuantity != nil {
		return s.inventory.AdjustVariant(ctx, id, *in.InventoryQuantity)
	}
	if p.IsVariant() {
		// Policy or threshold changes affect the stock flags.
		if err := s.inventory.refreshFlags(ctx, id); err != nil {
			return nil, err
		}
		s.inventory.publish(ctx, events.AfterVariantUpdate, p)
	}
	return s.store.Products.Get(ctx, id)
}

// Delete removes a product with all its variants, or a single variant.
func (s *ProductService) Delete(ctx context.Context, id string) error {
	p, err := s.store.Products.Get(ctx, id)
	if err != nil {
		return storeErr(err, "Product")
	}
	variants, err := s.store.Products.Variants(ctx, id)
	if err != nil {
		return storeErr(err, "Product")
	}
	// Deepest first, so each removal takes only its own stock off the parents.
	sort.Slice(variants, func(i, j int) bool { return len(variants[i].Ancestors) > len(variants[j].Ancestors) })
	for _, v := range variants {
		if err := s.inventory.RemoveVariant(ctx, v.ID); err != nil {
			return err
		}
	}
	if p.IsVariant() {
		return s.inventory.RemoveVariant(ctx, id)
	}
	err = store.RetryOnConflict(ctx, conflictAttempts, func() error {
		p, err := s.store.Products.Get(ctx, id)
		if err != nil {
			return err
		}
		p.IsDeleted = true
		p.UpdatedAt = s.clock.now()
		return s.store.Products.Update(ctx, p)
	})
	if err == nil {
		s.logger.WithField("product_id", id).Info("product deleted")
	}
	return storeErr(err, "Product")
}

// Package fixtures seeds shops, tax rates, surcharges and products from a
// YAML file.
package fixtures

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"reaction-commerce/models"
	"reaction-commerce/services"
	"reaction-commerce/store"
	"reaction-commerce/units"
)

type File struct {
	Shops []Shop `yaml:"shops"`
}

type Address struct {
	FullName string `yaml:"full_name"`
	Address1 string `yaml:"address1"`
	Address2 string `yaml:"address2"`
	City     string `yaml:"city"`
	Region   string `yaml:"region"`
	Postal   string `yaml:"postal"`
	Country  string `yaml:"country"`
	Phone    string `yaml:"phone"`
}

type ShippingMethod struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Label    string          `yaml:"label"`
	Carrier  string          `yaml:"carrier"`
	Rate     decimal.Decimal `yaml:"rate"`
	Handling decimal.Decimal `yaml:"handling"`
	Enabled  bool            `yaml:"enabled"`
}

type Variant struct {
	ID                           string          `yaml:"id"`
	Title                        string          `yaml:"title"`
	Price                        decimal.Decimal `yaml:"price"`
	Taxable                      bool            `yaml:"taxable"`
	TaxCode                      string          `yaml:"tax_code"`
	RequiresShipping             bool            `yaml:"requires_shipping"`
	Parcel                       *models.Parcel  `yaml:"parcel"`
	InventoryManagement          bool            `yaml:"inventory_management"`
	InventoryPolicy              bool            `yaml:"inventory_policy"`
	LowInventoryWarningThreshold int             `yaml:"low_inventory_warning_threshold"`
	InventoryQuantity            int             `yaml:"inventory_quantity"`
}

type Product struct {
	ID       string    `yaml:"id"`
	Title    string    `yaml:"title"`
	Vendor   string    `yaml:"vendor"`
	Variants []Variant `yaml:"variants"`
}

type Shop struct {
	ID                string              `yaml:"id"`
	Name              string              `yaml:"name"`
	Slug              string              `yaml:"slug"`
	Currency          string              `yaml:"currency"`
	BaseUOM           string              `yaml:"base_uom"`
	BaseUOL           string              `yaml:"base_uol"`
	Primary           bool                `yaml:"primary"`
	Addresses         []Address           `yaml:"addresses"`
	DefaultParcelSize *models.Parcel      `yaml:"default_parcel_size"`
	ShippingMethods   []ShippingMethod    `yaml:"shipping_methods"`
	Settings          models.ShopSettings `yaml:"settings"`
	TaxRates          []models.TaxRate    `yaml:"tax_rates"`
	Surcharges        []models.Surcharge  `yaml:"surcharges"`
	Products          []Product           `yaml:"products"`
}

// DefaultParcelSize returns the 8 lb, 11.25 x 8.75 x 6 in parcel in the
// shop's units.
func DefaultParcelSize(baseUOM, baseUOL string) (*models.Parcel, error) {
	weight, err := units.ConvertWeight(units.Pound, baseUOM, 8)
	if err != nil {
		return nil, err
	}
	var dims [3]float64
	for i, in := range []float64{6, 11.25, 8.75} {
		if dims[i], err = units.ConvertLength(units.Inch, baseUOL, in); err != nil {
			return nil, err
		}
	}
	return &models.Parcel{Weight: weight, Height: dims[0], Length: dims[1], Width: dims[2]}, nil
}

// Parse decodes a fixtures document.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode fixtures")
	}
	return &f, nil
}

// Loader upserts fixtures into a store.
type Loader struct {
	store  *store.Store
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewLoader(st *store.Store, logger logrus.FieldLogger) *Loader {
	return &Loader{store: st, logger: logger.WithField("component", "fixtures"), now: time.Now}
}

// LoadFile loads path. A missing file is logged and skipped.
func (l *Loader) LoadFile(ctx context.Context, path string) error {
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		l.logger.WithField("path", path).Warn("fixtures file not found, skipping")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "open fixtures")
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return errors.Wrap(err, path)
	}
	return l.Load(ctx, f)
}

// Load upserts every shop of f with its rates, surcharges and products.
func (l *Loader) Load(ctx context.Context, f *File) error {
	for _, s := range f.Shops {
		if err := l.loadShop(ctx, s); err != nil {
			return errors.Wrapf(err, "shop %s", s.Slug)
		}
	}
	return nil
}

func (l *Loader) loadShop(ctx context.Context, s Shop) error {
	now := l.now().UTC()
	shop := &models.Shop{
		ID:                s.ID,
		Name:              s.Name,
		Slug:              s.Slug,
		Currency:          s.Currency,
		BaseUOM:           s.BaseUOM,
		BaseUOL:           s.BaseUOL,
		Primary:           s.Primary,
		DefaultParcelSize: s.DefaultParcelSize,
		Settings:          s.Settings,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if shop.ID == "" {
		return errors.New("shop id is required")
	}
	if shop.BaseUOM == "" {
		shop.BaseUOM = units.Pound
	}
	if shop.BaseUOL == "" {
		shop.BaseUOL = units.Inch
	}
	if shop.DefaultParcelSize == nil {
		parcel, err := DefaultParcelSize(shop.BaseUOM, shop.BaseUOL)
		if err != nil {
			return err
		}
		shop.DefaultParcelSize = parcel
	}
	for _, a := range s.Addresses {
		shop.AddressBook = append(shop.AddressBook, models.Address{
			ID:       models.NewID(),
			FullName: a.FullName,
			Address1: a.Address1,
			Address2: a.Address2,
			City:     a.City,
			Region:   a.Region,
			Postal:   a.Postal,
			Country:  a.Country,
			Phone:    a.Phone,
		})
	}
	for _, m := range s.ShippingMethods {
		shop.ShippingMethods = append(shop.ShippingMethods, models.ShippingMethod(m))
	}
	if existing, err := l.store.Shops.Get(ctx, shop.ID); err == nil {
		shop.CreatedAt = existing.CreatedAt
		shop.Version = existing.Version
	}
	if err := l.store.Shops.Upsert(ctx, shop); err != nil {
		return errors.Wrap(err, "upsert shop")
	}

	for i := range s.TaxRates {
		r := s.TaxRates[i]
		r.ShopID = shop.ID
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-tax-%d", shop.ID, i)
		}
		if err := l.store.TaxRates.Upsert(ctx, &r); err != nil {
			return errors.Wrap(err, "upsert tax rate")
		}
	}
	for i := range s.Surcharges {
		sc := s.Surcharges[i]
		sc.ShopID = shop.ID
		if sc.ID == "" {
			sc.ID = fmt.Sprintf("%s-surcharge-%d", shop.ID, i)
		}
		if err := l.store.Surcharges.Upsert(ctx, &sc); err != nil {
			return errors.Wrap(err, "upsert surcharge")
		}
	}
	for _, p := range s.Products {
		if err := l.loadProduct(ctx, shop, p, now); err != nil {
			return errors.Wrapf(err, "product %s", p.ID)
		}
	}
	l.logger.WithFields(logrus.Fields{"shop_id": shop.ID, "products": len(s.Products)}).Info("shop fixtures loaded")
	return nil
}

// loadProduct writes the product and its variants with consistent stock
// counters and flags. Products already in the store keep their live stock.
func (l *Loader) loadProduct(ctx context.Context, shop *models.Shop, p Product, now time.Time) error {
	if p.ID == "" {
		return errors.New("product id is required")
	}
	if _, err := l.store.Products.Get(ctx, p.ID); err == nil {
		l.logger.WithField("product_id", p.ID).Debug("product exists, skipping")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	product := &models.Product{
		ID:        p.ID,
		ShopID:    shop.ID,
		Type:      models.ProductTypeSimple,
		Ancestors: []string{},
		Title:     p.Title,
		Vendor:    p.Vendor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var variants []*models.Product
	for _, v := range p.Variants {
		variant := &models.Product{
			ID:                           v.ID,
			ShopID:                       shop.ID,
			Type:                         models.ProductTypeVariant,
			Ancestors:                    []string{product.ID},
			Title:                        v.Title,
			Vendor:                       p.Vendor,
			Price:                        v.Price,
			Taxable:                      v.Taxable,
			TaxCode:                      v.TaxCode,
			RequiresShipping:             v.RequiresShipping,
			Parcel:                       v.Parcel,
			InventoryManagement:          v.InventoryManagement,
			InventoryPolicy:              v.InventoryPolicy,
			LowInventoryWarningThreshold: v.LowInventoryWarningThreshold,
			InventoryQuantity:            v.InventoryQuantity,
			InventoryAvailableToSell:     v.InventoryQuantity,
			CreatedAt:                    now,
			UpdatedAt:                    now,
		}
		if variant.ID == "" {
			return errors.Errorf("variant %q has no id", v.Title)
		}
		if variant.Parcel == nil && variant.RequiresShipping {
			parcel := *shop.DefaultParcelSize
			variant.Parcel = &parcel
		}
		variant.IsLowQuantity = services.IsLowQuantity([]*models.Product{variant})
		variant.IsSoldOut = services.IsSoldOut([]*models.Product{variant})
		product.InventoryQuantity += variant.InventoryQuantity
		product.InventoryAvailableToSell += variant.InventoryAvailableToSell
		if product.Price.IsZero() || variant.Price.LessThan(product.Price) {
			product.Price = variant.Price
		}
		variants = append(variants, variant)
	}
	product.IsLowQuantity = services.IsLowQuantity(variants)
	product.IsSoldOut = services.IsSoldOut(variants)

	for _, doc := range append([]*models.Product{product}, variants...) {
		if err := l.store.Products.Upsert(ctx, doc); err != nil {
			return errors.Wrap(err, "upsert product")
		}
	}
	return nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product types.
const (
	ProductTypeSimple  = "simple"
	ProductTypeVariant = "variant"
)

// Parcel describes the shipping dimensions of an item, in the owning shop's units.
type Parcel struct {
	Weight float64 `bson:"weight" json:"weight"`
	Length float64 `bson:"length" json:"length"`
	Width  float64 `bson:"width" json:"width"`
	Height float64 `bson:"height" json:"height"`
}

// Product is either a top-level product or a variant. Variants list their
// parent chain in Ancestors, closest-to-root first.
type Product struct {
	ID                           string          `bson:"_id" json:"id"`
	ShopID                       string          `bson:"shop_id" json:"shop_id"`
	Type                         string          `bson:"type" json:"type"`
	Ancestors                    []string        `bson:"ancestors" json:"ancestors"`
	Title                        string          `bson:"title" json:"title"`
	Vendor                       string          `bson:"vendor,omitempty" json:"vendor,omitempty"`
	Price                        decimal.Decimal `bson:"price" json:"price"`
	Taxable                      bool            `bson:"taxable" json:"taxable"`
	TaxCode                      string          `bson:"tax_code,omitempty" json:"tax_code,omitempty"`
	RequiresShipping             bool            `bson:"requires_shipping" json:"requires_shipping"`
	Parcel                       *Parcel         `bson:"parcel,omitempty" json:"parcel,omitempty"`
	InventoryManagement          bool            `bson:"inventory_management" json:"inventory_management"`
	InventoryPolicy              bool            `bson:"inventory_policy" json:"inventory_policy"`
	LowInventoryWarningThreshold int             `bson:"low_inventory_warning_threshold" json:"low_inventory_warning_threshold"`
	InventoryQuantity            int             `bson:"inventory_quantity" json:"inventory_quantity"`
	InventoryAvailableToSell     int             `bson:"inventory_available_to_sell" json:"inventory_available_to_sell"`
	IsLowQuantity                bool            `bson:"is_low_quantity" json:"is_low_quantity"`
	IsSoldOut                    bool            `bson:"is_sold_out" json:"is_sold_out"`
	IsDeleted                    bool            `bson:"is_deleted" json:"is_deleted"`
	CreatedAt                    time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt                    time.Time       `bson:"updated_at" json:"updated_at"`
	Version                      int             `bson:"version" json:"version"`
}

// IsVariant reports whether p is a variant.
func (p *Product) IsVariant() bool {
	return p.Type == ProductTypeVariant
}

// RootID returns the top-level product id for a variant, or p's own id.
func (p *Product) RootID() string {
	if len(p.Ancestors) > 0 {
		return p.Ancestors[0]
	}
	return p.ID
}

// DeniesBackorder reports whether sales must stop when available stock runs out.
func (p *Product) DeniesBackorder() bool {
	return p.InventoryManagement && p.InventoryPolicy
}

// InventoryDelta is a signed change applied to a variant and its ancestors.
type InventoryDelta struct {
	Quantity        int
	AvailableToSell int
}

// Negate returns the opposite delta.
func (d InventoryDelta) Negate() InventoryDelta {
	return InventoryDelta{Quantity: -d.Quantity, AvailableToSell: -d.AvailableToSell}
}

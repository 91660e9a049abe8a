package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is a variant snapshot in a cart. Price and tax data are fixed
// when the item is added.
type CartItem struct {
	ID               string          `bson:"id" json:"id"`
	ShopID           string          `bson:"shop_id" json:"shop_id"`
	ProductID        string          `bson:"product_id" json:"product_id"`
	VariantID        string          `bson:"variant_id" json:"variant_id"`
	Title            string          `bson:"title" json:"title"`
	VariantTitle     string          `bson:"variant_title" json:"variant_title"`
	Vendor           string          `bson:"vendor,omitempty" json:"vendor,omitempty"`
	Quantity         int             `bson:"quantity" json:"quantity"`
	Price            decimal.Decimal `bson:"price" json:"price"`
	Taxable          bool            `bson:"taxable" json:"taxable"`
	TaxCode          string          `bson:"tax_code,omitempty" json:"tax_code,omitempty"`
	TaxRate          decimal.Decimal `bson:"tax_rate" json:"tax_rate"`
	Tax              decimal.Decimal `bson:"tax" json:"tax"`
	Parcel           *Parcel         `bson:"parcel,omitempty" json:"parcel,omitempty"`
	RequiresShipping bool            `bson:"requires_shipping" json:"requires_shipping"`
}

// LineTotal is price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart represents a shopper's in-progress order.
type Cart struct {
	ID        string           `bson:"_id" json:"id"`
	ShopID    string           `bson:"shop_id" json:"shop_id"`
	UserID    string           `bson:"user_id" json:"user_id"`
	SessionID string           `bson:"session_id,omitempty" json:"session_id,omitempty"`
	Email     string           `bson:"email,omitempty" json:"email,omitempty"`
	Items     []CartItem       `bson:"items" json:"items"`
	Shipping  []ShippingRecord `bson:"shipping" json:"shipping"`
	Billing   []BillingRecord  `bson:"billing" json:"billing"`
	Workflow  Workflow         `bson:"workflow" json:"workflow"`
	CreatedAt time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time        `bson:"updated_at" json:"updated_at"`
	Version   int              `bson:"version" json:"version"`
}

// FindItem returns the index of the item with the given id, or -1.
func (c *Cart) FindItem(itemID string) int {
	for i, item := range c.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// FindItemByVariant returns the index of the line for variantID, or -1.
func (c *Cart) FindItemByVariant(variantID string) int {
	for i, item := range c.Items {
		if item.VariantID == variantID {
			return i
		}
	}
	return -1
}

// ShopIDs returns the distinct shops of the cart's items, in item order.
func (c *Cart) ShopIDs() []string {
	return shopIDs(c.Items)
}

// ItemsByShop groups the cart's items by shop.
func (c *Cart) ItemsByShop() map[string][]CartItem {
	return itemsByShop(c.Items)
}

// Subtotal is the sum of every line total.
func (c *Cart) Subtotal() decimal.Decimal {
	return subtotal(c.Items)
}

// SubtotalByShop returns the subtotal of each shop's items.
func (c *Cart) SubtotalByShop() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for shopID, items := range c.ItemsByShop() {
		out[shopID] = subtotal(items)
	}
	return out
}

// ShippingFor returns the shipping record of shopID, or nil.
func (c *Cart) ShippingFor(shopID string) *ShippingRecord {
	for i := range c.Shipping {
		if c.Shipping[i].ShopID == shopID {
			return &c.Shipping[i]
		}
	}
	return nil
}

// BillingFor returns the billing record of shopID, or nil.
func (c *Cart) BillingFor(shopID string) *BillingRecord {
	for i := range c.Billing {
		if c.Billing[i].ShopID == shopID {
			return &c.Billing[i]
		}
	}
	return nil
}

func shopIDs(items []CartItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		if !seen[item.ShopID] {
			seen[item.ShopID] = true
			out = append(out, item.ShopID)
		}
	}
	return out
}

func itemsByShop(items []CartItem) map[string][]CartItem {
	out := make(map[string][]CartItem)
	for _, item := range items {
		out[item.ShopID] = append(out[item.ShopID], item)
	}
	return out
}

func subtotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func taxes(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Tax)
	}
	return total
}

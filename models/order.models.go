package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Export statuses.
const (
	ExportSuccess = "success"
	ExportFailed  = "failed"
)

// OrderItem is a cart item frozen into an order, with its own workflow.
type OrderItem struct {
	CartItem `bson:",inline"`
	Workflow Workflow `bson:"workflow" json:"workflow"`
}

// ExportRecord logs one attempt to push an order to an external system.
type ExportRecord struct {
	Status                string    `bson:"status" json:"status"`
	DateAttempted         time.Time `bson:"date_attempted" json:"date_attempted"`
	ExportMethod          string    `bson:"export_method" json:"export_method"`
	DestinationIdentifier string    `bson:"destination_identifier,omitempty" json:"destination_identifier,omitempty"`
	ShopID                string    `bson:"shop_id" json:"shop_id"`
}

// Order is created by copying a cart at checkout completion.
type Order struct {
	ID            string           `bson:"_id" json:"id"`
	CartID        string           `bson:"cart_id" json:"cart_id"`
	ShopID        string           `bson:"shop_id" json:"shop_id"`
	UserID        string           `bson:"user_id" json:"user_id"`
	SessionID     string           `bson:"session_id,omitempty" json:"session_id,omitempty"`
	Email         string           `bson:"email" json:"email"`
	Items         []OrderItem      `bson:"items" json:"items"`
	Shipping      []ShippingRecord `bson:"shipping" json:"shipping"`
	Billing       []BillingRecord  `bson:"billing" json:"billing"`
	Workflow      Workflow         `bson:"workflow" json:"workflow"`
	ExportHistory []ExportRecord   `bson:"export_history" json:"export_history"`
	CreatedAt     time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `bson:"updated_at" json:"updated_at"`
	Version       int              `bson:"version" json:"version"`
}

// CartItems returns the order's items without their workflows.
func (o *Order) CartItems() []CartItem {
	out := make([]CartItem, 0, len(o.Items))
	for _, item := range o.Items {
		out = append(out, item.CartItem)
	}
	return out
}

// ItemsByShop groups the order's items by shop.
func (o *Order) ItemsByShop() map[string][]CartItem {
	return itemsByShop(o.CartItems())
}

// ShopIDs returns the distinct shops of the order, in item order.
func (o *Order) ShopIDs() []string {
	return shopIDs(o.CartItems())
}

// SubtotalByShop returns each shop's item subtotal.
func (o *Order) SubtotalByShop() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for shopID, items := range o.ItemsByShop() {
		out[shopID] = subtotal(items)
	}
	return out
}

// TaxesByShop returns each shop's tax total.
func (o *Order) TaxesByShop() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for shopID, items := range o.ItemsByShop() {
		out[shopID] = taxes(items)
	}
	return out
}

// ShippingByShop returns each shop's selected shipping cost.
func (o *Order) ShippingByShop() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, rec := range o.Shipping {
		if rec.ShipmentMethod != nil {
			out[rec.ShopID] = out[rec.ShopID].Add(rec.ShipmentMethod.Cost())
		}
	}
	return out
}

// DiscountsByShop returns each shop's discounts; discount rates are not
// offered, so every shop is zero.
func (o *Order) DiscountsByShop() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, shopID := range o.ShopIDs() {
		out[shopID] = decimal.Zero
	}
	return out
}

// TotalByShop is subtotal + shipping + taxes - discounts per shop.
func (o *Order) TotalByShop() map[string]decimal.Decimal {
	sub := o.SubtotalByShop()
	tax := o.TaxesByShop()
	ship := o.ShippingByShop()
	disc := o.DiscountsByShop()
	out := make(map[string]decimal.Decimal)
	for _, shopID := range o.ShopIDs() {
		out[shopID] = sub[shopID].Add(ship[shopID]).Add(tax[shopID]).Sub(disc[shopID])
	}
	return out
}

// PaymentStatus returns the status of the first billing payment, or "".
func (o *Order) PaymentStatus() string {
	for _, b := range o.Billing {
		if b.PaymentMethod != nil {
			return b.PaymentMethod.Status
		}
	}
	return ""
}

// IsApproved reports whether any payment moved past "created".
func (o *Order) IsApproved() bool {
	for _, b := range o.Billing {
		if b.PaymentMethod != nil && b.PaymentMethod.Status != PaymentCreated {
			return true
		}
	}
	return false
}

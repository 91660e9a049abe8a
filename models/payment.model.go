package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses.
const (
	PaymentCreated   = "created"
	PaymentApproved  = "approved"
	PaymentCompleted = "completed"
	PaymentVoided    = "voided"
	PaymentRefunded  = "refunded"
	PaymentFailed    = "failed"
)

// Payment modes.
const (
	ModeAuthorize = "authorize"
	ModeCapture   = "capture"
)

// PaymentMethod is the result of authorizing a payment with a processor.
type PaymentMethod struct {
	Processor     string          `bson:"processor" json:"processor"`
	Method        string          `bson:"method" json:"method"`
	Mode          string          `bson:"mode" json:"mode"`
	Status        string          `bson:"status" json:"status"`
	TransactionID string          `bson:"transaction_id" json:"transaction_id"`
	Amount        decimal.Decimal `bson:"amount" json:"amount"`
	Currency      string          `bson:"currency" json:"currency"`
	CardLast4     string          `bson:"card_last4,omitempty" json:"card_last4,omitempty"`
	CreatedAt     time.Time       `bson:"created_at" json:"created_at"`
}

// Invoice is the priced summary of a cart at payment time.
type Invoice struct {
	Subtotal   decimal.Decimal `bson:"subtotal" json:"subtotal"`
	Shipping   decimal.Decimal `bson:"shipping" json:"shipping"`
	Taxes      decimal.Decimal `bson:"taxes" json:"taxes"`
	Discounts  decimal.Decimal `bson:"discounts" json:"discounts"`
	Surcharges decimal.Decimal `bson:"surcharges" json:"surcharges"`
	Total      decimal.Decimal `bson:"total" json:"total"`
}

// BillingRecord is the billing side of one shop's part of a cart or order.
type BillingRecord struct {
	ID            string         `bson:"id" json:"id"`
	ShopID        string         `bson:"shop_id" json:"shop_id"`
	Address       *Address       `bson:"address,omitempty" json:"address,omitempty"`
	PaymentMethod *PaymentMethod `bson:"payment_method,omitempty" json:"payment_method,omitempty"`
	Invoice       *Invoice       `bson:"invoice,omitempty" json:"invoice,omitempty"`
}

// ShippingRecord is the shipping side of one shop's part of a cart or order.
type ShippingRecord struct {
	ID             string           `bson:"id" json:"id"`
	ShopID         string           `bson:"shop_id" json:"shop_id"`
	Address        *Address         `bson:"address,omitempty" json:"address,omitempty"`
	ShipmentMethod *ShippingMethod  `bson:"shipment_method,omitempty" json:"shipment_method,omitempty"`
	ShipmentQuotes []ShippingMethod `bson:"shipment_quotes" json:"shipment_quotes"`
}

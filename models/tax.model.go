package models

import "github.com/shopspring/decimal"

// TaxRate is a custom rate, in percent, matched by country, region and postal code.
type TaxRate struct {
	ID      string          `bson:"_id" json:"id" yaml:"id"`
	ShopID  string          `bson:"shop_id" json:"shop_id" yaml:"shop_id"`
	Country string          `bson:"country" json:"country" yaml:"country"`
	Region  string          `bson:"region,omitempty" json:"region,omitempty" yaml:"region"`
	Postal  string          `bson:"postal,omitempty" json:"postal,omitempty" yaml:"postal"`
	TaxCode string          `bson:"tax_code,omitempty" json:"tax_code,omitempty" yaml:"tax_code"`
	Rate    decimal.Decimal `bson:"rate" json:"rate" yaml:"rate"`
}

// Surcharge is a shop-level fee with a translated message.
type Surcharge struct {
	ID       string            `bson:"_id" json:"id" yaml:"id"`
	ShopID   string            `bson:"shop_id" json:"shop_id" yaml:"shop_id"`
	Type     string            `bson:"type" json:"type" yaml:"type"`
	Amount   decimal.Decimal   `bson:"amount" json:"amount" yaml:"amount"`
	Message  map[string]string `bson:"message" json:"message" yaml:"message"`
	Language string            `bson:"-" json:"language,omitempty" yaml:"-"`
}

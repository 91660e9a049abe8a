package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tax providers.
const (
	TaxProviderCustom   = "custom"
	TaxProviderTaxCloud = "taxcloud"
	TaxProviderAvalara  = "avalara"
)

// ShippingMethod is a flat-rate shipping option offered by a shop.
type ShippingMethod struct {
	ID       string          `bson:"id" json:"id"`
	Name     string          `bson:"name" json:"name"`
	Label    string          `bson:"label" json:"label"`
	Carrier  string          `bson:"carrier" json:"carrier"`
	Rate     decimal.Decimal `bson:"rate" json:"rate"`
	Handling decimal.Decimal `bson:"handling" json:"handling"`
	Enabled  bool            `bson:"enabled" json:"enabled"`
}

// Cost is the rate plus handling.
func (m ShippingMethod) Cost() decimal.Decimal {
	return m.Rate.Add(m.Handling)
}

// SyncHook configures an outbound connector sync.
type SyncHook struct {
	Topic    string `bson:"topic" yaml:"topic" json:"topic"`
	Event    string `bson:"event" yaml:"event" json:"event"`
	SyncType string `bson:"sync_type" yaml:"sync_type" json:"sync_type"`
}

type TaxSettings struct {
	Provider string `bson:"provider" yaml:"provider" json:"provider"`
}

type TaxCloudSettings struct {
	Enabled    bool   `bson:"enabled" yaml:"enabled" json:"enabled"`
	APIKey     string `bson:"api_key" yaml:"api_key" json:"-"`
	APILoginID string `bson:"api_login_id" yaml:"api_login_id" json:"-"`
}

type AvalaraSettings struct {
	Enabled     bool   `bson:"enabled" yaml:"enabled" json:"enabled"`
	Username    string `bson:"username" yaml:"username" json:"-"`
	Password    string `bson:"password" yaml:"password" json:"-"`
	CompanyCode string `bson:"company_code" yaml:"company_code" json:"company_code"`
}

type ShopifySettings struct {
	Enabled   bool       `bson:"enabled" yaml:"enabled" json:"enabled"`
	APIKey    string     `bson:"api_key" yaml:"api_key" json:"-"`
	Password  string     `bson:"password" yaml:"password" json:"-"`
	ShopName  string     `bson:"shop_name" yaml:"shop_name" json:"shop_name"`
	SyncHooks []SyncHook `bson:"sync_hooks" yaml:"sync_hooks" json:"sync_hooks"`
}

// HasHook reports whether a sync hook matches topic, event and sync type.
func (s ShopifySettings) HasHook(topic, event, syncType string) bool {
	for _, h := range s.SyncHooks {
		if h.Topic == topic && h.Event == event && h.SyncType == syncType {
			return true
		}
	}
	return false
}

type AuthNetSettings struct {
	Enabled        bool   `bson:"enabled" yaml:"enabled" json:"enabled"`
	APIID          string `bson:"api_id" yaml:"api_id" json:"-"`
	TransactionKey string `bson:"transaction_key" yaml:"transaction_key" json:"-"`
	Live           bool   `bson:"live" yaml:"live" json:"live"`
}

type PaymentSettings struct {
	Processor string `bson:"processor" yaml:"processor" json:"processor"`
}

// ShopSettings replaces per-shop package settings.
type ShopSettings struct {
	Taxes    TaxSettings      `bson:"taxes" yaml:"taxes" json:"taxes"`
	TaxCloud TaxCloudSettings `bson:"taxcloud" yaml:"taxcloud" json:"taxcloud"`
	Avalara  AvalaraSettings  `bson:"avalara" yaml:"avalara" json:"avalara"`
	Shopify  ShopifySettings  `bson:"shopify" yaml:"shopify" json:"shopify"`
	AuthNet  AuthNetSettings  `bson:"authnet" yaml:"authnet" json:"authnet"`
	Payments PaymentSettings  `bson:"payments" yaml:"payments" json:"payments"`
}

// Shop is a storefront. BaseUOM and BaseUOL are the shop's weight and length units.
type Shop struct {
	ID                string           `bson:"_id" json:"id"`
	Name              string           `bson:"name" json:"name"`
	Slug              string           `bson:"slug" json:"slug"`
	Currency          string           `bson:"currency" json:"currency"`
	BaseUOM           string           `bson:"base_uom" json:"base_uom"`
	BaseUOL           string           `bson:"base_uol" json:"base_uol"`
	Primary           bool             `bson:"primary" json:"primary"`
	AddressBook       []Address        `bson:"address_book" json:"address_book"`
	DefaultParcelSize *Parcel          `bson:"default_parcel_size,omitempty" json:"default_parcel_size,omitempty"`
	ShippingMethods   []ShippingMethod `bson:"shipping_methods" json:"shipping_methods"`
	Settings          ShopSettings     `bson:"settings" json:"settings"`
	CreatedAt         time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `bson:"updated_at" json:"updated_at"`
	Version           int              `bson:"version" json:"version"`
}

// OriginAddress returns the shop's first address, if any.
func (s *Shop) OriginAddress() (Address, bool) {
	if len(s.AddressBook) == 0 {
		return Address{}, false
	}
	return s.AddressBook[0], true
}

// EnabledShippingMethods returns the methods a shopper may choose from.
func (s *Shop) EnabledShippingMethods() []ShippingMethod {
	var out []ShippingMethod
	for _, m := range s.ShippingMethods {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// TaxProvider returns the configured provider, defaulting to custom rates.
func (s *Shop) TaxProvider() string {
	switch s.Settings.Taxes.Provider {
	case TaxProviderTaxCloud:
		if s.Settings.TaxCloud.Enabled {
			return TaxProviderTaxCloud
		}
	case TaxProviderAvalara:
		if s.Settings.Avalara.Enabled {
			return TaxProviderAvalara
		}
	}
	return TaxProviderCustom
}

// Package shopify exports orders to Shopify stores.
package shopify

import (
	"context"
	"fmt"
	"strings"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors"
)

type Address struct {
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	Name         string `json:"name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
	Zip          string `json:"zip"`
	ProvinceCode string `json:"province_code"`
}

type Customer struct {
	AcceptsMarketing bool   `json:"accepts_marketing"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
}

type TaxLine struct {
	Title string  `json:"title"`
	Price string  `json:"price"`
	Rate  float64 `json:"rate"`
}

type LineItem struct {
	FulfillableQuantity int       `json:"fulfillable_quantity"`
	FulfillmentService  string    `json:"fulfillment_service"`
	Grams               float64   `json:"grams"`
	ID                  string    `json:"id"`
	ProductID           string    `json:"product_id"`
	Quantity            int       `json:"quantity"`
	RequiresShipping    bool      `json:"requires_shipping"`
	Title               string    `json:"title"`
	VariantID           string    `json:"variant_id"`
	VariantTitle        string    `json:"variant_title"`
	Vendor              string    `json:"vendor"`
	Taxable             bool      `json:"taxable"`
	Price               string    `json:"price"`
	TaxLines            []TaxLine `json:"tax_lines,omitempty"`
}

type Order struct {
	ID                  string     `json:"id,omitempty"`
	Token               string     `json:"token,omitempty"`
	Email               string     `json:"email"`
	Phone               string     `json:"phone,omitempty"`
	SourceName          string     `json:"source_name"`
	FinancialStatus     string     `json:"financial_status"`
	BillingAddress      *Address   `json:"billing_address,omitempty"`
	ShippingAddress     *Address   `json:"shipping_address,omitempty"`
	Customer            *Customer  `json:"customer,omitempty"`
	LineItems           []LineItem `json:"line_items"`
	SubtotalPrice       string     `json:"subtotal_price"`
	TotalDiscounts      string     `json:"total_discounts"`
	TotalLineItemsPrice string     `json:"total_line_items_price"`
	TotalPrice          string     `json:"total_price"`
	TotalTax            string     `json:"total_tax"`
	TotalWeight         float64    `json:"total_weight"`
}

// CreatedOrder is the part of Shopify's response we keep.
type CreatedOrder struct {
	ID int64 `json:"id"`
}

// Credentials is a private app's key and password for one store.
type Credentials struct {
	ShopName string
	APIKey   string
	Password string
}

type Client struct {
	http       *connectors.Client
	apiVersion string
	// BaseURL replaces https://<shop>.myshopify.com when set.
	BaseURL string
}

func New(http *connectors.Client, apiVersion string) *Client {
	return &Client{http: http, apiVersion: apiVersion}
}

func (c *Client) ordersURL(shopName string) string {
	base := fmt.Sprintf("https://%s.myshopify.com", shopName)
	if c.BaseURL != "" {
		base = strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("%s/admin/api/%s/orders.json", base, c.apiVersion)
}

// CreateOrder posts order to the store.
func (c *Client) CreateOrder(ctx context.Context, creds Credentials, order *Order) (*CreatedOrder, error) {
	if creds.ShopName == "" || creds.APIKey == "" || creds.Password == "" {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "Shopify credentials are not configured")
	}
	body := struct {
		Order *Order `json:"order"`
	}{order}
	var resp struct {
		Order CreatedOrder `json:"order"`
	}
	err := c.http.PostJSON(ctx, c.ordersURL(creds.ShopName), body, &resp,
		connectors.WithBasicAuth(creds.APIKey, creds.Password), connectors.WithoutRetry())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConnectorError, "Error exporting order to Shopify")
	}
	return &resp.Order, nil
}

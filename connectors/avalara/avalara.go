// Package avalara creates AvaTax sales-order transactions to price tax.
package avalara

import (
	"context"
	"strings"
	"time"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors"
)

const documentType = "SalesOrder"

type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	Region     string `json:"region"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

type Addresses struct {
	ShipFrom Address `json:"shipFrom"`
	ShipTo   Address `json:"shipTo"`
}

type Line struct {
	Number   string  `json:"number"`
	Quantity int     `json:"quantity"`
	Amount   float64 `json:"amount"`
	TaxCode  string  `json:"taxCode,omitempty"`
	ItemCode string  `json:"itemCode"`
}

type CreateTransactionRequest struct {
	Type         string    `json:"type"`
	CompanyCode  string    `json:"companyCode"`
	Date         string    `json:"date"`
	CustomerCode string    `json:"customerCode"`
	CurrencyCode string    `json:"currencyCode,omitempty"`
	Addresses    Addresses `json:"addresses"`
	Lines        []Line    `json:"lines"`
	Commit       bool      `json:"commit"`
}

type LineResult struct {
	LineNumber string  `json:"lineNumber"`
	Tax        float64 `json:"tax"`
}

type Transaction struct {
	Code     string       `json:"code"`
	TotalTax float64      `json:"totalTax"`
	Lines    []LineResult `json:"lines"`
}

// Credentials authenticate one shop's account.
type Credentials struct {
	Username string
	Password string
}

type Client struct {
	http    *connectors.Client
	baseURL string
	now     func() time.Time
}

func New(http *connectors.Client, baseURL string) *Client {
	return &Client{http: http, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// CreateTransaction prices req as an uncommitted sales order.
func (c *Client) CreateTransaction(ctx context.Context, creds Credentials, req CreateTransactionRequest) (*Transaction, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "Avalara credentials are not configured")
	}
	req.Type = documentType
	req.Commit = false
	if req.Date == "" {
		req.Date = c.now().UTC().Format("2006-01-02")
	}

	var tx Transaction
	err := c.http.PostJSON(ctx, c.baseURL+"/api/v2/transactions/create", req, &tx,
		connectors.WithBasicAuth(creds.Username, creds.Password))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConnectorError, "Error calling Avalara API")
	}
	return &tx, nil
}

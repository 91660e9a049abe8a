// Package taxcloud calls the TaxCloud Lookup API.
package taxcloud

import (
	"context"
	"regexp"
	"strings"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors"
)

// DefaultTIC is the TaxCloud code for general tangible goods.
const DefaultTIC = "00000"

// responseOK is the ResponseType of a successful lookup.
const responseOK = 3

var zipPattern = regexp.MustCompile(`(?:(\d{4})-?)?(\d{5})$`)

// ZipSplit extracts the ZIP+4 prefix and the five digit ZIP from postal.
func ZipSplit(postal string) (zip4, zip5 string) {
	m := zipPattern.FindStringSubmatch(strings.TrimSpace(postal))
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

type Address struct {
	Address1 string `json:"Address1"`
	City     string `json:"City"`
	State    string `json:"State"`
	Zip5     string `json:"Zip5"`
	Zip4     string `json:"Zip4,omitempty"`
}

type CartItem struct {
	Index  int     `json:"Index"`
	ItemID string  `json:"ItemID"`
	TIC    string  `json:"TIC"`
	Price  float64 `json:"Price"`
	Qty    int     `json:"Qty"`
}

type LookupRequest struct {
	APIKey            string     `json:"apiKey"`
	APILoginID        string     `json:"apiLoginID"`
	CustomerID        string     `json:"customerID"`
	CartID            string     `json:"cartID"`
	CartItems         []CartItem `json:"cartItems"`
	Origin            Address    `json:"origin"`
	Destination       Address    `json:"destination"`
	DeliveredBySeller bool       `json:"deliveredBySeller"`
}

type Message struct {
	Message      string `json:"Message"`
	ResponseType int    `json:"ResponseType"`
}

type CartItemResponse struct {
	CartItemIndex int     `json:"CartItemIndex"`
	TaxAmount     float64 `json:"TaxAmount"`
}

type LookupResponse struct {
	ResponseType      int                `json:"ResponseType"`
	Messages          []Message          `json:"Messages"`
	CartID            string             `json:"CartID"`
	CartItemsResponse []CartItemResponse `json:"CartItemsResponse"`
}

// Client is a TaxCloud API client.
type Client struct {
	http    *connectors.Client
	baseURL string
}

func New(http *connectors.Client, baseURL string) *Client {
	return &Client{http: http, baseURL: strings.TrimRight(baseURL, "/")}
}

// Lookup returns the tax of each cart item.
func (c *Client) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	var resp LookupResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/1.0/TaxCloud/Lookup", req, &resp); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConnectorError, "Error calling taxcloud API")
	}
	if resp.ResponseType != responseOK {
		msg := "Unable to access service. Check credentials."
		if len(resp.Messages) > 0 && resp.Messages[0].Message != "" {
			msg = resp.Messages[0].Message
		}
		return nil, apperr.New(apperr.CodeConnectorError, msg)
	}
	return &resp, nil
}

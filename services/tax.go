package services

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"reaction-commerce/apperr"
	"reaction-commerce/connectors/avalara"
	"reaction-commerce/connectors/taxcloud"
	"reaction-commerce/models"
	"reaction-commerce/store"
)

var hundred = decimal.NewFromInt(100)

// TaxService computes item taxes with each shop's provider. A failing
// connector falls back to the shop's custom rates.
type TaxService struct {
	store    *store.Store
	taxcloud *taxcloud.Client
	avalara  *avalara.Client
	logger   logrus.FieldLogger
	clock    clock
}

func NewTaxService(st *store.Store, tc *taxcloud.Client, av *avalara.Client, logger logrus.FieldLogger) *TaxService {
	return &TaxService{store: st, taxcloud: tc, avalara: av, logger: logger.WithField("service", "tax")}
}

// itemTax is the computed tax of one cart line.
type itemTax struct {
	rate decimal.Decimal
	tax  decimal.Decimal
}

// Calculate stores the tax of every cart item and returns the saved cart.
func (s *TaxService) Calculate(ctx context.Context, cartID string) (*models.Cart, error) {
	var cart *models.Cart
	err := store.RetryOnConflict(ctx, conflictAttempts, func() error {
		var err error
		if cart, err = s.store.Carts.Get(ctx, cartID); err != nil {
			return err
		}
		changed := false
		for shopID := range cart.ItemsByShop() {
			taxes, err := s.shopTaxes(ctx, cart, shopID)
			if err != nil {
				return err
			}
			for i := range cart.Items {
				item := &cart.Items[i]
				t, ok := taxes[item.ID]
				if !ok || (item.TaxRate.Equal(t.rate) && item.Tax.Equal(t.tax)) {
					continue
				}
				item.TaxRate, item.Tax = t.rate, t.tax
				changed = true
			}
		}
		if !changed {
			return nil
		}
		cart.UpdatedAt = s.clock.now()
		return s.store.Carts.Update(ctx, cart)
	})
	if err != nil {
		return nil, storeErr(err, "Cart")
	}
	return cart, nil
}

func (s *TaxService) shopTaxes(ctx context.Context, cart *models.Cart, shopID string) (map[string]itemTax, error) {
	shop, err := s.store.Shops.Get(ctx, shopID)
	if err != nil {
		return nil, storeErr(err, "Shop")
	}
	items := cart.ItemsByShop()[shopID]
	var dest *models.Address
	if rec := cart.ShippingFor(shopID); rec != nil {
		dest = rec.Address
	}

	log := s.logger.WithFields(logrus.Fields{"cart_id": cart.ID, "shop_id": shopID})
	provider := shop.TaxProvider()
	var taxes map[string]itemTax
	switch {
	case provider == models.TaxProviderTaxCloud && s.taxcloud != nil:
		taxes, err = s.taxCloud(ctx, cart, shop, items, dest)
	case provider == models.TaxProviderAvalara && s.avalara != nil:
		taxes, err = s.avaTax(ctx, cart, shop, items, dest)
	default:
		provider = models.TaxProviderCustom
	}
	if err != nil {
		log.WithError(err).WithField("connector", provider).Warn("tax connector failed, using custom rates")
		taxes = nil
	}
	if taxes == nil {
		return s.customTaxes(ctx, shopID, items, dest)
	}
	return taxes, nil
}

// customTaxes applies the shop's rate table: the most specific of postal,
// region and country matches wins.
func (s *TaxService) customTaxes(ctx context.Context, shopID string, items []models.CartItem, dest *models.Address) (map[string]itemTax, error) {
	out := make(map[string]itemTax, len(items))
	for _, item := range items {
		out[item.ID] = itemTax{rate: decimal.Zero, tax: decimal.Zero}
	}
	if dest == nil {
		return out, nil
	}
	rates, err := s.store.TaxRates.ListByShop(ctx, shopID)
	if err != nil {
		return nil, storeErr(err, "Tax rate")
	}
	for _, item := range items {
		if !item.Taxable {
			continue
		}
		r := MatchTaxRate(rates, *dest, item.TaxCode)
		if r == nil {
			continue
		}
		out[item.ID] = itemTax{
			rate: r.Rate,
			tax:  item.LineTotal().Mul(r.Rate).Div(hundred).Round(2),
		}
	}
	return out, nil
}

// MatchTaxRate returns the rate for addr: postal beats region beats country.
// Rates with a tax code only apply to items with that code.
func MatchTaxRate(rates []*models.TaxRate, addr models.Address, taxCode string) *models.TaxRate {
	var best *models.TaxRate
	bestScore := -1
	for _, r := range rates {
		if r.Country != "" && r.Country != addr.Country {
			continue
		}
		if r.TaxCode != "" && r.TaxCode != taxCode {
			continue
		}
		score := 0
		switch {
		case r.Postal != "":
			if r.Postal != addr.Postal {
				continue
			}
			score = 3
		case r.Region != "":
			if r.Region != addr.Region {
				continue
			}
			score = 2
		case r.Country != "":
			score = 1
		}
		if r.TaxCode != "" {
			score += 4
		}
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return best
}

func (s *TaxService) taxCloud(ctx context.Context, cart *models.Cart, shop *models.Shop, items []models.CartItem, dest *models.Address) (map[string]itemTax, error) {
	origin, ok := shop.OriginAddress()
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Shop has no address to ship from")
	}
	if dest == nil {
		return nil, nil
	}
	settings := shop.Settings.TaxCloud
	req := taxcloud.LookupRequest{
		APIKey:      settings.APIKey,
		APILoginID:  settings.APILoginID,
		CustomerID:  cart.UserID,
		CartID:      cart.ID,
		Origin:      taxCloudAddress(origin),
		Destination: taxCloudAddress(*dest),
	}
	for i, item := range items {
		tic := item.TaxCode
		if tic == "" {
			tic = taxcloud.DefaultTIC
		}
		price, _ := item.Price.Float64()
		req.CartItems = append(req.CartItems, taxcloud.CartItem{
			Index:  i,
			ItemID: item.VariantID,
			TIC:    tic,
			Price:  price,
			Qty:    item.Quantity,
		})
	}
	resp, err := s.taxcloud.Lookup(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(map[string]itemTax, len(items))
	for _, r := range resp.CartItemsResponse {
		if r.CartItemIndex < 0 || r.CartItemIndex >= len(items) {
			return nil, errors.Errorf("taxcloud returned unknown cart item index %d", r.CartItemIndex)
		}
		item := items[r.CartItemIndex]
		out[item.ID] = newItemTax(item, decimal.NewFromFloat(r.TaxAmount))
	}
	return out, nil
}

func taxCloudAddress(a models.Address) taxcloud.Address {
	zip4, zip5 := taxcloud.ZipSplit(a.Postal)
	return taxcloud.Address{Address1: a.Address1, City: a.City, State: a.Region, Zip5: zip5, Zip4: zip4}
}

func (s *TaxService) avaTax(ctx context.Context, cart *models.Cart, shop *models.Shop, items []models.CartItem, dest *models.Address) (map[string]itemTax, error) {
	origin, ok := shop.OriginAddress()
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidParameter, "Shop has no address to ship from")
	}
	if dest == nil {
		return nil, nil
	}
	settings := shop.Settings.Avalara
	req := avalara.CreateTransactionRequest{
		CompanyCode:  settings.CompanyCode,
		CustomerCode: cart.UserID,
		CurrencyCode: shop.Currency,
		Addresses: avalara.Addresses{
			ShipFrom: avalaraAddress(origin),
			ShipTo:   avalaraAddress(*dest),
		},
	}
	for i, item := range items {
		amount, _ := item.LineTotal().Float64()
		req.Lines = append(req.Lines, avalara.Line{
			Number:   strconv.Itoa(i + 1),
			Quantity: item.Quantity,
			Amount:   amount,
			TaxCode:  item.TaxCode,
			ItemCode: item.VariantID,
		})
	}
	tx, err := s.avalara.CreateTransaction(ctx, avalara.Credentials{Username: settings.Username, Password: settings.Password}, req)
	if err != nil {
		return nil, err
	}
	out := make(map[string]itemTax, len(items))
	for _, line := range tx.Lines {
		n, err := strconv.Atoi(line.LineNumber)
		if err != nil || n < 1 || n > len(items) {
			return nil, errors.Errorf("avalara returned unknown line %q", line.LineNumber)
		}
		item := items[n-1]
		out[item.ID] = newItemTax(item, decimal.NewFromFloat(line.Tax))
	}
	return out, nil
}

func avalaraAddress(a models.Address) avalara.Address {
	return avalara.Address{Line1: a.Address1, City: a.City, Region: a.Region, Country: a.Country, PostalCode: a.Postal}
}

// newItemTax derives the effective percent rate from a provider's amount.
func newItemTax(item models.CartItem, tax decimal.Decimal) itemTax {
	rate := decimal.Zero
	if total := item.LineTotal(); !total.IsZero() {
		rate = tax.Div(total).Mul(hundred).Round(4)
	}
	return itemTax{rate: rate, tax: tax.Round(2)}
}

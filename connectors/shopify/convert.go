package shopify

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"reaction-commerce/models"
	"reaction-commerce/units"
)

const sourceName = "reaction_export"

// ConvertOrder builds the Shopify order for the shop billed at
// order.Billing[index].
func ConvertOrder(order *models.Order, index int, shop *models.Shop) (*Order, error) {
	if index < 0 || index >= len(order.Billing) {
		return nil, errors.Errorf("order %s has no billing record %d", order.ID, index)
	}
	billing := order.Billing[index]
	shopID := billing.ShopID

	out := &Order{
		ID:         order.ID,
		Token:      order.ID,
		Email:      order.Email,
		SourceName: sourceName,
	}
	if billing.Address != nil {
		out.BillingAddress = convertAddress(billing.Address)
		out.Phone = billing.Address.Phone
		out.Customer = convertCustomer(out.BillingAddress, order.Email)
	}
	for _, rec := range order.Shipping {
		if rec.ShopID == shopID && rec.Address != nil {
			out.ShippingAddress = convertAddress(rec.Address)
			break
		}
	}

	out.FinancialStatus = "paid"
	if pm := billing.PaymentMethod; pm != nil && pm.Method == "credit" && pm.Mode == models.ModeAuthorize {
		out.FinancialStatus = "authorized"
	}

	items := order.ItemsByShop()[shopID]
	lineTotal := decimal.Zero
	for _, item := range items {
		li := convertLineItem(item, shop.BaseUOM)
		out.LineItems = append(out.LineItems, li)
		out.TotalWeight += li.Grams * float64(li.Quantity)
		lineTotal = lineTotal.Add(item.LineTotal())
	}

	out.SubtotalPrice = order.SubtotalByShop()[shopID].StringFixed(2)
	out.TotalDiscounts = order.DiscountsByShop()[shopID].StringFixed(2)
	out.TotalLineItemsPrice = lineTotal.StringFixed(2)
	out.TotalPrice = order.TotalByShop()[shopID].StringFixed(2)
	out.TotalTax = order.TaxesByShop()[shopID].StringFixed(2)
	return out, nil
}

func convertLineItem(item models.CartItem, baseUOM string) LineItem {
	li := LineItem{
		FulfillableQuantity: item.Quantity,
		FulfillmentService:  "manual",
		ID:                  item.ID,
		ProductID:           item.ProductID,
		Quantity:            item.Quantity,
		RequiresShipping:    item.RequiresShipping,
		Title:               item.Title,
		VariantID:           item.VariantID,
		VariantTitle:        item.VariantTitle,
		Vendor:              item.Vendor,
		Taxable:             item.Taxable,
		Price:               item.Price.StringFixed(2),
	}
	if item.Parcel != nil && item.Parcel.Weight > 0 {
		li.Grams = units.NormalizeWeightToGrams(baseUOM, item.Parcel.Weight)
	}
	if item.Taxable && !item.TaxRate.IsZero() {
		title := item.TaxCode
		if title == "" {
			title = "Tax"
		}
		rate := item.TaxRate.Div(decimal.NewFromInt(100))
		li.TaxLines = []TaxLine{{
			Title: title,
			Price: item.Tax.StringFixed(2),
			Rate:  rate.InexactFloat64(),
		}}
	}
	return li
}

func convertAddress(a *models.Address) *Address {
	first, last := a.FullName, ""
	if i := strings.Index(a.FullName, " "); i >= 0 {
		first, last = a.FullName[:i], a.FullName[i+1:]
	}
	return &Address{
		Address1:     a.Address1,
		Address2:     a.Address2,
		City:         a.City,
		Country:      a.Country,
		CountryCode:  a.Country,
		Name:         a.FullName,
		FirstName:    first,
		LastName:     last,
		Phone:        a.Phone,
		Zip:          a.Postal,
		ProvinceCode: a.Region,
	}
}

func convertCustomer(a *Address, email string) *Customer {
	phone := a.Phone
	if a.CountryCode == "US" && phone != "" {
		phone = "+1" + phone
	}
	return &Customer{
		Email:     email,
		Phone:     phone,
		FirstName: a.FirstName,
		LastName:  a.LastName,
	}
}

package models

import "github.com/google/uuid"

// NewID returns a new document id.
func NewID() string {
	return uuid.NewString()
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func cloneParcel(p *Parcel) *Parcel {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneAddress(a *Address) *Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Clone returns a deep copy of w.
func (w Workflow) Clone() Workflow {
	return Workflow{Status: w.Status, Workflow: cloneStrings(w.Workflow)}
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.AddressBook != nil {
		c.AddressBook = append([]Address{}, u.AddressBook...)
	}
	return &c
}

// Clone returns a deep copy of p.
func (p *Product) Clone() *Product {
	c := *p
	c.Ancestors = cloneStrings(p.Ancestors)
	c.Parcel = cloneParcel(p.Parcel)
	return &c
}

// Clone returns a deep copy of s.
func (s *Shop) Clone() *Shop {
	c := *s
	if s.AddressBook != nil {
		c.AddressBook = append([]Address{}, s.AddressBook...)
	}
	if s.ShippingMethods != nil {
		c.ShippingMethods = append([]ShippingMethod{}, s.ShippingMethods...)
	}
	if s.Settings.Shopify.SyncHooks != nil {
		c.Settings.Shopify.SyncHooks = append([]SyncHook{}, s.Settings.Shopify.SyncHooks...)
	}
	c.DefaultParcelSize = cloneParcel(s.DefaultParcelSize)
	return &c
}

func (i CartItem) clone() CartItem {
	i.Parcel = cloneParcel(i.Parcel)
	return i
}

func (r ShippingRecord) clone() ShippingRecord {
	r.Address = cloneAddress(r.Address)
	if r.ShipmentMethod != nil {
		m := *r.ShipmentMethod
		r.ShipmentMethod = &m
	}
	if r.ShipmentQuotes != nil {
		r.ShipmentQuotes = append([]ShippingMethod{}, r.ShipmentQuotes...)
	}
	return r
}

func (r BillingRecord) clone() BillingRecord {
	r.Address = cloneAddress(r.Address)
	if r.PaymentMethod != nil {
		m := *r.PaymentMethod
		r.PaymentMethod = &m
	}
	if r.Invoice != nil {
		inv := *r.Invoice
		r.Invoice = &inv
	}
	return r
}

func cloneShipping(in []ShippingRecord) []ShippingRecord {
	if in == nil {
		return nil
	}
	out := make([]ShippingRecord, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}

func cloneBilling(in []BillingRecord) []BillingRecord {
	if in == nil {
		return nil
	}
	out := make([]BillingRecord, len(in))
	for i, r := range in {
		out[i] = r.clone()
	}
	return out
}

// Clone returns a deep copy of c.
func (c *Cart) Clone() *Cart {
	out := *c
	if c.Items != nil {
		out.Items = make([]CartItem, len(c.Items))
		for i, item := range c.Items {
			out.Items[i] = item.clone()
		}
	}
	out.Shipping = cloneShipping(c.Shipping)
	out.Billing = cloneBilling(c.Billing)
	out.Workflow = c.Workflow.Clone()
	return &out
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	out := *o
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			out.Items[i] = OrderItem{CartItem: item.CartItem.clone(), Workflow: item.Workflow.Clone()}
		}
	}
	out.Shipping = cloneShipping(o.Shipping)
	out.Billing = cloneBilling(o.Billing)
	out.Workflow = o.Workflow.Clone()
	if o.ExportHistory != nil {
		out.ExportHistory = append([]ExportRecord{}, o.ExportHistory...)
	}
	return &out
}

// Clone returns a copy of r.
func (r *Reservation) Clone() *Reservation {
	c := *r
	return &c
}

// Clone returns a deep copy of s.
func (s *Surcharge) Clone() *Surcharge {
	c := *s
	if s.Message != nil {
		c.Message = make(map[string]string, len(s.Message))
		for k, v := range s.Message {
			c.Message[k] = v
		}
	}
	return &c
}

// Clone returns a deep copy of sc.
func (sc *ServiceConfiguration) Clone() *ServiceConfiguration {
	c := *sc
	if sc.Fields != nil {
		c.Fields = make(map[string]string, len(sc.Fields))
		for k, v := range sc.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

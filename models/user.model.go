package models

import "time"

// Roles.
const (
	RoleAdmin     = "admin"
	RoleCustomer  = "customer"
	RoleAnonymous = "anonymous"
)

// Address is an address book entry used for shipping, billing and shop origin.
type Address struct {
	ID                string `bson:"id" json:"id"`
	FullName          string `bson:"full_name" json:"full_name" validate:"required"`
	Address1          string `bson:"address1" json:"address1" validate:"required"`
	Address2          string `bson:"address2,omitempty" json:"address2,omitempty"`
	City              string `bson:"city" json:"city" validate:"required"`
	Region            string `bson:"region" json:"region"`
	Postal            string `bson:"postal" json:"postal" validate:"required"`
	Country           string `bson:"country" json:"country" validate:"required,len=2"`
	Phone             string `bson:"phone" json:"phone"`
	IsCommercial      bool   `bson:"is_commercial" json:"is_commercial"`
	IsShippingDefault bool   `bson:"is_shipping_default" json:"is_shipping_default"`
	IsBillingDefault  bool   `bson:"is_billing_default" json:"is_billing_default"`
}

// User is an account. Anonymous users exist only to own a session cart.
type User struct {
	ID                string    `bson:"_id" json:"id"`
	ShopID            string    `bson:"shop_id" json:"shop_id"`
	Name              string    `bson:"name" json:"name"`
	Email             string    `bson:"email,omitempty" json:"email,omitempty"`
	Password          string    `bson:"password,omitempty" json:"-"`
	AddressBook       []Address `bson:"address_book" json:"address_book"`
	Role              string    `bson:"role" json:"role"`
	SessionID         string    `bson:"session_id,omitempty" json:"-"`
	IsVerified        bool      `bson:"is_verified" json:"is_verified"`
	VerificationToken string    `bson:"verification_token,omitempty" json:"-"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
	Version           int       `bson:"version" json:"version"`
}

// IsAnonymous reports whether the user is a guest session owner.
func (u *User) IsAnonymous() bool {
	return u.Role == RoleAnonymous
}

// ServiceConfiguration holds third-party login service settings.
type ServiceConfiguration struct {
	Service string            `bson:"_id" json:"service"`
	Fields  map[string]string `bson:"fields" json:"fields"`
}

package models

import "time"

// ReservationStatus tracks a stock reservation through its life.
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation holds stock for one cart line until checkout or expiry.
type Reservation struct {
	ID         string            `bson:"_id" json:"id"`
	ShopID     string            `bson:"shop_id" json:"shop_id"`
	CartID     string            `bson:"cart_id" json:"cart_id"`
	CartItemID string            `bson:"cart_item_id" json:"cart_item_id"`
	ProductID  string            `bson:"product_id" json:"product_id"`
	VariantID  string            `bson:"variant_id" json:"variant_id"`
	Quantity   int               `bson:"quantity" json:"quantity"`
	Guarded    bool              `bson:"guarded" json:"guarded"`
	Status     ReservationStatus `bson:"status" json:"status"`
	OrderID    string            `bson:"order_id,omitempty" json:"order_id,omitempty"`
	ExpiresAt  time.Time         `bson:"expires_at" json:"expires_at"`
	CreatedAt  time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `bson:"updated_at" json:"updated_at"`
	Version    int               `bson:"version" json:"version"`
}

// IsActive reports whether the reservation still holds stock for a cart.
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationReserved
}

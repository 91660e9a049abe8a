// Package store declares the repositories the services persist through.
// Every Update is a compare-and-swap on the document's Version: it succeeds
// only when the stored version equals the caller's, writes Version+1 and
// bumps the caller's copy.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"reaction-commerce/models"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrConflict          = errors.New("document was modified concurrently")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("duplicate key")
)

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id string) error
}

type ShopStore interface {
	Upsert(ctx context.Context, s *models.Shop) error
	Get(ctx context.Context, id string) (*models.Shop, error)
	GetBySlug(ctx context.Context, slug string) (*models.Shop, error)
	GetPrimary(ctx context.Context) (*models.Shop, error)
	List(ctx context.Context) ([]*models.Shop, error)
}

// ProductFilter narrows product listings. Zero values match everything
// except deleted products.
type ProductFilter struct {
	ShopID         string
	Type           string
	IncludeDeleted bool
}

type ProductStore interface {
	Create(ctx context.Context, p *models.Product) error
	Upsert(ctx context.Context, p *models.Product) error
	Get(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context, f ProductFilter) ([]*models.Product, error)
	// Variants returns every non-deleted descendant of productID.
	Variants(ctx context.Context, productID string) ([]*models.Product, error)
	Update(ctx context.Context, p *models.Product) error
	// AdjustInventory atomically adds delta to the variant's counters and then
	// to each of its ancestors. With guard the variant is only updated while
	// its available count stays at or above zero; otherwise
	// ErrInsufficientStock is returned and nothing changes.
	AdjustInventory(ctx context.Context, variantID string, delta models.InventoryDelta, guard bool) (*models.Product, error)
}

type CartStore interface {
	Create(ctx context.Context, c *models.Cart) error
	Get(ctx context.Context, id string) (*models.Cart, error)
	GetByUser(ctx context.Context, userID string) (*models.Cart, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Cart, error)
	Update(ctx context.Context, c *models.Cart) error
	Delete(ctx context.Context, id string) error
}

type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	GetByCart(ctx context.Context, cartID string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Order, error)
	ListAll(ctx context.Context) ([]*models.Order, error)
	Update(ctx context.Context, o *models.Order) error
}

type ReservationStore interface {
	Create(ctx context.Context, r *models.Reservation) error
	FindActiveByCartItem(ctx context.Context, cartItemID string) (*models.Reservation, error)
	FindByCart(ctx context.Context, cartID string) ([]*models.Reservation, error)
	FindActiveByVariant(ctx context.Context, variantID string) ([]*models.Reservation, error)
	FindExpired(ctx context.Context, before time.Time, limit int) ([]*models.Reservation, error)
	Update(ctx context.Context, r *models.Reservation) error
}

type TaxRateStore interface {
	Upsert(ctx context.Context, r *models.TaxRate) error
	ListByShop(ctx context.Context, shopID string) ([]*models.TaxRate, error)
}

type SurchargeStore interface {
	Upsert(ctx context.Context, s *models.Surcharge) error
	Get(ctx context.Context, shopID, id string) (*models.Surcharge, error)
}

type ServiceConfigStore interface {
	Upsert(ctx context.Context, c *models.ServiceConfiguration) error
	Get(ctx context.Context, service string) (*models.ServiceConfiguration, error)
}

// Store bundles every repository of one backend.
type Store struct {
	Users          UserStore
	Shops          ShopStore
	Products       ProductStore
	Carts          CartStore
	Orders         OrderStore
	Reservations   ReservationStore
	TaxRates       TaxRateStore
	Surcharges     SurchargeStore
	ServiceConfigs ServiceConfigStore

	// Close releases the backend's connections.
	Close func(ctx context.Context) error
}

// RetryOnConflict runs fn until it returns something other than
// ErrConflict, at most attempts times.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return errors.Wrapf(err, "gave up after %d attempts", attempts)
}

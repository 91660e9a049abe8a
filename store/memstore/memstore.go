// Package memstore is an in-memory store.Store. Documents are deep-copied on
// the way in and out, and every operation holds a single lock, so it has the
// same atomicity as the MongoDB store's single-document operators.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"reaction-commerce/models"
	"reaction-commerce/store"
)

type db struct {
	mu             sync.RWMutex
	users          map[string]*models.User
	shops          map[string]*models.Shop
	products       map[string]*models.Product
	carts          map[string]*models.Cart
	orders         map[string]*models.Order
	reservations   map[string]*models.Reservation
	taxRates       map[string]*models.TaxRate
	surcharges     map[string]*models.Surcharge
	serviceConfigs map[string]*models.ServiceConfiguration
}

// New returns an empty in-memory store.
func New() *store.Store {
	d := &db{
		users:          map[string]*models.User{},
		shops:          map[string]*models.Shop{},
		products:       map[string]*models.Product{},
		carts:          map[string]*models.Cart{},
		orders:         map[string]*models.Order{},
		reservations:   map[string]*models.Reservation{},
		taxRates:       map[string]*models.TaxRate{},
		surcharges:     map[string]*models.Surcharge{},
		serviceConfigs: map[string]*models.ServiceConfiguration{},
	}
	return &store.Store{
		Users:          &users{d},
		Shops:          &shops{d},
		Products:       &products{d},
		Carts:          &carts{d},
		Orders:         &orders{d},
		Reservations:   &reservations{d},
		TaxRates:       &taxRates{d},
		Surcharges:     &surcharges{d},
		ServiceConfigs: &serviceConfigs{d},
		Close:          func(context.Context) error { return nil },
	}
}

// cas checks the stored version against the caller's and bumps both.
func cas(stored, caller *int) error {
	if *stored != *caller {
		return store.ErrConflict
	}
	*caller++
	return nil
}

type users struct{ *db }

func (s *users) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	if u.Email != "" {
		for _, existing := range s.users {
			if existing.Email == u.Email {
				return store.ErrDuplicate
			}
		}
	}
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *users) Get(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *users) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return u.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return email != "" && u.Email == email })
}

func (s *users) GetByVerificationToken(_ context.Context, token string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return token != "" && u.VerificationToken == token })
}

func (s *users) Update(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := cas(&stored.Version, &u.Version); err != nil {
		return err
	}
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *users) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

type shops struct{ *db }

func (s *shops) Upsert(_ context.Context, shop *models.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.shops {
		if id != shop.ID && existing.Slug == shop.Slug {
			return store.ErrDuplicate
		}
	}
	s.shops[shop.ID] = shop.Clone()
	return nil
}

func (s *shops) Get(_ context.Context, id string) (*models.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shop, ok := s.shops[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return shop.Clone(), nil
}

func (s *shops) GetBySlug(_ context.Context, slug string) (*models.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, shop := range s.shops {
		if shop.Slug == slug {
			return shop.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *shops) GetPrimary(_ context.Context) (*models.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, shop := range s.shops {
		if shop.Primary {
			return shop.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *shops) List(_ context.Context) ([]*models.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Shop, 0, len(s.shops))
	for _, shop := range s.shops {
		out = append(out, shop.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

type products struct{ *db }

func (s *products) Create(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return store.ErrDuplicate
	}
	s.products[p.ID] = p.Clone()
	return nil
}

func (s *products) Upsert(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p.Clone()
	return nil
}

func (s *products) Get(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *products) List(_ context.Context, f store.ProductFilter) ([]*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Product
	for _, p := range s.products {
		if f.ShopID != "" && p.ShopID != f.ShopID {
			continue
		}
		if f.Type != "" && p.Type != f.Type {
			continue
		}
		if p.IsDeleted && !f.IncludeDeleted {
			continue
		}
		out = append(out, p.Clone())
	}
	sortProducts(out)
	return out, nil
}

func (s *products) Variants(_ context.Context, productID string) ([]*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Product
	for _, p := range s.products {
		if p.IsDeleted {
			continue
		}
		for _, a := range p.Ancestors {
			if a == productID {
				out = append(out, p.Clone())
				break
			}
		}
	}
	sortProducts(out)
	return out, nil
}

func sortProducts(ps []*models.Product) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func (s *products) Update(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.products[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := cas(&stored.Version, &p.Version); err != nil {
		return err
	}
	s.products[p.ID] = p.Clone()
	return nil
}

func (s *products) AdjustInventory(_ context.Context, variantID string, delta models.InventoryDelta, guard bool) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.products[variantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if guard && v.InventoryAvailableToSell+delta.AvailableToSell < 0 {
		return nil, store.ErrInsufficientStock
	}
	apply := func(p *models.Product) {
		p.InventoryQuantity += delta.Quantity
		p.InventoryAvailableToSell += delta.AvailableToSell
		p.Version++
	}
	apply(v)
	for _, id := range v.Ancestors {
		if a, ok := s.products[id]; ok {
			apply(a)
		}
	}
	return v.Clone(), nil
}

type carts struct{ *db }

func (s *carts) Create(_ context.Context, c *models.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[c.ID]; ok {
		return store.ErrDuplicate
	}
	s.carts[c.ID] = c.Clone()
	return nil
}

func (s *carts) Get(_ context.Context, id string) (*models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *carts) GetByUser(_ context.Context, userID string) (*models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Cart
	for _, c := range s.carts {
		if c.UserID == userID && (found == nil || c.CreatedAt.Before(found.CreatedAt)) {
			found = c
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found.Clone(), nil
}

func (s *carts) ListBySession(_ context.Context, sessionID string) ([]*models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Cart
	if sessionID == "" {
		return out, nil
	}
	for _, c := range s.carts {
		if c.SessionID == sessionID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *carts) Update(_ context.Context, c *models.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.carts[c.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := cas(&stored.Version, &c.Version); err != nil {
		return err
	}
	s.carts[c.ID] = c.Clone()
	return nil
}

func (s *carts) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.carts, id)
	return nil
}

type orders struct{ *db }

func (s *orders) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range s.orders {
		if o.CartID != "" && existing.CartID == o.CartID {
			return store.ErrDuplicate
		}
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *orders) Get(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *orders) GetByCart(_ context.Context, cartID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.CartID == cartID {
			return o.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *orders) list(match func(*models.Order) bool) []*models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Order{}
	for _, o := range s.orders {
		if match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *orders) ListByUser(_ context.Context, userID string) ([]*models.Order, error) {
	return s.list(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (s *orders) ListAll(_ context.Context) ([]*models.Order, error) {
	return s.list(func(*models.Order) bool { return true }), nil
}

func (s *orders) Update(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := cas(&stored.Version, &o.Version); err != nil {
		return err
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

type reservations struct{ *db }

func (s *reservations) Create(_ context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[r.ID]; ok {
		return store.ErrDuplicate
	}
	if r.IsActive() {
		for _, existing := range s.reservations {
			if existing.IsActive() && existing.CartItemID == r.CartItemID {
				return store.ErrDuplicate
			}
		}
	}
	s.reservations[r.ID] = r.Clone()
	return nil
}

func (s *reservations) FindActiveByCartItem(_ context.Context, cartItemID string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reservations {
		if r.CartItemID == cartItemID && r.IsActive() {
			return r.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *reservations) filter(match func(*models.Reservation) bool) []*models.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Reservation
	for _, r := range s.reservations {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *reservations) FindByCart(_ context.Context, cartID string) ([]*models.Reservation, error) {
	return s.filter(func(r *models.Reservation) bool { return r.CartID == cartID }), nil
}

func (s *reservations) FindActiveByVariant(_ context.Context, variantID string) ([]*models.Reservation, error) {
	return s.filter(func(r *models.Reservation) bool { return r.VariantID == variantID && r.IsActive() }), nil
}

func (s *reservations) FindExpired(_ context.Context, before time.Time, limit int) ([]*models.Reservation, error) {
	out := s.filter(func(r *models.Reservation) bool { return r.IsActive() && r.ExpiresAt.Before(before) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *reservations) Update(_ context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.reservations[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := cas(&stored.Version, &r.Version); err != nil {
		return err
	}
	s.reservations[r.ID] = r.Clone()
	return nil
}

type taxRates struct{ *db }

func (s *taxRates) Upsert(_ context.Context, r *models.TaxRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.taxRates[r.ID] = &c
	return nil
}

func (s *taxRates) ListByShop(_ context.Context, shopID string) ([]*models.TaxRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TaxRate
	for _, r := range s.taxRates {
		if r.ShopID == shopID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type surcharges struct{ *db }

func (s *surcharges) Upsert(_ context.Context, sc *models.Surcharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surcharges[sc.ID] = sc.Clone()
	return nil
}

func (s *surcharges) Get(_ context.Context, shopID, id string) (*models.Surcharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.surcharges[id]
	if !ok || sc.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	return sc.Clone(), nil
}

type serviceConfigs struct{ *db }

func (s *serviceConfigs) Upsert(_ context.Context, c *models.ServiceConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceConfigs[c.Service] = c.Clone()
	return nil
}

func (s *serviceConfigs) Get(_ context.Context, service string) (*models.ServiceConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.serviceConfigs[service]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

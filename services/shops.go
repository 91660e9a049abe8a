package services

import (
	"context"

	"reaction-commerce/models"
	"reaction-commerce/store"
)

// ShopService looks up shops.
type ShopService struct {
	store *store.Store
}

func NewShopService(st *store.Store) *ShopService {
	return &ShopService{store: st}
}

func (s *ShopService) Get(ctx context.Context, id string) (*models.Shop, error) {
	shop, err := s.store.Shops.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Shop")
	}
	return shop, nil
}

// GetBySlug returns the shop with slug, or a not-found error.
func (s *ShopService) GetBySlug(ctx context.Context, slug string) (*models.Shop, error) {
	shop, err := s.store.Shops.GetBySlug(ctx, slug)
	if err != nil {
		return nil, storeErr(err, "Shop")
	}
	return shop, nil
}

func (s *ShopService) Primary(ctx context.Context) (*models.Shop, error) {
	shop, err := s.store.Shops.GetPrimary(ctx)
	if err != nil {
		return nil, storeErr(err, "Shop")
	}
	return shop, nil
}

func (s *ShopService) List(ctx context.Context) ([]*models.Shop, error) {
	shops, err := s.store.Shops.List(ctx)
	return shops, storeErr(err, "Shop")
}

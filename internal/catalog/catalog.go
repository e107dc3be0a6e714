package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"basket-shop/internal/cart"
	"basket-shop/internal/models"
	"basket-shop/internal/redisclient"
	"basket-shop/internal/store"
	"basket-shop/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds a shared catalog load once no caller is waiting on it
const loadTimeout = 10 * time.Second

var (
	ErrProductNotFound = errors.New("product not found")
	ErrUnavailable     = errors.New("product unavailable")
)

// Store is the read side of the catalog tables
type Store interface {
	ListAvailableBaskets(ctx context.Context) ([]models.Basket, error)
	ListFeaturedBaskets(ctx context.Context) ([]models.Basket, error)
	GetBasketByID(ctx context.Context, id string) (*models.Basket, error)
	GetBasketBySlug(ctx context.Context, slug string) (*models.Basket, error)
	GetBasketItems(ctx context.Context, basketID string) ([]models.BasketItem, error)
	ListProduce(ctx context.Context) ([]models.ProduceItem, error)
}

// Cache holds serialized listings
type Cache interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// BasketDetail is a basket with its contents
type BasketDetail struct {
	models.Basket
	Items []models.BasketItem `json:"items"`
}

// Service serves the catalog, caching listings in Redis
type Service struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewService creates a catalog service. cache may be nil.
func NewService(store Store, cache Cache, ttl time.Duration) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.Component("catalog"),
	}
}

// ListBaskets returns available baskets newest first
func (s *Service) ListBaskets(ctx context.Context) ([]models.Basket, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListBaskets")
	defer span.End()

	return cached(ctx, s, "catalog:baskets", s.store.ListAvailableBaskets)
}

// FeaturedBaskets returns the baskets shown on the home page
func (s *Service) FeaturedBaskets(ctx context.Context) ([]models.Basket, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.FeaturedBaskets")
	defer span.End()

	return cached(ctx, s, "catalog:baskets:featured", s.store.ListFeaturedBaskets)
}

// Produce returns the items selectable in a custom basket
func (s *Service) Produce(ctx context.Context) ([]models.ProduceItem, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Produce")
	defer span.End()

	return cached(ctx, s, "catalog:produce", s.store.ListProduce)
}

// BasketBySlug returns a basket and its contents
func (s *Service) BasketBySlug(ctx context.Context, slug string) (*BasketDetail, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.BasketBySlug")
	defer span.End()

	return cached(ctx, s, "catalog:basket:"+slug, func(ctx context.Context) (*BasketDetail, error) {
		basket, err := s.store.GetBasketBySlug(ctx, slug)
		if errors.Is(err, store.ErrBasketNotFound) {
			return nil, ErrProductNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get basket: %w", err)
		}

		items, err := s.store.GetBasketItems(ctx, basket.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get basket items: %w", err)
		}
		return &BasketDetail{Basket: *basket, Items: items}, nil
	})
}

// ProductRef resolves the product a cart line is created from. Baskets must
// still be available; produce is looked up in the cached produce list.
func (s *Service) ProductRef(ctx context.Context, kind cart.Kind, id string) (cart.ProductRef, error) {
	switch kind {
	case cart.KindBasket:
		if _, err := uuid.Parse(id); err != nil {
			return cart.ProductRef{}, ErrProductNotFound
		}
		basket, err := s.store.GetBasketByID(ctx, id)
		if errors.Is(err, store.ErrBasketNotFound) {
			return cart.ProductRef{}, ErrProductNotFound
		}
		if err != nil {
			return cart.ProductRef{}, fmt.Errorf("failed to get basket: %w", err)
		}
		if !basket.Available {
			return cart.ProductRef{}, ErrUnavailable
		}
		return cart.ProductRef{ID: basket.ID, Name: basket.Name, Price: basket.Price, ImageURL: basket.Image()}, nil

	case cart.KindCustom:
		produce, err := s.Produce(ctx)
		if err != nil {
			return cart.ProductRef{}, err
		}
		for _, p := range produce {
			if p.ID == id {
				return cart.ProductRef{ID: p.ID, Name: p.Name, Price: p.Price}, nil
			}
		}
		return cart.ProductRef{}, ErrProductNotFound
	}
	return cart.ProductRef{}, fmt.Errorf("unknown cart kind %q", kind)
}

// cached reads key from the cache or loads it, collapsing concurrent misses
// for the same key into one load. Cache failures are logged and bypassed.
// The shared load outlives any single caller; each caller still stops
// waiting when its own ctx ends.
func cached[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	detached := context.WithoutCancel(ctx)

	ch := s.group.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(detached, loadTimeout)
		defer cancel()
		var out T

		if s.cache != nil {
			raw, err := s.cache.GetString(ctx, key)
			switch {
			case err == nil:
				if jsonErr := json.Unmarshal([]byte(raw), &out); jsonErr == nil {
					util.CatalogCacheRequests.WithLabelValues("hit").Inc()
					return out, nil
				}
				s.logger.Warn("Ignoring undecodable cache entry", zap.String("key", key))
			case errors.Is(err, redisclient.ErrNotFound):
			default:
				util.CatalogCacheRequests.WithLabelValues("error").Inc()
				s.logger.Warn("Catalog cache read failed", zap.String("key", key), zap.Error(err))
			}
		}
		util.CatalogCacheRequests.WithLabelValues("miss").Inc()

		out, err := load(ctx)
		if err != nil {
			return out, err
		}

		if s.cache != nil {
			if raw, err := json.Marshal(out); err == nil {
				if err := s.cache.SetString(ctx, key, string(raw), s.ttl); err != nil {
					s.logger.Warn("Catalog cache write failed", zap.String("key", key), zap.Error(err))
				}
			}
		}
		return out, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/observability/metrics"
)

// DefaultPurchaseCacheTTL is how long a customer's purchase history is reused
const DefaultPurchaseCacheTTL = 15 * time.Minute

const purchaseKeyPrefix = "orders:recently_purchased:"

// sharedFetchTimeout bounds a fetch shared by concurrent callers, which
// outlives the request that started it
const sharedFetchTimeout = 30 * time.Second

// orderFanOut bounds concurrent order-products lookups per customer
const orderFanOut = 4

// KeyValueCache is the byte cache backing purchase history. Both the Redis
// client and the in-process cache satisfy it.
type KeyValueCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}

// PurchaseHistoryCache returns the products a customer has bought, cached per
// (store, customer). An empty answer served from cache is double-checked
// against the platform once before being returned.
type PurchaseHistoryCache struct {
	cache  KeyValueCache
	apis   domain.PlatformAPIFactory
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewPurchaseHistoryCache creates a purchase history cache. A zero ttl means
// DefaultPurchaseCacheTTL.
func NewPurchaseHistoryCache(cache KeyValueCache, apis domain.PlatformAPIFactory, ttl time.Duration, logger *slog.Logger) *PurchaseHistoryCache {
	if ttl <= 0 {
		ttl = DefaultPurchaseCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PurchaseHistoryCache{cache: cache, apis: apis, ttl: ttl, logger: logger}
}

// PurchaseCacheKey is the cache key for one customer of one store
func PurchaseCacheKey(storeHash, customerID string) string {
	return purchaseKeyPrefix + storeHash + ":" + customerID
}

// RecentlyPurchased returns the customer's purchased products in order of
// the orders they appear in. Duplicates are kept.
func (c *PurchaseHistoryCache) RecentlyPurchased(ctx context.Context, store *domain.Store, customerID string) ([]domain.Product, error) {
	key := PurchaseCacheKey(store.StoreHash, customerID)
	logger := c.logger.With(slog.String("store_id", store.ID))

	products, hit, err := c.cached(ctx, key)
	if err != nil {
		logger.Warn("purchase cache read failed", slog.String("error", err.Error()))
		metrics.ObservePurchaseCache("error")
	}
	if !hit {
		metrics.ObservePurchaseCache("miss")
		v, err, _ := c.group.Do(key, func() (any, error) {
			// followers must not inherit the first caller's cancellation
			shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
			defer cancel()
			fetched, err := c.fetch(shared, store, customerID)
			if err != nil {
				return nil, err
			}
			c.store(shared, key, fetched)
			return fetched, nil
		})
		if err != nil {
			return nil, err
		}
		products = v.([]domain.Product)
	} else {
		metrics.ObservePurchaseCache("hit")
	}

	if len(products) > 0 {
		return products, nil
	}

	// Empty: the platform may have had orders the cached answer predates.
	metrics.ObservePurchaseCache("bypass")
	fresh, err := c.fetch(ctx, store, customerID)
	if err != nil {
		return nil, err
	}
	if len(fresh) > 0 {
		c.store(ctx, key, fresh)
	}
	return fresh, nil
}

// InvalidateStore drops every cached purchase history of the store
func (c *PurchaseHistoryCache) InvalidateStore(ctx context.Context, storeHash string) error {
	return c.cache.Invalidate(ctx, purchaseKeyPrefix+storeHash+":")
}

func (c *PurchaseHistoryCache) cached(ctx context.Context, key string) ([]domain.Product, bool, error) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, false, fmt.Errorf("decode cached products: %w", err)
	}
	return products, true, nil
}

func (c *PurchaseHistoryCache) store(ctx context.Context, key string, products []domain.Product) {
	raw, err := json.Marshal(products)
	if err != nil {
		c.logger.Warn("failed to encode products", slog.String("error", err.Error()))
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("purchase cache write failed", slog.String("error", err.Error()))
	}
}

// fetch walks orders -> line items -> products on the platform
func (c *PurchaseHistoryCache) fetch(ctx context.Context, store *domain.Store, customerID string) ([]domain.Product, error) {
	api := c.apis.ForStore(store)

	orders, err := api.Orders(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	perOrder := make([][]domain.Product, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orderFanOut)
	for i, order := range orders {
		g.Go(func() error {
			items, err := api.OrderProducts(gctx, order.ID)
			if err != nil {
				return fmt.Errorf("list products of order %d: %w", order.ID, err)
			}
			for _, item := range items {
				product, err := api.Product(gctx, item.ProductID)
				if errors.Is(err, domain.ErrNotFound) {
					// product deleted from the catalog since the order
					continue
				}
				if err != nil {
					return fmt.Errorf("get product %d: %w", item.ProductID, err)
				}
				perOrder[i] = append(perOrder[i], *product)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0)
	for _, p := range perOrder {
		products = append(products, p...)
	}
	return products, nil
}

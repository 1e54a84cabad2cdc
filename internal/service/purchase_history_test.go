package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/pkg/cache"
)

type fakePlatform struct {
	mu          sync.Mutex
	orders      []domain.Order
	lines       map[int64][]domain.OrderProduct
	products    map[int64]domain.Product
	ordersErr   error
	ordersCalls atomic.Int32

	// when set, Orders signals entered and waits for gate
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakePlatform) ForStore(*domain.Store) domain.PlatformAPI { return f }

func (f *fakePlatform) Time(context.Context) (map[string]any, error) {
	return map[string]any{"time": 1}, nil
}

func (f *fakePlatform) Products(context.Context) ([]domain.Product, error) { return nil, nil }

func (f *fakePlatform) Orders(ctx context.Context, _ string) ([]domain.Order, error) {
	f.ordersCalls.Add(1)
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return append([]domain.Order(nil), f.orders...), nil
}

func (f *fakePlatform) OrderProducts(_ context.Context, orderID int64) ([]domain.OrderProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines[orderID], nil
}

func (f *fakePlatform) Product(_ context.Context, id int64) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (f *fakePlatform) setOrders(orders []domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		orders: []domain.Order{{ID: 1}, {ID: 2}},
		lines: map[int64][]domain.OrderProduct{
			1: {{OrderID: 1, ProductID: 10}, {OrderID: 1, ProductID: 99}},
			2: {{OrderID: 2, ProductID: 11}},
		},
		products: map[int64]domain.Product{
			10: {ID: 10, Name: "Mug"},
			11: {ID: 11, Name: "Shirt"},
		},
	}
}

var testStore = &domain.Store{ID: "s1", StoreHash: "abc123"}

func TestRecentlyPurchasedFansOutOnceWithinTTL(t *testing.T) {
	api := newFakePlatform()
	c := NewPurchaseHistoryCache(cache.New(), api, 0, nil)
	ctx := context.Background()

	first, err := c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)
	second, err := c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)

	assert.Equal(t, []domain.Product{{ID: 10, Name: "Mug"}, {ID: 11, Name: "Shirt"}}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), api.ordersCalls.Load())
}

func TestRecentlyPurchasedKeysPerCustomer(t *testing.T) {
	api := newFakePlatform()
	c := NewPurchaseHistoryCache(cache.New(), api, 0, nil)
	ctx := context.Background()

	_, err := c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)
	_, err = c.RecentlyPurchased(ctx, testStore, "43")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.ordersCalls.Load())
}

func TestRecentlyPurchasedEmptyBypassesCacheOnce(t *testing.T) {
	api := newFakePlatform()
	api.setOrders(nil)
	kv := cache.New()
	c := NewPurchaseHistoryCache(kv, api, 0, nil)
	ctx := context.Background()

	// miss: one fan-out to fill the cache, one bypass for the empty answer
	products, err := c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Equal(t, int32(2), api.ordersCalls.Load())

	// cached empty, still empty upstream: exactly one bypass, no recursion
	products, err = c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Equal(t, int32(3), api.ordersCalls.Load())

	// customer places an order; the cached empty answer must not hide it
	api.setOrders([]domain.Order{{ID: 2}})
	products, err = c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)
	assert.Equal(t, []domain.Product{{ID: 11, Name: "Shirt"}}, products)
	assert.Equal(t, int32(4), api.ordersCalls.Load())

	// the fresh answer was written back
	raw, ok, err := kv.Get(ctx, PurchaseCacheKey("abc123", "42"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), "Shirt")

	_, err = c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)
	assert.Equal(t, int32(4), api.ordersCalls.Load())
}

func TestRecentlyPurchasedPropagatesPlatformErrors(t *testing.T) {
	api := newFakePlatform()
	api.ordersErr = errors.New("boom")
	kv := cache.New()
	c := NewPurchaseHistoryCache(kv, api, 0, nil)
	ctx := context.Background()

	_, err := c.RecentlyPurchased(ctx, testStore, "42")
	require.Error(t, err)

	_, ok, err := kv.Get(ctx, PurchaseCacheKey("abc123", "42"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// countingCache records cache reads so a test can tell when callers have
// passed the cache lookup
type countingCache struct {
	*cache.Cache
	gets atomic.Int32
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets.Add(1)
	return c.Cache.Get(ctx, key)
}

func TestRecentlyPurchasedConcurrentMissesShareFetch(t *testing.T) {
	api := newFakePlatform()
	api.entered = make(chan struct{}, 8)
	api.gate = make(chan struct{})
	kv := &countingCache{Cache: cache.New()}
	c := NewPurchaseHistoryCache(kv, api, time.Minute, nil)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			products, err := c.RecentlyPurchased(ctx, testStore, "42")
			assert.NoError(t, err)
			assert.Len(t, products, 2)
		}()
	}

	<-api.entered
	require.Eventually(t, func() bool { return kv.gets.Load() == callers }, time.Second, time.Millisecond)
	// let the followers reach the in-flight call before releasing it
	time.Sleep(50 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	assert.Equal(t, int32(1), api.ordersCalls.Load())
}

func TestRecentlyPurchasedSharedFetchSurvivesCallerCancel(t *testing.T) {
	api := newFakePlatform()
	api.entered = make(chan struct{}, 1)
	api.gate = make(chan struct{})
	c := NewPurchaseHistoryCache(cache.New(), api, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.RecentlyPurchased(ctx, testStore, "42")
		done <- err
	}()

	<-api.entered
	cancel()
	close(api.gate)
	require.NoError(t, <-done)

	// the fetch completed and filled the cache despite the cancellation
	api.gate = nil
	products, err := c.RecentlyPurchased(context.Background(), testStore, "42")
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, int32(1), api.ordersCalls.Load())
}

func TestInvalidateStoreDropsOnlyThatStore(t *testing.T) {
	api := newFakePlatform()
	kv := cache.New()
	c := NewPurchaseHistoryCache(kv, api, 0, nil)
	ctx := context.Background()
	other := &domain.Store{ID: "s2", StoreHash: "abc1234"}

	_, err := c.RecentlyPurchased(ctx, testStore, "42")
	require.NoError(t, err)
	_, err = c.RecentlyPurchased(ctx, other, "42")
	require.NoError(t, err)

	require.NoError(t, c.InvalidateStore(ctx, "abc123"))

	_, ok, _ := kv.Get(ctx, PurchaseCacheKey("abc123", "42"))
	assert.False(t, ok)
	_, ok, _ = kv.Get(ctx, PurchaseCacheKey("abc1234", "42"))
	assert.True(t, ok)
}

// Package platform is the HTTP client for the commerce platform's store API.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/observability/metrics"
	"github.com/aryan0dhankhar/storelink/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/storelink/internal/reliability/retry"
)

// DefaultBaseURL is the public store API host
const DefaultBaseURL = "https://api.bigcommerce.com"

// Config configures the platform API client
type Config struct {
	BaseURL  string
	ClientID string
	Timeout  time.Duration
	Retry    *retry.Config
}

// StatusError is a non-2xx response from the store API
type StatusError struct {
	Operation  string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform %s: unexpected status %d", e.Operation, e.StatusCode)
}

// Factory hands out per-store clients that share one HTTP client and breaker
type Factory struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewFactory creates a platform client factory
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}

	breaker := circuitbreaker.New(5, 1, 30*time.Second)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		metrics.SetBreakerState(int(to))
		logger.Warn("platform circuit breaker state change",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &Factory{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		logger:  logger,
	}
}

// ForStore returns an API client authenticated as store
func (f *Factory) ForStore(store *domain.Store) domain.PlatformAPI {
	return &Client{
		factory:   f,
		storeHash: store.StoreHash,
		token:     store.AccessToken,
	}
}

// Client implements domain.PlatformAPI for one store
type Client struct {
	factory   *Factory
	storeHash string
	token     string
}

// Time returns the store's server time; a working API answers {"time": ...}
func (c *Client) Time(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "time", "/v2/time", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Products lists catalog products
func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	if err := c.get(ctx, "products", "/v2/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Orders lists the orders placed by a customer
func (c *Client) Orders(ctx context.Context, customerID string) ([]domain.Order, error) {
	var out []domain.Order
	q := url.Values{"customer_id": {customerID}}
	if err := c.get(ctx, "orders", "/v2/orders", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderProducts lists the line items of an order
func (c *Client) OrderProducts(ctx context.Context, orderID int64) ([]domain.OrderProduct, error) {
	var out []domain.OrderProduct
	path := "/v2/orders/" + strconv.FormatInt(orderID, 10) + "/products"
	if err := c.get(ctx, "order_products", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Product fetches one product; an unknown id yields domain.ErrNotFound
func (c *Client) Product(ctx context.Context, id int64) (*domain.Product, error) {
	var out domain.Product
	if err := c.get(ctx, "product", "/v2/products/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	f := c.factory
	start := time.Now()

	_, err := retry.Do(ctx, f.cfg.Retry, f.logger, "platform."+op, func(ctx context.Context) (struct{}, error) {
		err := f.breaker.Execute(func() error {
			return c.do(ctx, op, path, query, out)
		}, countsAsFailure)
		if errors.Is(err, circuitbreaker.ErrOpen) || !countsAsFailure(err) {
			return struct{}{}, retry.Permanent(err)
		}
		return struct{}{}, err
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveUpstream(op, result, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, op, path string, query url.Values, out any) error {
	u := c.factory.cfg.BaseURL + "/stores/" + url.PathEscape(c.storeHash) + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Auth-Client", c.factory.cfg.ClientID)
	req.Header.Set("X-Auth-Token", c.token)

	resp, err := c.factory.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform %s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// empty collection
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("platform %s: %w", op, domain.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Operation: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// countsAsFailure reports whether err indicates an unhealthy upstream.
// Client errors other than 429 are the caller's problem.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/repository"
	"github.com/aryan0dhankhar/storelink/internal/security/auth"
	"github.com/aryan0dhankhar/storelink/internal/security/ratelimit"
	"github.com/aryan0dhankhar/storelink/internal/security/session"
	"github.com/aryan0dhankhar/storelink/internal/security/signedpayload"
	"github.com/aryan0dhankhar/storelink/internal/service"
	"github.com/aryan0dhankhar/storelink/pkg/cache"
	"github.com/aryan0dhankhar/storelink/pkg/database"
)

const clientSecret = "client-secret"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubExchanger struct {
	email string
	err   error
}

func (s *stubExchanger) Exchange(_ context.Context, code, storeContext, scope string) (*domain.AccessGrant, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.AccessGrant{
		AccessToken: "access-" + code,
		Scope:       scope,
		Context:     storeContext,
		User:        domain.GrantUser{ID: 1, Email: s.email},
	}, nil
}

type stubPlatform struct{}

func (stubPlatform) ForStore(*domain.Store) domain.PlatformAPI { return stubPlatform{} }
func (stubPlatform) Time(context.Context) (map[string]any, error) {
	return map[string]any{"time": 1700000000}, nil
}
func (stubPlatform) Products(context.Context) ([]domain.Product, error) {
	return []domain.Product{{ID: 10, Name: "Blue Mug", SKU: "MUG-1", Price: "9.99"}}, nil
}
func (stubPlatform) Orders(context.Context, string) ([]domain.Order, error) {
	return []domain.Order{{ID: 1}}, nil
}
func (stubPlatform) OrderProducts(context.Context, int64) ([]domain.OrderProduct, error) {
	return []domain.OrderProduct{{OrderID: 1, ProductID: 10}}, nil
}
func (stubPlatform) Product(_ context.Context, id int64) (*domain.Product, error) {
	return &domain.Product{ID: id, Name: "Blue Mug", CustomURL: "/blue-mug/"}, nil
}

type app struct {
	handler   http.Handler
	exchanger *stubExchanger
	tenancy   *repository.SQLTenancyStore
	tokens    *auth.TokenManager
}

func newApp(t *testing.T, limiter *ratelimit.Limiter) *app {
	t.Helper()
	ctx := context.Background()
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "handler.db"),
	}, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	require.NoError(t, database.Apply(ctx, pool.GetDB()))

	tenancy := repository.NewSQLTenancyStore(pool.GetDB(), quiet)
	exchanger := &stubExchanger{email: "owner@example.com"}
	purchases := service.NewPurchaseHistoryCache(cache.New(), stubPlatform{}, 0, quiet)
	lifecycle := service.NewLifecycleService(tenancy, exchanger, nil, nil, purchases, quiet)
	sessions := session.NewManager("session-secret", false)
	tokens := auth.NewTokenManager(clientSecret, "")

	return &app{
		handler: NewMux(Routes{
			Lifecycle:         NewLifecycleHandler(lifecycle, exchanger, sessions, clientSecret, quiet),
			Home:              NewHomeHandler(lifecycle, stubPlatform{}, sessions, "https://api.example.com", "client-id", quiet),
			Storefront:        NewStorefrontHandler(tokens, tenancy, purchases, quiet),
			Health:            NewHealthHandler(map[string]Checker{"database": pool.Health}, quiet),
			StorefrontLimiter: limiter,
			Logger:            quiet,
		}),
		exchanger: exchanger,
		tenancy:   tenancy,
		tokens:    tokens,
	}
}

func (a *app) do(t *testing.T, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *app) install(t *testing.T, email string) *http.Cookie {
	t.Helper()
	a.exchanger.email = email
	rec := a.do(t, "/auth/bigcommerce/callback?code=c1&scope=store_v2_products&context=stores/abc123")
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func signed(t *testing.T, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return url.QueryEscape(signedpayload.Sign(raw, []byte(clientSecret)))
}

func userPayload(email string) map[string]any {
	return map[string]any{
		"user":       map[string]any{"id": 9, "email": email},
		"owner":      map[string]any{"id": 1, "email": "owner@example.com"},
		"context":    "stores/abc123",
		"store_hash": "abc123",
		"timestamp":  1700000000.5,
	}
}

func TestInstallThenHome(t *testing.T) {
	a := newApp(t, nil)
	cookie := a.install(t, "owner@example.com")

	rec := a.do(t, "/", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "owner@example.com")
	assert.Contains(t, body, "Blue Mug")
	assert.Contains(t, body, "https://api.example.com")
	assert.Contains(t, body, "client-id")
	assert.Contains(t, body, "working")
	assert.NotContains(t, body, "access-c1")
}

func TestInstallRejectedExchangeRendersRedactedError(t *testing.T) {
	a := newApp(t, nil)
	a.exchanger.err = &domain.AuthorizationError{StatusCode: 400, Body: "invalid_grant"}

	rec := a.do(t, "/auth/bigcommerce/callback?code=supersecretcode&scope=s&context=stores/abc123")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "[install] Authorization failed!")
	assert.NotContains(t, body, "supersecretcode")
	assert.NotContains(t, body, "abc123")

	_, err := a.tenancy.GetStoreByHash(context.Background(), "abc123")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHomeWithoutSession(t *testing.T) {
	a := newApp(t, nil)
	rec := a.do(t, "/")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "[home] Unauthorized!")
}

func TestLogoutClearsSession(t *testing.T) {
	a := newApp(t, nil)
	a.install(t, "owner@example.com")

	rec := a.do(t, "/logout")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)
}

func TestLoad(t *testing.T) {
	a := newApp(t, nil)
	a.install(t, "owner@example.com")

	rec := a.do(t, "/load?signed_payload="+signed(t, userPayload("staff@example.com")))
	require.Equal(t, http.StatusFound, rec.Code)

	rec = a.do(t, "/", sessionCookie(t, rec))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "staff@example.com")
}

func TestLoadRejectsBadSignature(t *testing.T) {
	a := newApp(t, nil)
	raw, _ := json.Marshal(userPayload("staff@example.com"))
	forged := url.QueryEscape(signedpayload.Sign(raw, []byte("wrong-secret")))

	rec := a.do(t, "/load?signed_payload="+forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "[load] Invalid payload signature!")

	rec = a.do(t, "/load")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoadUnknownStore(t *testing.T) {
	a := newApp(t, nil)
	rec := a.do(t, "/load?signed_payload="+signed(t, userPayload("staff@example.com")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "[load] Store not found!")
}

func TestUninstall(t *testing.T) {
	a := newApp(t, nil)
	a.install(t, "owner@example.com")
	require.Equal(t, http.StatusFound, a.do(t, "/load?signed_payload="+signed(t, userPayload("staff@example.com"))).Code)

	rec := a.do(t, "/uninstall?signed_payload="+signed(t, userPayload("staff@example.com")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "[uninstall] Unauthorized!")

	rec = a.do(t, "/uninstall?signed_payload="+signed(t, userPayload("owner@example.com")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)

	_, err := a.tenancy.GetStoreByHash(context.Background(), "abc123")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveUserAlwaysNoContent(t *testing.T) {
	a := newApp(t, nil)

	rec := a.do(t, "/remove-user?signed_payload="+signed(t, userPayload("ghost@example.com")))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	a.install(t, "owner@example.com")
	rec = a.do(t, "/remove-user?signed_payload="+signed(t, userPayload("ghost@example.com")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEventsDispatch(t *testing.T) {
	a := newApp(t, nil)
	a.install(t, "owner@example.com")

	add := userPayload("new@example.com")
	add["event"] = "add-user"
	add["oauth_code"] = "code-2"
	rec := a.do(t, "/events?signed_payload="+signed(t, add))
	assert.Equal(t, http.StatusFound, rec.Code)

	rec = a.do(t, "/events?event=remove-user&signed_payload="+signed(t, userPayload("new@example.com")))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, "/events?event=bogus&signed_payload="+signed(t, userPayload("new@example.com")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "[events] Unknown event!")
}

func TestStorefrontRecentlyPurchased(t *testing.T) {
	a := newApp(t, nil)
	a.install(t, "owner@example.com")

	token, err := a.tokens.GenerateToken("42", "abc123", time.Hour)
	require.NoError(t, err)

	rec := a.do(t, "/storefront/abc123/customers/"+token+"/recently_purchased.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), `<a href="/blue-mug/">Blue Mug</a>`)
}

func TestStorefrontFailsSilently(t *testing.T) {
	a := newApp(t, nil)
	a.install(t, "owner@example.com")

	rec := a.do(t, "/storefront/abc123/customers/not-a-jwt/recently_purchased.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	forger := auth.NewTokenManager("other-secret", "")
	forged, err := forger.GenerateToken("42", "abc123", time.Hour)
	require.NoError(t, err)
	rec = a.do(t, "/storefront/abc123/customers/"+forged+"/recently_purchased.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	token, err := a.tokens.GenerateToken("42", "zzz", time.Hour)
	require.NoError(t, err)
	rec = a.do(t, "/storefront/zzz/customers/"+token+"/recently_purchased.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestStorefrontRejectsTokenOfAnotherStore(t *testing.T) {
	a := newApp(t, nil)
	a.install(t, "owner@example.com")
	ctx := context.Background()
	owner, err := a.tenancy.GetUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	require.NoError(t, a.tenancy.CreateStore(ctx, &domain.Store{
		StoreHash: "other9", AccessToken: "tok-other", AdminUserID: owner.ID,
	}))

	token, err := a.tokens.GenerateToken("42", "abc123", time.Hour)
	require.NoError(t, err)

	rec := a.do(t, "/storefront/other9/customers/"+token+"/recently_purchased.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = a.do(t, "/storefront/abc123/customers/"+token+"/recently_purchased.html")
	assert.Contains(t, rec.Body.String(), "Blue Mug")
}

func TestStorefrontRateLimitedPerStore(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, time.Minute)
	defer limiter.Stop()
	a := newApp(t, limiter)
	a.install(t, "owner@example.com")

	token, err := a.tokens.GenerateToken("42", "abc123", time.Hour)
	require.NoError(t, err)
	target := "/storefront/abc123/customers/" + token + "/recently_purchased.html"

	assert.NotEmpty(t, a.do(t, target).Body.String())
	rec := a.do(t, target)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	a := newApp(t, nil)

	rec := a.do(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = a.do(t, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"database":"ok"}}`, rec.Body.String())

	rec = a.do(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler(map[string]Checker{
		"cache": func(context.Context) error { return assert.AnError },
	}, quiet)
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/storelink/internal/domain"
)

func TestExchangeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "stores/abc123", r.PostForm.Get("context"))
		assert.Equal(t, "store_v2_products", r.PostForm.Get("scope"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "https://app.example.com/auth/bigcommerce/callback", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","scope":"store_v2_products","context":"stores/abc123","user":{"id":24,"username":"alice","email":"a@x.com"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{ClientID: "id", ClientSecret: "secret", RedirectURL: "https://app.example.com/auth/bigcommerce/callback", LoginURL: srv.URL})
	grant, err := c.Exchange(context.Background(), "the-code", "stores/abc123", "store_v2_products")
	require.NoError(t, err)
	assert.Equal(t, "tok", grant.AccessToken)
	assert.Equal(t, "stores/abc123", grant.Context)
	assert.Equal(t, "store_v2_products", grant.Scope)
	assert.Equal(t, int64(24), grant.User.ID)
	assert.Equal(t, "a@x.com", grant.User.Email)
}

func TestExchangeRejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{ClientID: "id", ClientSecret: "secret", LoginURL: srv.URL})
	_, err := c.Exchange(context.Background(), "used-code", "stores/abc123", "")

	assert.ErrorIs(t, err, domain.ErrAuthorizationFailed)
	var authErr *domain.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, authErr.Body, "invalid_grant")
	assert.Equal(t, int32(1), calls.Load())
}

func TestExchangeRequiresCode(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Exchange(context.Background(), "", "stores/abc123", "")
	assert.ErrorIs(t, err, domain.ErrAuthorizationFailed)
}

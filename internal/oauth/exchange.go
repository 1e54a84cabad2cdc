// Package oauth exchanges one-time authorization codes for store access tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/aryan0dhankhar/storelink/internal/domain"
)

// DefaultLoginURL is the platform's OAuth host
const DefaultLoginURL = "https://login.bigcommerce.com"

// Config holds the app credentials registered with the platform
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	LoginURL     string
	Timeout      time.Duration
}

// Client implements domain.TokenExchanger. It never retries: codes are single use.
type Client struct {
	conf *oauth2.Config
	http *http.Client
}

// NewClient creates a token exchange client
func NewClient(cfg Config) *Client {
	login := strings.TrimRight(cfg.LoginURL, "/")
	if login == "" {
		login = DefaultLoginURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   login + "/oauth2/authorize",
				TokenURL:  login + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Exchange trades code for an access grant. A rejection by the token endpoint
// is returned as *domain.AuthorizationError carrying the upstream body.
func (c *Client) Exchange(ctx context.Context, code, storeContext, scope string) (*domain.AccessGrant, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", domain.ErrAuthorizationFailed)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("context", storeContext)}
	if scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", scope))
	}

	tok, err := c.conf.Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &domain.AuthorizationError{StatusCode: status, Body: string(re.Body)}
		}
		if strings.Contains(err.Error(), "missing access_token") {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthorizationFailed, err)
		}
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	grant := &domain.AccessGrant{
		AccessToken: tok.AccessToken,
		Scope:       extraString(tok, "scope"),
		Context:     extraString(tok, "context"),
	}
	if user, ok := tok.Extra("user").(map[string]interface{}); ok {
		if id, ok := user["id"].(float64); ok {
			grant.User.ID = int64(id)
		}
		grant.User.Username, _ = user["username"].(string)
		grant.User.Email, _ = user["email"].(string)
	}
	return grant, nil
}

func extraString(tok *oauth2.Token, key string) string {
	s, _ := tok.Extra(key).(string)
	return s
}

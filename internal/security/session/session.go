// Package session keeps the authenticated (store, user) pair in a signed cookie.
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the name of the session cookie
const CookieName = "storelink_session"

// maxAge bounds how long a signed identity is honored
const maxAge = 12 * time.Hour

// Identity is the store and user a request acts for
type Identity struct {
	StoreID string
	UserID  string
}

type claims struct {
	StoreID string `json:"store_id"`
	UserID  string `json:"user_id"`
	jwt.RegisteredClaims
}

// Manager reads and writes the session cookie
type Manager struct {
	secret []byte
	secure bool
}

// NewManager creates a session manager. When secure is set the cookie is
// marked Secure and SameSite=None so it survives inside the platform iframe.
func NewManager(secret string, secure bool) *Manager {
	return &Manager{secret: []byte(secret), secure: secure}
}

// Set stores id in the session cookie, replacing any previous identity
func (m *Manager) Set(w http.ResponseWriter, id Identity) error {
	if id.StoreID == "" || id.UserID == "" {
		return fmt.Errorf("store id and user id required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		StoreID: id.StoreID,
		UserID:  id.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(maxAge)),
		},
	})
	value, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, m.cookie(value, 0))
	return nil
}

// Get returns the identity carried by the request, if any
func (m *Manager) Get(r *http.Request) (Identity, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return Identity{}, false
	}
	c := &claims{}
	token, err := jwt.ParseWithClaims(cookie.Value, c, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || c.StoreID == "" || c.UserID == "" {
		return Identity{}, false
	}
	return Identity{StoreID: c.StoreID, UserID: c.UserID}, true
}

// Clear removes the session cookie
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie("", -1))
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.secure {
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

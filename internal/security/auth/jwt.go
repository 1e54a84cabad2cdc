package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aryan0dhankhar/storelink/internal/domain"
)

// Customer is the storefront customer asserted by a customer JWT
type Customer struct {
	ID      CustomerID `json:"id"`
	Email   string     `json:"email,omitempty"`
	GroupID string     `json:"group_id,omitempty"`
}

type CustomerClaims struct {
	Customer  Customer `json:"customer"`
	StoreHash string   `json:"store_hash,omitempty"`
	Operation string   `json:"operation,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies customer JWTs with the shared app secret
type TokenManager struct {
	secret []byte
	issuer string
}

func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer}
}

// GenerateToken issues a customer token; used by tooling and tests
func (tm *TokenManager) GenerateToken(customerID, storeHash string, expiresIn time.Duration) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("customer id required")
	}
	now := time.Now()
	claims := CustomerClaims{
		Customer:  Customer{ID: CustomerID(customerID)},
		StoreHash: storeHash,
		Operation: "current_customer",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			Issuer:    tm.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// VerifyCustomerToken checks signature and expiry and returns customer.id.
// Every failure wraps domain.ErrTokenInvalid.
func (tm *TokenManager) VerifyCustomerToken(tokenString string) (string, error) {
	claims, err := tm.parse(tokenString)
	if err != nil {
		return "", err
	}
	return string(claims.Customer.ID), nil
}

// VerifyCustomerTokenForStore is VerifyCustomerToken for a request addressed
// to storeHash. A token whose store_hash claim names another store is invalid.
func (tm *TokenManager) VerifyCustomerTokenForStore(tokenString, storeHash string) (string, error) {
	claims, err := tm.parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.StoreHash != "" && claims.StoreHash != storeHash {
		return "", fmt.Errorf("%w: token issued for another store", domain.ErrTokenInvalid)
	}
	return string(claims.Customer.ID), nil
}

func (tm *TokenManager) parse(tokenString string) (*CustomerClaims, error) {
	if tokenString == "" || len(tm.secret) == 0 {
		return nil, fmt.Errorf("%w: empty token or secret", domain.ErrTokenInvalid)
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*CustomerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrTokenInvalid)
	}
	if claims.Customer.ID == "" {
		return nil, fmt.Errorf("%w: missing customer.id", domain.ErrTokenInvalid)
	}
	return claims, nil
}

// CustomerID is an opaque customer identifier. The platform sends it as a
// JSON number, but a string is accepted too.
type CustomerID string

func (id CustomerID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *CustomerID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case json.Number:
		*id = CustomerID(t.String())
	case string:
		*id = CustomerID(t)
	case nil:
		*id = ""
	default:
		return fmt.Errorf("customer id must be a number or string")
	}
	return nil
}

package domain

import (
	"context"
	"time"
)

// Store represents one installation of the app on a merchant store
type Store struct {
	ID          string // UUID
	StoreHash   string // Platform-issued identifier, globally unique
	AccessToken string // API token (never logged or rendered)
	Scope       string // Granted OAuth scopes, space separated
	AdminUserID string // User who installed the app; empty if unknown
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User represents one human identity keyed by email across all stores
type User struct {
	ID        string // UUID
	Email     string // Unique email address
	CreatedAt time.Time
}

// Association records that a user has access to a store
type Association struct {
	StoreID   string
	UserID    string
	CreatedAt time.Time
}

// IsAdmin reports whether the user is the store's recorded admin
func (s *Store) IsAdmin(userID string) bool {
	return s.AdminUserID != "" && s.AdminUserID == userID
}

// TenancyStore is the system of record for stores, users and their associations.
//
// Implementations enforce uniqueness of store hash and user email atomically on
// create and report a violation as ErrConflict. Lookups report ErrNotFound.
type TenancyStore interface {
	GetStoreByHash(ctx context.Context, storeHash string) (*Store, error)
	GetStoreByID(ctx context.Context, id string) (*Store, error)
	CreateStore(ctx context.Context, store *Store) error
	UpdateStore(ctx context.Context, store *Store) error
	// DeleteStore removes the store together with all of its associations
	DeleteStore(ctx context.Context, id string) error

	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	FindOrCreateUserByEmail(ctx context.Context, email string) (*User, error)

	EnsureAssociation(ctx context.Context, storeID, userID string) error
	HasAssociation(ctx context.Context, storeID, userID string) (bool, error)
	// RemoveAssociation returns false when no association existed
	RemoveAssociation(ctx context.Context, storeID, userID string) (bool, error)
	ListStoreUsers(ctx context.Context, storeID string) ([]*User, error)

	// WithTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx TenancyStore) error) error
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aryan0dhankhar/storelink/internal/domain"
)

// SQLTenancyStore implements domain.TenancyStore on Postgres or SQLite.
// Queries are written with ? placeholders and rebound per driver.
type SQLTenancyStore struct {
	db     *sqlx.DB
	q      sqlx.ExtContext // db, or the open transaction
	inTx   bool
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLTenancyStore creates a new tenancy repository
func NewSQLTenancyStore(db *sqlx.DB, logger *slog.Logger) *SQLTenancyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLTenancyStore{
		db:     db,
		q:      db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type storeRow struct {
	ID          string         `db:"id"`
	StoreHash   string         `db:"store_hash"`
	AccessToken string         `db:"access_token"`
	Scope       string         `db:"scope"`
	AdminUserID sql.NullString `db:"admin_user_id"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r storeRow) toDomain() *domain.Store {
	return &domain.Store{
		ID:          r.ID,
		StoreHash:   r.StoreHash,
		AccessToken: r.AccessToken,
		Scope:       r.Scope,
		AdminUserID: r.AdminUserID.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type userRow struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt}
}

const storeColumns = `id, store_hash, access_token, scope, admin_user_id, created_at, updated_at`

// GetStoreByHash retrieves a store by its platform hash
func (r *SQLTenancyStore) GetStoreByHash(ctx context.Context, storeHash string) (*domain.Store, error) {
	return r.getStore(ctx, `SELECT `+storeColumns+` FROM stores WHERE store_hash = ?`, storeHash)
}

// GetStoreByID retrieves a store by ID
func (r *SQLTenancyStore) GetStoreByID(ctx context.Context, id string) (*domain.Store, error) {
	return r.getStore(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = ?`, id)
}

func (r *SQLTenancyStore) getStore(ctx context.Context, query string, arg string) (*domain.Store, error) {
	var row storeRow
	if err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get store: %w", err)
	}
	return row.toDomain(), nil
}

// CreateStore inserts a new store. A duplicate store hash yields ErrConflict.
func (r *SQLTenancyStore) CreateStore(ctx context.Context, store *domain.Store) error {
	if store.StoreHash == "" || store.AccessToken == "" {
		return fmt.Errorf("store hash and access token are required")
	}
	if store.ID == "" {
		store.ID = uuid.NewString()
	}
	now := r.now()
	store.CreatedAt, store.UpdatedAt = now, now

	query := `
		INSERT INTO stores (id, store_hash, access_token, scope, admin_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(query),
		store.ID, store.StoreHash, store.AccessToken, store.Scope, nullable(store.AdminUserID), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store already installed: %w", domain.ErrConflict)
		}
		r.logger.Error("failed to create store",
			slog.String("store_id", store.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create store: %w", err)
	}
	return nil
}

// UpdateStore updates token, scope and admin of an existing store
func (r *SQLTenancyStore) UpdateStore(ctx context.Context, store *domain.Store) error {
	if store.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	store.UpdatedAt = r.now()

	query := `
		UPDATE stores
		SET access_token = ?, scope = ?, admin_user_id = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query),
		store.AccessToken, store.Scope, nullable(store.AdminUserID), store.UpdatedAt, store.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update store: %w", err)
	}
	return expectRows(res, "store")
}

// DeleteStore removes the store and all of its associations
func (r *SQLTenancyStore) DeleteStore(ctx context.Context, id string) error {
	return r.WithTx(ctx, func(tx domain.TenancyStore) error {
		t := tx.(*SQLTenancyStore)
		if _, err := t.q.ExecContext(ctx, t.q.Rebind(`DELETE FROM store_users WHERE store_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete store associations: %w", err)
		}
		res, err := t.q.ExecContext(ctx, t.q.Rebind(`DELETE FROM stores WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete store: %w", err)
		}
		return expectRows(res, "store")
	})
}

// GetUserByID retrieves a user by ID
func (r *SQLTenancyStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT id, email, created_at FROM users WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email
func (r *SQLTenancyStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT id, email, created_at FROM users WHERE email = ?`, email)
}

func (r *SQLTenancyStore) getUser(ctx context.Context, query, arg string) (*domain.User, error) {
	var row userRow
	if err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toDomain(), nil
}

// FindOrCreateUserByEmail returns the user with email, creating it if needed.
// Concurrent creators converge on the same row through the unique email.
func (r *SQLTenancyStore) FindOrCreateUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	query := `
		INSERT INTO users (id, email, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (email) DO NOTHING
	`
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(query), uuid.NewString(), email, r.now()); err != nil {
		r.logger.Error("failed to create user", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return r.GetUserByEmail(ctx, email)
}

// EnsureAssociation records that userID has access to storeID
func (r *SQLTenancyStore) EnsureAssociation(ctx context.Context, storeID, userID string) error {
	query := `
		INSERT INTO store_users (store_id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (store_id, user_id) DO NOTHING
	`
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(query), storeID, userID, r.now()); err != nil {
		return fmt.Errorf("failed to associate user: %w", err)
	}
	return nil
}

// HasAssociation reports whether userID has access to storeID
func (r *SQLTenancyStore) HasAssociation(ctx context.Context, storeID, userID string) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM store_users WHERE store_id = ? AND user_id = ?`
	if err := sqlx.GetContext(ctx, r.q, &n, r.q.Rebind(query), storeID, userID); err != nil {
		return false, fmt.Errorf("failed to check association: %w", err)
	}
	return n > 0, nil
}

// RemoveAssociation removes one association; absence is not an error
func (r *SQLTenancyStore) RemoveAssociation(ctx context.Context, storeID, userID string) (bool, error) {
	query := `DELETE FROM store_users WHERE store_id = ? AND user_id = ?`
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), storeID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove association: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListStoreUsers lists the users associated with a store
func (r *SQLTenancyStore) ListStoreUsers(ctx context.Context, storeID string) ([]*domain.User, error) {
	query := `
		SELECT u.id, u.email, u.created_at
		FROM users u
		JOIN store_users su ON su.user_id = u.id
		WHERE su.store_id = ?
		ORDER BY su.created_at, u.email
	`
	var rows []userRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), storeID); err != nil {
		return nil, fmt.Errorf("failed to list store users: %w", err)
	}
	users := make([]*domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain())
	}
	return users, nil
}

// WithTx runs fn in a transaction. Nested calls join the outer transaction.
func (r *SQLTenancyStore) WithTx(ctx context.Context, fn func(tx domain.TenancyStore) error) error {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	child := &SQLTenancyStore{db: r.db, q: tx, inTx: true, logger: r.logger, now: r.now}
	if err := fn(child); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit: %w", domain.ErrConflict)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc/sqlite reports constraint failures only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func expectRows(res sql.Result, entity string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", entity, domain.ErrNotFound)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

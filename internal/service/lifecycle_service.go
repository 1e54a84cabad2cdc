package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/observability/metrics"
	"github.com/aryan0dhankhar/storelink/internal/security"
	"github.com/aryan0dhankhar/storelink/internal/security/audit"
)

// Lifecycle event names, used for logs, metrics and error messages
const (
	EventInstall    = "install"
	EventLoad       = "load"
	EventUninstall  = "uninstall"
	EventAddUser    = "add-user"
	EventRemoveUser = "remove-user"
)

// ErrInvalidCredentials means the install callback lacked a store context,
// email or token
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the (store, user) pair a successful transition authenticates
type Identity struct {
	Store *domain.Store
	User  *domain.User
}

// StoreCacheInvalidator drops cached data belonging to a store
type StoreCacheInvalidator interface {
	InvalidateStore(ctx context.Context, storeHash string) error
}

// LifecycleService drives install, load, uninstall, add-user and remove-user
// over the store/user/association graph. Every transition runs in one
// transaction so a failure never leaves partial state behind.
type LifecycleService struct {
	store     domain.TenancyStore
	exchanger domain.TokenExchanger
	authz     *security.AuthorizationService
	audit     *audit.Logger
	cache     StoreCacheInvalidator
	logger    *slog.Logger
}

// NewLifecycleService creates a lifecycle service. cache may be nil.
func NewLifecycleService(
	store domain.TenancyStore,
	exchanger domain.TokenExchanger,
	authz *security.AuthorizationService,
	auditLog *audit.Logger,
	cache StoreCacheInvalidator,
	logger *slog.Logger,
) *LifecycleService {
	if logger == nil {
		logger = slog.Default()
	}
	if authz == nil {
		authz = security.NewAuthorizationService(logger)
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(logger)
	}
	return &LifecycleService{
		store:     store,
		exchanger: exchanger,
		authz:     authz,
		audit:     auditLog,
		cache:     cache,
		logger:    logger,
	}
}

// StoreHashFromContext extracts the hash from a "stores/{hash}" context
func StoreHashFromContext(storeContext string) (string, bool) {
	parts := strings.Split(storeContext, "/")
	if len(parts) < 2 || parts[0] != "stores" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Install handles the OAuth install callback. A new store hash creates the
// store with the installer as admin; a known hash refreshes token and scope
// and keeps the recorded admin.
func (s *LifecycleService) Install(ctx context.Context, auth domain.AuthResult) (*Identity, error) {
	storeHash, ok := StoreHashFromContext(auth.Context)
	if !ok || auth.Email == "" || auth.Token == "" {
		s.fail(ctx, EventInstall, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	id, err := s.install(ctx, storeHash, auth)
	if errors.Is(err, domain.ErrConflict) {
		// lost a race with a concurrent install; the store exists now
		s.logger.Info("concurrent install detected, retrying as update")
		id, err = s.install(ctx, storeHash, auth)
	}
	if err != nil {
		s.fail(ctx, EventInstall, err)
		return nil, err
	}
	s.succeed(ctx, EventInstall, id, "")
	return id, nil
}

func (s *LifecycleService) install(ctx context.Context, storeHash string, auth domain.AuthResult) (*Identity, error) {
	var id Identity
	err := s.store.WithTx(ctx, func(tx domain.TenancyStore) error {
		user, err := tx.FindOrCreateUserByEmail(ctx, auth.Email)
		if err != nil {
			return err
		}

		store, err := tx.GetStoreByHash(ctx, storeHash)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			store = &domain.Store{
				StoreHash:   storeHash,
				AccessToken: auth.Token,
				Scope:       auth.Scopes,
				AdminUserID: user.ID,
			}
			if err := tx.CreateStore(ctx, store); err != nil {
				return err
			}
			s.logger.Info("installing app", slog.String("store_id", store.ID), slog.String("admin_user_id", user.ID))
		case err != nil:
			return err
		default:
			store.AccessToken = auth.Token
			store.Scope = auth.Scopes
			if store.AdminUserID == "" {
				store.AdminUserID = user.ID
			}
			if err := tx.UpdateStore(ctx, store); err != nil {
				return err
			}
			s.logger.Info("refreshed store credentials", slog.String("store_id", store.ID))
		}

		if err := tx.EnsureAssociation(ctx, store.ID, user.ID); err != nil {
			return err
		}
		id = Identity{Store: store, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Load provisions the user on a known store and returns the identity to sign in
func (s *LifecycleService) Load(ctx context.Context, storeHash, email string) (*Identity, error) {
	id, err := s.load(ctx, storeHash, email)
	if err != nil {
		s.fail(ctx, EventLoad, err)
		return nil, err
	}
	s.succeed(ctx, EventLoad, id, "")
	return id, nil
}

func (s *LifecycleService) load(ctx context.Context, storeHash, email string) (*Identity, error) {
	if email == "" {
		return nil, fmt.Errorf("user: %w", domain.ErrNotFound)
	}
	var id Identity
	err := s.store.WithTx(ctx, func(tx domain.TenancyStore) error {
		store, err := tx.GetStoreByHash(ctx, storeHash)
		if err != nil {
			return err
		}
		user, err := tx.FindOrCreateUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if err := tx.EnsureAssociation(ctx, store.ID, user.ID); err != nil {
			return err
		}
		id = Identity{Store: store, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Uninstall removes the store and every association. Only the recorded admin
// may uninstall; anyone else gets domain.ErrUnauthorized.
func (s *LifecycleService) Uninstall(ctx context.Context, storeHash, email string) error {
	var storeID, userID string
	err := s.store.WithTx(ctx, func(tx domain.TenancyStore) error {
		store, err := tx.GetStoreByHash(ctx, storeHash)
		if err != nil {
			return err
		}
		storeID = store.ID

		user, err := tx.GetUserByEmail(ctx, email)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown user", domain.ErrUnauthorized)
		}
		if err != nil {
			return err
		}
		userID = user.ID

		if err := s.authz.ValidateStoreAccess(store, user.ID, security.PermUninstall); err != nil {
			return err
		}
		s.logger.Info("uninstalling app", slog.String("store_id", store.ID))
		return tx.DeleteStore(ctx, store.ID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.audit.LogDenied(ctx, EventUninstall, storeID, userID, "caller is not the store admin")
		}
		s.fail(ctx, EventUninstall, err)
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateStore(ctx, storeHash); err != nil {
			s.logger.Warn("failed to invalidate store cache",
				slog.String("store_id", storeID),
				slog.String("error", err.Error()),
			)
		}
	}
	metrics.ObserveLifecycle(EventUninstall, "success")
	s.audit.LogEvent(ctx, EventUninstall, storeID, userID, "success", "")
	return nil
}

// AddUser grants a user access to a store. Unless the user is already
// associated, the one-time code is exchanged first, so a rejected code
// leaves the graph untouched. Afterwards it behaves like Load.
func (s *LifecycleService) AddUser(ctx context.Context, storeHash, email, code, storeContext, scope string) (*Identity, error) {
	id, err := s.addUser(ctx, storeHash, email, code, storeContext, scope)
	if err != nil {
		s.fail(ctx, EventAddUser, err)
		return nil, err
	}
	s.succeed(ctx, EventAddUser, id, "")
	return id, nil
}

func (s *LifecycleService) addUser(ctx context.Context, storeHash, email, code, storeContext, scope string) (*Identity, error) {
	store, err := s.store.GetStoreByHash(ctx, storeHash)
	if err != nil {
		return nil, err
	}

	associated := false
	if email != "" {
		if user, err := s.store.GetUserByEmail(ctx, email); err == nil {
			if associated, err = s.store.HasAssociation(ctx, store.ID, user.ID); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if !associated {
		if storeContext == "" {
			storeContext = "stores/" + storeHash
		}
		grant, err := s.exchanger.Exchange(ctx, code, storeContext, scope)
		if err != nil {
			return nil, err
		}
		if email == "" {
			email = grant.User.Email
		}
	}
	return s.load(ctx, storeHash, email)
}

// RemoveUser drops the user's association with the store. A store, user or
// association that does not exist is already in the desired end state.
func (s *LifecycleService) RemoveUser(ctx context.Context, storeHash, email string) error {
	var storeID, userID string
	removed := false
	err := s.store.WithTx(ctx, func(tx domain.TenancyStore) error {
		store, err := tx.GetStoreByHash(ctx, storeHash)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		storeID = store.ID

		user, err := tx.GetUserByEmail(ctx, email)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		userID = user.ID

		removed, err = tx.RemoveAssociation(ctx, store.ID, user.ID)
		return err
	})
	if err != nil {
		s.fail(ctx, EventRemoveUser, err)
		return err
	}

	details := "association removed"
	if !removed {
		details = "no association"
	}
	metrics.ObserveLifecycle(EventRemoveUser, "success")
	s.audit.LogEvent(ctx, EventRemoveUser, storeID, userID, "success", details)
	return nil
}

// Resolve loads the identity held by a session and checks it is still valid
func (s *LifecycleService) Resolve(ctx context.Context, storeID, userID string) (*Identity, error) {
	store, err := s.store.GetStoreByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.HasAssociation(ctx, store.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user not associated with store", domain.ErrUnauthorized)
	}
	return &Identity{Store: store, User: user}, nil
}

func (s *LifecycleService) succeed(ctx context.Context, event string, id *Identity, details string) {
	metrics.ObserveLifecycle(event, "success")
	s.audit.LogEvent(ctx, event, id.Store.ID, id.User.ID, "success", details)
}

func (s *LifecycleService) fail(ctx context.Context, event string, err error) {
	metrics.ObserveLifecycle(event, resultLabel(err))
	s.logger.Warn("lifecycle transition failed",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrAuthorizationFailed):
		return "authorization_failed"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}

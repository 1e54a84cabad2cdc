package security

import (
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/storelink/internal/domain"
)

// Role represents a user's role within one store
type Role string

const (
	RoleStoreAdmin Role = "store_admin"
	RoleStoreUser  Role = "store_user"
)

// Permission represents a lifecycle or app action
type Permission string

const (
	PermLoadApp      Permission = "load_app"
	PermViewProducts Permission = "view_products"
	PermManageUsers  Permission = "manage_users"
	PermUninstall    Permission = "uninstall"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleStoreAdmin: {
		PermLoadApp,
		PermViewProducts,
		PermManageUsers,
		PermUninstall,
	},
	RoleStoreUser: {
		PermLoadApp,
		PermViewProducts,
	},
}

// AuthorizationService handles authorization checks
type AuthorizationService struct {
	logger *slog.Logger
}

// NewAuthorizationService creates a new authorization service
func NewAuthorizationService(logger *slog.Logger) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{
		logger: logger,
	}
}

// RoleFor returns the role of userID within store. The admin designation is
// a weak reference on the store; everyone else is a plain user.
func (as *AuthorizationService) RoleFor(store *domain.Store, userID string) Role {
	if store.IsAdmin(userID) {
		return RoleStoreAdmin
	}
	return RoleStoreUser
}

// HasPermission checks if a role has a specific permission
func (as *AuthorizationService) HasPermission(role Role, permission Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// ValidateStoreAccess checks that userID may perform permission on store.
// A denial wraps domain.ErrUnauthorized.
func (as *AuthorizationService) ValidateStoreAccess(store *domain.Store, userID string, permission Permission) error {
	role := as.RoleFor(store, userID)
	if !as.HasPermission(role, permission) {
		as.logger.Warn("permission denied",
			slog.String("store_id", store.ID),
			slog.String("user_id", userID),
			slog.String("role", string(role)),
			slog.String("permission", string(permission)),
		)
		return fmt.Errorf("%w: %s cannot %s", domain.ErrUnauthorized, role, permission)
	}
	return nil
}

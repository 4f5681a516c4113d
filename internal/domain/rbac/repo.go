package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrRoleNotFound = errors.New("role not found")

type Repository interface {
	// RoleHasPermission answers against the static role_permissions mapping,
	// independent of any user row.
	RoleHasPermission(ctx context.Context, roleName, permission string) (bool, error)
	// UserHasPermission joins user_roles through role_permissions, excluding
	// assignments whose expires_at has passed.
	UserHasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
	ListUserPermissions(ctx context.Context, userID uuid.UUID) ([]*Permission, error)
	ListUserRoles(ctx context.Context, userID uuid.UUID) ([]*UserRole, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	// UpsertAssignment updates assigned_by/expires_at/assigned_at on conflict
	// of (user_id, role_id) instead of duplicating the row.
	UpsertAssignment(ctx context.Context, userID, roleID uuid.UUID, assignedBy *uuid.UUID, expiresAt *time.Time) error
	// DeleteAssignment reports whether a row was actually removed.
	DeleteAssignment(ctx context.Context, userID, roleID uuid.UUID) (bool, error)
}

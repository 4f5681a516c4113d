package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casebridge/casebridge/internal/platform/auth"
)

// Service resolves permissions for the three actor populations.
//
// Law-firm and medical-provider accounts are resolved against a fixed
// administrative role, so two different firm accounts always get identical
// answers for the same permission name. Only client accounts go through
// per-user role assignments. Any storage error during a decision resolves
// to deny.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// CheckPermission reports whether the actor holds the named permission.
func (s *Service) CheckPermission(ctx context.Context, actor auth.Actor, permission string) bool {
	var (
		has bool
		err error
	)
	switch a := actor.(type) {
	case auth.LawFirm:
		has, err = s.repo.RoleHasPermission(ctx, RoleLawFirmAdmin, permission)
	case auth.MedicalProvider:
		has, err = s.repo.RoleHasPermission(ctx, RoleMedicalProviderAdmin, permission)
	case auth.Patient:
		has, err = s.repo.UserHasPermission(ctx, a.ID, permission)
	default:
		return false
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("permission", permission).
			Str("actor_type", string(actor.Kind())).
			Msg("permission check failed, denying")
		return false
	}
	return has
}

// CheckAnyPermission reports whether the client user holds at least one of
// the named permissions.
func (s *Service) CheckAnyPermission(ctx context.Context, userID uuid.UUID, permissions []string) bool {
	for _, p := range permissions {
		if s.CheckPermission(ctx, auth.Patient{ID: userID}, p) {
			return true
		}
	}
	return false
}

// CheckAllPermissions reports whether the client user holds every named
// permission, short-circuiting on the first miss.
func (s *Service) CheckAllPermissions(ctx context.Context, userID uuid.UUID, permissions []string) bool {
	for _, p := range permissions {
		if !s.CheckPermission(ctx, auth.Patient{ID: userID}, p) {
			return false
		}
	}
	return true
}

func (s *Service) GetUserPermissions(ctx context.Context, userID uuid.UUID) ([]*Permission, error) {
	return s.repo.ListUserPermissions(ctx, userID)
}

func (s *Service) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]*UserRole, error) {
	return s.repo.ListUserRoles(ctx, userID)
}

// AssignRole resolves roleName and upserts the (userID, role) assignment.
// Re-assigning an existing role refreshes its metadata instead of
// duplicating the row.
func (s *Service) AssignRole(ctx context.Context, userID uuid.UUID, roleName string, assignedBy *uuid.UUID, expiresAt *time.Time) error {
	role, err := s.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return s.repo.UpsertAssignment(ctx, userID, role.ID, assignedBy, expiresAt)
}

// RemoveRole deletes the assignment and reports whether a row was removed.
func (s *Service) RemoveRole(ctx context.Context, userID uuid.UUID, roleName string) (bool, error) {
	role, err := s.repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return false, err
	}
	return s.repo.DeleteAssignment(ctx, userID, role.ID)
}

// IsSensitivePermission reports whether exercising the permission warrants
// an extra audit entry. Unknown permissions and lookup errors resolve to
// not-sensitive; the default allow/deny entry is still written either way.
func (s *Service) IsSensitivePermission(ctx context.Context, permission string) bool {
	p, err := s.repo.GetPermissionByName(ctx, permission)
	if err != nil {
		return false
	}
	return p.IsSensitive
}

package rbac

import (
	"time"

	"github.com/google/uuid"
)

type Role struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
}

type Permission struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Category    string    `db:"category" json:"category"`
	Description string    `db:"description" json:"description"`
	IsSensitive bool      `db:"is_sensitive" json:"is_sensitive"`
}

// UserRole is one time-bound role assignment, joined with the role row.
// An assignment whose ExpiresAt has passed grants nothing.
type UserRole struct {
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Role       Role       `json:"role"`
	AssignedBy *uuid.UUID `db:"assigned_by" json:"assigned_by,omitempty"`
	AssignedAt time.Time  `db:"assigned_at" json:"assigned_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// Fixed administrative roles. Law-firm and medical-provider accounts carry
// no per-account role rows; every account of a type resolves against the
// same role.
const (
	RoleClient               = "CLIENT"
	RoleLawFirmAdmin         = "LAW_FIRM_ADMIN"
	RoleMedicalProviderAdmin = "MEDICAL_PROVIDER_ADMIN"
)

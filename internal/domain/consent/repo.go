package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/casebridge/casebridge/internal/platform/auth"
)

// ErrNotFound is returned when a consent record does not exist.
var ErrNotFound = errors.New("consent record not found")

// Repository is the storage surface for consent records and scopes.
type Repository interface {
	// Create persists a record and, for CUSTOM consents, its scope rows
	// atomically.
	Create(ctx context.Context, r *Record, scopes []Scope) error

	// GetByID returns a record by id, or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// GetScopes returns the scope rows of a CUSTOM record. Empty for
	// non-CUSTOM records.
	GetScopes(ctx context.Context, consentID uuid.UUID) ([]Scope, error)

	// ListActive returns live records for a (patient, grantee) pair: status
	// active and expiry in the future or absent.
	ListActive(ctx context.Context, patientID uuid.UUID, granteeType auth.ActorKind, granteeID uuid.UUID) ([]*Record, error)

	// ListByPatient returns all of a patient's records, newest first,
	// regardless of status.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error)

	// ListByGrantee returns all records naming the grantee, newest first.
	ListByGrantee(ctx context.Context, granteeType auth.ActorKind, granteeID uuid.UUID) ([]*Record, error)

	// MarkRevoked transitions a record to revoked with the given reason.
	MarkRevoked(ctx context.Context, id uuid.UUID, reason string, at time.Time) error

	// ExpireOld marks every active record whose expiry has passed as
	// expired and returns how many rows changed.
	ExpireOld(ctx context.Context) (int64, error)
}

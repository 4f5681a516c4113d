package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the append-only persistence boundary of the audit trail.
// There is deliberately no update or delete.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	ListPHIAccess(ctx context.Context, patientID uuid.UUID, q PHIAccessQuery) ([]*Entry, int, error)
	FailedLogins(ctx context.Context, since time.Time, limit int) ([]*FailedLoginGroup, error)
	SuspiciousActivity(ctx context.Context, since time.Time, threshold int) ([]*SuspiciousActor, error)
}

// Package directory resolves actor ids to display names across the
// patient, law firm and medical provider identity tables.
package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casebridge/casebridge/internal/platform/auth"
)

// PGDirectory looks names up in Postgres.
type PGDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

// DisplayName returns the human-readable name for an actor. Unknown ids
// return an error; callers treat lookups as best-effort.
func (d *PGDirectory) DisplayName(ctx context.Context, kind auth.ActorKind, id uuid.UUID) (string, error) {
	var query string
	switch kind {
	case auth.KindPatient:
		query = `SELECT first_name || ' ' || last_name FROM patients WHERE id = $1`
	case auth.KindLawFirm:
		query = `SELECT name FROM law_firms WHERE id = $1`
	case auth.KindMedicalProvider:
		query = `SELECT name FROM medical_providers WHERE id = $1`
	default:
		return "", fmt.Errorf("unknown actor kind %q", kind)
	}
	var name string
	if err := d.pool.QueryRow(ctx, query, id).Scan(&name); err != nil {
		return "", fmt.Errorf("directory lookup %s/%s: %w", kind, id, err)
	}
	return name, nil
}

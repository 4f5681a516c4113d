package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casebridge/casebridge/internal/platform/auth"
	"github.com/casebridge/casebridge/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RepoPG stores consent records in Postgres.
type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordColumns = `id, patient_id, granted_to_type, granted_to_id, consent_type, status,
	expires_at, consent_method, ip_address, signature_data, created_at, revoked_at, revoked_reason`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var ip, sig, reason *string
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.GrantedToType, &rec.GrantedToID,
		&rec.ConsentType, &rec.Status, &rec.ExpiresAt, &rec.ConsentMethod,
		&ip, &sig, &rec.CreatedAt, &rec.RevokedAt, &reason)
	if err != nil {
		return nil, err
	}
	if ip != nil {
		rec.IPAddress = *ip
	}
	if sig != nil {
		rec.SignatureData = *sig
	}
	if reason != nil {
		rec.RevokedReason = *reason
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*Record, error) {
	defer rows.Close()
	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *RepoPG) Create(ctx context.Context, rec *Record, scopes []Scope) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		err := tx.QueryRow(ctx, `
			INSERT INTO consent_records
				(patient_id, granted_to_type, granted_to_id, consent_type, status,
				 expires_at, consent_method, ip_address, signature_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
			RETURNING id, created_at`,
			rec.PatientID, rec.GrantedToType, rec.GrantedToID, rec.ConsentType,
			rec.Status, rec.ExpiresAt, rec.ConsentMethod, rec.IPAddress, rec.SignatureData,
		).Scan(&rec.ID, &rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert consent record: %w", err)
		}
		for i := range scopes {
			scopes[i].ConsentID = rec.ID
			_, err := tx.Exec(ctx, `
				INSERT INTO consent_scope (consent_id, data_type, can_view, can_edit)
				VALUES ($1, $2, $3, $4)`,
				rec.ID, scopes[i].DataType, scopes[i].CanView, scopes[i].CanEdit)
			if err != nil {
				return fmt.Errorf("insert consent scope: %w", err)
			}
		}
		return nil
	})
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consent record: %w", err)
	}
	return rec, nil
}

func (r *RepoPG) GetScopes(ctx context.Context, consentID uuid.UUID) ([]Scope, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT consent_id, data_type, can_view, can_edit
		FROM consent_scope WHERE consent_id = $1`, consentID)
	if err != nil {
		return nil, fmt.Errorf("list consent scopes: %w", err)
	}
	defer rows.Close()
	scopes := []Scope{}
	for rows.Next() {
		var s Scope
		if err := rows.Scan(&s.ConsentID, &s.DataType, &s.CanView, &s.CanEdit); err != nil {
			return nil, fmt.Errorf("scan consent scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

func (r *RepoPG) ListActive(ctx context.Context, patientID uuid.UUID, granteeType auth.ActorKind, granteeID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records
		WHERE patient_id = $1 AND granted_to_type = $2 AND granted_to_id = $3
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC`, patientID, granteeType, granteeID)
	if err != nil {
		return nil, fmt.Errorf("list active consents: %w", err)
	}
	return collectRecords(rows)
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records
		WHERE patient_id = $1
		ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient consents: %w", err)
	}
	return collectRecords(rows)
}

func (r *RepoPG) ListByGrantee(ctx context.Context, granteeType auth.ActorKind, granteeID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records
		WHERE granted_to_type = $1 AND granted_to_id = $2
		ORDER BY created_at DESC`, granteeType, granteeID)
	if err != nil {
		return nil, fmt.Errorf("list grantee consents: %w", err)
	}
	return collectRecords(rows)
}

func (r *RepoPG) MarkRevoked(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_records
		SET status = 'revoked', revoked_at = $2, revoked_reason = NULLIF($3, '')
		WHERE id = $1`, id, at, reason)
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) ExpireOld(ctx context.Context) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_records
		SET status = 'expired'
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("expire consents: %w", err)
	}
	return tag.RowsAffected(), nil
}

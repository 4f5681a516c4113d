package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casebridge/casebridge/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

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

func (r *RepoPG) Insert(ctx context.Context, e *Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	const q = `
		INSERT INTO audit_logs (
			actor_id, actor_type, action, entity_type, entity_id,
			target_user_id, status, ip_address, user_agent, metadata, timestamp
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`

	return r.conn(ctx).QueryRow(ctx, q,
		e.ActorID, e.ActorType, e.Action, e.EntityType, e.EntityID,
		e.TargetUserID, e.Status, e.IPAddress, e.UserAgent, meta, e.Timestamp,
	).Scan(&e.ID)
}

const entryCols = `id, actor_id, actor_type, action, entity_type, entity_id,
	target_user_id, status, ip_address, user_agent, metadata, timestamp`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var meta []byte
	err := row.Scan(
		&e.ID, &e.ActorID, &e.ActorType, &e.Action, &e.EntityType, &e.EntityID,
		&e.TargetUserID, &e.Status, &e.IPAddress, &e.UserAgent, &meta, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return &e, nil
}

func (r *RepoPG) ListPHIAccess(ctx context.Context, patientID uuid.UUID, q PHIAccessQuery) ([]*Entry, int, error) {
	where := "WHERE target_user_id = $1 AND action LIKE 'PHI_ACCESS%'"
	args := []interface{}{patientID}
	idx := 2

	if q.Start != nil {
		where += fmt.Sprintf(" AND timestamp >= $%d", idx)
		args = append(args, *q.Start)
		idx++
	}
	if q.End != nil {
		where += fmt.Sprintf(" AND timestamp <= $%d", idx)
		args = append(args, *q.End)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM audit_logs %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d",
		entryCols, where, idx, idx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) FailedLogins(ctx context.Context, since time.Time, limit int) ([]*FailedLoginGroup, error) {
	const q = `
		SELECT actor_id, COALESCE(metadata->>'email', ''), ip_address,
		       COUNT(*), MAX(timestamp)
		FROM audit_logs
		WHERE action = 'LOGIN_FAILED' AND timestamp >= $1
		GROUP BY actor_id, metadata->>'email', ip_address
		HAVING COUNT(*) >= 3
		ORDER BY COUNT(*) DESC
		LIMIT $2`

	rows, err := r.conn(ctx).Query(ctx, q, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*FailedLoginGroup
	for rows.Next() {
		var g FailedLoginGroup
		if err := rows.Scan(&g.ActorID, &g.Email, &g.IPAddress, &g.Attempts, &g.LastAttempt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (r *RepoPG) SuspiciousActivity(ctx context.Context, since time.Time, threshold int) ([]*SuspiciousActor, error) {
	const q = `
		SELECT actor_id, actor_type,
		       COUNT(DISTINCT target_user_id), COUNT(*),
		       ARRAY_AGG(DISTINCT ip_address)
		FROM audit_logs
		WHERE action LIKE 'PHI_ACCESS%' AND timestamp >= $1
		GROUP BY actor_id, actor_type
		HAVING COUNT(*) > $2
		ORDER BY COUNT(*) DESC`

	rows, err := r.conn(ctx).Query(ctx, q, since, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []*SuspiciousActor
	for rows.Next() {
		var a SuspiciousActor
		if err := rows.Scan(&a.ActorID, &a.ActorType, &a.DistinctPatients, &a.TotalAccesses, &a.IPAddresses); err != nil {
			return nil, err
		}
		actors = append(actors, &a)
	}
	return actors, rows.Err()
}

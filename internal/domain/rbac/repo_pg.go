package rbac

import (
	"context"
	"errors"
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

func (r *RepoPG) RoleHasPermission(ctx context.Context, roleName, permission string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1
			FROM role_permissions rp
			JOIN roles r ON r.id = rp.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE r.name = $1 AND p.name = $2
		)`
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, q, roleName, permission).Scan(&exists)
	return exists, err
}

func (r *RepoPG) UserHasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1
			  AND p.name = $2
			  AND (ur.expires_at IS NULL OR ur.expires_at > NOW())
		)`
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, q, userID, permission).Scan(&exists)
	return exists, err
}

func (r *RepoPG) ListUserPermissions(ctx context.Context, userID uuid.UUID) ([]*Permission, error) {
	const q = `
		SELECT DISTINCT p.id, p.name, p.category, p.description, p.is_sensitive
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		  AND (ur.expires_at IS NULL OR ur.expires_at > NOW())
		ORDER BY p.name`

	rows, err := r.conn(ctx).Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.IsSensitive); err != nil {
			return nil, err
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

func (r *RepoPG) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]*UserRole, error) {
	const q = `
		SELECT ur.user_id, r.id, r.name, r.description,
		       ur.assigned_by, ur.assigned_at, ur.expires_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND (ur.expires_at IS NULL OR ur.expires_at > NOW())
		ORDER BY r.name`

	rows, err := r.conn(ctx).Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []*UserRole
	for rows.Next() {
		var ur UserRole
		if err := rows.Scan(&ur.UserID, &ur.Role.ID, &ur.Role.Name, &ur.Role.Description,
			&ur.AssignedBy, &ur.AssignedAt, &ur.ExpiresAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, &ur)
	}
	return assignments, rows.Err()
}

func (r *RepoPG) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, description FROM roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *RepoPG) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var p Permission
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, category, description, is_sensitive FROM permissions WHERE name = $1`, name,
	).Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.IsSensitive)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *RepoPG) UpsertAssignment(ctx context.Context, userID, roleID uuid.UUID, assignedBy *uuid.UUID, expiresAt *time.Time) error {
	const q = `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
		ON CONFLICT (user_id, role_id)
		DO UPDATE SET assigned_by = $3, assigned_at = NOW(), expires_at = $4`
	_, err := r.conn(ctx).Exec(ctx, q, userID, roleID, assignedBy, expiresAt)
	return err
}

func (r *RepoPG) DeleteAssignment(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

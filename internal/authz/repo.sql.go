package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-console/aegis/internal/platform/db"
)

const pgForeignKeyViolation = "23503"

// Repository provides PostgreSQL backed persistence for the graph.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindEdges returns the far-side IDs of every edge the anchor holds.
func (r *Repository) FindEdges(ctx context.Context, rel Relation, anchor Anchor) ([]int64, error) {
	if rel.AnchorKind() != anchor.Kind {
		return nil, ErrRelationMismatch
	}
	var (
		rows pgx.Rows
		err  error
	)
	switch rel {
	case RelationRolePermissions:
		rows, err = r.pool.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, anchor.ID)
	case RelationPrincipalRoles:
		rows, err = r.pool.Query(ctx, `SELECT role_id FROM principal_roles WHERE principal_kind = $1 AND principal_id = $2`, string(anchor.Principal), anchor.ID)
	case RelationPrincipalPermissions:
		rows, err = r.pool.Query(ctx, `SELECT permission_id FROM principal_permissions WHERE principal_kind = $1 AND principal_id = $2`, string(anchor.Principal), anchor.ID)
	default:
		return nil, fmt.Errorf("authz: unknown relation %q", rel)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CreateEdge inserts one edge, idempotently.
func (r *Repository) CreateEdge(ctx context.Context, rel Relation, anchor Anchor, otherID int64) error {
	if rel.AnchorKind() != anchor.Kind {
		return ErrRelationMismatch
	}
	var (
		tag pgconn.CommandTag
		err error
	)
	switch rel {
	case RelationRolePermissions:
		tag, err = r.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, anchor.ID, otherID)
	case RelationPrincipalRoles:
		tag, err = r.pool.Exec(ctx, `INSERT INTO principal_roles (principal_kind, principal_id, role_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, string(anchor.Principal), anchor.ID, otherID)
	case RelationPrincipalPermissions:
		tag, err = r.pool.Exec(ctx, `INSERT INTO principal_permissions (principal_kind, principal_id, permission_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, string(anchor.Principal), anchor.ID, otherID)
	default:
		return fmt.Errorf("authz: unknown relation %q", rel)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("authz: create edge %s %s->%d: %w", rel, anchor.Key(), otherID, ErrEntityMissing)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEdgeExists
	}
	return nil
}

// DeleteEdge removes one edge.
func (r *Repository) DeleteEdge(ctx context.Context, rel Relation, anchor Anchor, otherID int64) error {
	if rel.AnchorKind() != anchor.Kind {
		return ErrRelationMismatch
	}
	var (
		tag pgconn.CommandTag
		err error
	)
	switch rel {
	case RelationRolePermissions:
		tag, err = r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, anchor.ID, otherID)
	case RelationPrincipalRoles:
		tag, err = r.pool.Exec(ctx, `DELETE FROM principal_roles WHERE principal_kind = $1 AND principal_id = $2 AND role_id = $3`, string(anchor.Principal), anchor.ID, otherID)
	case RelationPrincipalPermissions:
		tag, err = r.pool.Exec(ctx, `DELETE FROM principal_permissions WHERE principal_kind = $1 AND principal_id = $2 AND permission_id = $3`, string(anchor.Principal), anchor.ID, otherID)
	default:
		return fmt.Errorf("authz: unknown relation %q", rel)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEdgeNotFound
	}
	return nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, guard, created_by, updated_by, created_at, updated_at FROM roles WHERE id = $1`, id)
	return scanRole(row)
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, guard, created_by, updated_by, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, guard, created_by, updated_by)
		VALUES ($1, $2, $3, $3)
		RETURNING id, name, guard, created_by, updated_by, created_at, updated_at`,
		role.Name, role.Guard, role.CreatedBy)
	return scanRole(row)
}

// UpdateRole updates name and guard of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, guard = $3, updated_by = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, guard, created_by, updated_by, created_at, updated_at`,
		role.ID, role.Name, role.Guard, role.UpdatedBy)
	return scanRole(row)
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, guard, created_by, updated_by, created_at, updated_at FROM permissions WHERE id = $1`, id)
	return scanPermission(row)
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, guard, created_by, updated_by, created_at, updated_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ListPermissionsByIDs materializes permission entities for a set of IDs.
func (r *Repository) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, guard, created_by, updated_by, created_at, updated_at FROM permissions WHERE id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, guard, created_by, updated_by)
		VALUES ($1, $2, $3, $3)
		RETURNING id, name, guard, created_by, updated_by, created_at, updated_at`,
		perm.Name, perm.Guard, perm.CreatedBy)
	return scanPermission(row)
}

// UpdatePermission updates name and guard of an existing permission.
func (r *Repository) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE permissions SET name = $2, guard = $3, updated_by = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, guard, created_by, updated_by, created_at, updated_at`,
		perm.ID, perm.Name, perm.Guard, perm.UpdatedBy)
	return scanPermission(row)
}

// WithTx runs fn against a transactional view of the graph.
func (r *Repository) WithTx(ctx context.Context, fn func(GraphTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&graphTx{tx: tx})
	})
}

type graphTx struct {
	tx pgx.Tx
}

func (t *graphTx) WipeRoleEdges(ctx context.Context, roleID int64) (int64, int64, error) {
	principal, err := t.tx.Exec(ctx, `DELETE FROM principal_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, 0, err
	}
	perms, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return principal.RowsAffected(), 0, err
	}
	return principal.RowsAffected(), perms.RowsAffected(), nil
}

func (t *graphTx) WipePermissionEdges(ctx context.Context, permissionID int64) (int64, int64, error) {
	principal, err := t.tx.Exec(ctx, `DELETE FROM principal_permissions WHERE permission_id = $1`, permissionID)
	if err != nil {
		return 0, 0, err
	}
	roles, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, permissionID)
	if err != nil {
		return principal.RowsAffected(), 0, err
	}
	return principal.RowsAffected(), roles.RowsAffected(), nil
}

func (t *graphTx) DeleteRole(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *graphTx) DeletePermission(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Guard, &role.CreatedBy, &role.UpdatedBy, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.CreatedBy, &perm.UpdatedBy, &perm.CreatedAt, &perm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

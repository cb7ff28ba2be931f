package authz

import (
	"context"
	"errors"
	"fmt"
)

// CascadeGuard is the only sanctioned deletion path for roles and
// permissions. It removes every graph edge referencing the entity before the
// entity row itself, inside a single transaction, so no dangling edge
// survives a delete or a crash mid-delete.
type CascadeGuard struct {
	repo GraphRepository
}

// NewCascadeGuard constructs a guard over the given graph store.
func NewCascadeGuard(repo GraphRepository) *CascadeGuard {
	return &CascadeGuard{repo: repo}
}

// DeleteRole removes all principal assignments and permission grants of the
// role, then the role itself. Returns ErrNotFound with zero writes when the
// role does not exist.
func (g *CascadeGuard) DeleteRole(ctx context.Context, id int64) (Role, CascadeResult, error) {
	role, err := g.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, CascadeResult{}, err
	}
	var result CascadeResult
	err = g.repo.WithTx(ctx, func(tx GraphTx) error {
		principal, perms, err := tx.WipeRoleEdges(ctx, id)
		if err != nil {
			return fmt.Errorf("authz: wipe role edges: %w", err)
		}
		result = CascadeResult{PrincipalEdges: principal, RelationEdges: perms}
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Row vanished between the existence check and the delete.
			return Role{}, CascadeResult{}, ErrNotFound
		}
		return Role{}, CascadeResult{}, err
	}
	return role, result, nil
}

// DeletePermission removes all direct grants and role attachments of the
// permission, then the permission itself.
func (g *CascadeGuard) DeletePermission(ctx context.Context, id int64) (Permission, CascadeResult, error) {
	perm, err := g.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, CascadeResult{}, err
	}
	var result CascadeResult
	err = g.repo.WithTx(ctx, func(tx GraphTx) error {
		principal, roles, err := tx.WipePermissionEdges(ctx, id)
		if err != nil {
			return fmt.Errorf("authz: wipe permission edges: %w", err)
		}
		result = CascadeResult{PrincipalEdges: principal, RelationEdges: roles}
		return tx.DeletePermission(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Permission{}, CascadeResult{}, ErrNotFound
		}
		return Permission{}, CascadeResult{}, err
	}
	return perm, result, nil
}

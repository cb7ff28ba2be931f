package authz

import (
	"context"
	"fmt"
)

// Resolver computes the effective permission set of a principal: direct
// grants unioned with the permissions of every role the principal holds,
// de-duplicated by permission identity. Direct and role-derived grants are
// purely additive; there is no deny concept.
//
// The resolver is stateless. Callers that cache the result own invalidation
// whenever a reconcile or cascade touches the principal's grants, directly
// or through one of its roles.
type Resolver struct {
	repo GraphRepository
}

// NewResolver constructs a Resolver over the given graph store.
func NewResolver(repo GraphRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the principal's effective permissions sorted by name. A
// permission reachable through several paths appears once.
func (r *Resolver) Resolve(ctx context.Context, kind PrincipalKind, principalID int64) ([]Permission, error) {
	anchor := PrincipalAnchor(kind, principalID)

	directIDs, err := r.repo.FindEdges(ctx, RelationPrincipalPermissions, anchor)
	if err != nil {
		return nil, fmt.Errorf("authz: resolve direct grants: %w", err)
	}
	roleIDs, err := r.repo.FindEdges(ctx, RelationPrincipalRoles, anchor)
	if err != nil {
		return nil, fmt.Errorf("authz: resolve roles: %w", err)
	}

	seen := make(map[int64]struct{}, len(directIDs))
	union := make([]int64, 0, len(directIDs))
	for _, id := range directIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			union = append(union, id)
		}
	}
	for _, roleID := range roleIDs {
		permIDs, err := r.repo.FindEdges(ctx, RelationRolePermissions, RoleAnchor(roleID))
		if err != nil {
			return nil, fmt.Errorf("authz: resolve role %d permissions: %w", roleID, err)
		}
		for _, id := range permIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				union = append(union, id)
			}
		}
	}
	if len(union) == 0 {
		return nil, nil
	}
	return r.repo.ListPermissionsByIDs(ctx, union)
}

// ResolveNames returns only the permission names of the effective set.
// Convenience for permission checks.
func (r *Resolver) ResolveNames(ctx context.Context, kind PrincipalKind, principalID int64) ([]string, error) {
	perms, err := r.Resolve(ctx, kind, principalID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names, nil
}

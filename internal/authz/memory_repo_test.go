package authz

import (
	"context"
	"sync"
)

// memoryGraphRepo is an in-memory GraphRepository with failure injection for
// exercising best-effort batch semantics.
type memoryGraphRepo struct {
	mu     sync.Mutex
	nextID int64
	roles  map[int64]Role
	perms  map[int64]Permission
	edges  map[Relation]map[string]map[int64]struct{}

	findErr    error
	failCreate map[int64]error
	failDelete map[int64]error
}

func newMemoryGraphRepo() *memoryGraphRepo {
	return &memoryGraphRepo{
		roles: make(map[int64]Role),
		perms: make(map[int64]Permission),
		edges: map[Relation]map[string]map[int64]struct{}{
			RelationRolePermissions:      {},
			RelationPrincipalRoles:       {},
			RelationPrincipalPermissions: {},
		},
		failCreate: make(map[int64]error),
		failDelete: make(map[int64]error),
	}
}

func (r *memoryGraphRepo) addRole(name string) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	role := Role{ID: r.nextID, Name: name}
	r.roles[role.ID] = role
	return role
}

func (r *memoryGraphRepo) addPermission(name string) Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	perm := Permission{ID: r.nextID, Name: name}
	r.perms[perm.ID] = perm
	return perm
}

func (r *memoryGraphRepo) attach(rel Relation, anchor Anchor, otherID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.edges[rel][anchor.Key()]
	if !ok {
		set = make(map[int64]struct{})
		r.edges[rel][anchor.Key()] = set
	}
	set[otherID] = struct{}{}
}

func (r *memoryGraphRepo) edgeCount(rel Relation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, set := range r.edges[rel] {
		total += len(set)
	}
	return total
}

func (r *memoryGraphRepo) FindEdges(ctx context.Context, rel Relation, anchor Anchor) ([]int64, error) {
	if rel.AnchorKind() != anchor.Kind {
		return nil, ErrRelationMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var ids []int64
	for id := range r.edges[rel][anchor.Key()] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memoryGraphRepo) CreateEdge(ctx context.Context, rel Relation, anchor Anchor, otherID int64) error {
	if rel.AnchorKind() != anchor.Kind {
		return ErrRelationMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failCreate[otherID]; ok {
		return err
	}
	set, ok := r.edges[rel][anchor.Key()]
	if !ok {
		set = make(map[int64]struct{})
		r.edges[rel][anchor.Key()] = set
	}
	if _, exists := set[otherID]; exists {
		return ErrEdgeExists
	}
	set[otherID] = struct{}{}
	return nil
}

func (r *memoryGraphRepo) DeleteEdge(ctx context.Context, rel Relation, anchor Anchor, otherID int64) error {
	if rel.AnchorKind() != anchor.Kind {
		return ErrRelationMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failDelete[otherID]; ok {
		return err
	}
	set := r.edges[rel][anchor.Key()]
	if _, exists := set[otherID]; !exists {
		return ErrEdgeNotFound
	}
	delete(set, otherID)
	return nil
}

func (r *memoryGraphRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (r *memoryGraphRepo) ListRoles(ctx context.Context) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		roles = append(roles, role)
	}
	return roles, nil
}

func (r *memoryGraphRepo) CreateRole(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	role.ID = r.nextID
	r.roles[role.ID] = role
	return role, nil
}

func (r *memoryGraphRepo) UpdateRole(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.roles[role.ID]
	if !ok {
		return Role{}, ErrNotFound
	}
	existing.Name = role.Name
	existing.Guard = role.Guard
	existing.UpdatedBy = role.UpdatedBy
	r.roles[role.ID] = existing
	return existing, nil
}

func (r *memoryGraphRepo) GetPermission(ctx context.Context, id int64) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perm, ok := r.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return perm, nil
}

func (r *memoryGraphRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perms := make([]Permission, 0, len(r.perms))
	for _, perm := range r.perms {
		perms = append(perms, perm)
	}
	return perms, nil
}

func (r *memoryGraphRepo) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var perms []Permission
	for _, id := range ids {
		if perm, ok := r.perms[id]; ok {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

func (r *memoryGraphRepo) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	perm.ID = r.nextID
	r.perms[perm.ID] = perm
	return perm, nil
}

func (r *memoryGraphRepo) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.perms[perm.ID]
	if !ok {
		return Permission{}, ErrNotFound
	}
	existing.Name = perm.Name
	existing.Guard = perm.Guard
	existing.UpdatedBy = perm.UpdatedBy
	r.perms[perm.ID] = existing
	return existing, nil
}

func (r *memoryGraphRepo) WithTx(ctx context.Context, fn func(GraphTx) error) error {
	return fn(&memoryGraphTx{repo: r})
}

type memoryGraphTx struct {
	repo *memoryGraphRepo
}

func (t *memoryGraphTx) WipeRoleEdges(ctx context.Context, roleID int64) (int64, int64, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var principal int64
	for _, set := range r.edges[RelationPrincipalRoles] {
		if _, ok := set[roleID]; ok {
			delete(set, roleID)
			principal++
		}
	}
	key := RoleAnchor(roleID).Key()
	perms := int64(len(r.edges[RelationRolePermissions][key]))
	delete(r.edges[RelationRolePermissions], key)
	return principal, perms, nil
}

func (t *memoryGraphTx) WipePermissionEdges(ctx context.Context, permissionID int64) (int64, int64, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var principal int64
	for _, set := range r.edges[RelationPrincipalPermissions] {
		if _, ok := set[permissionID]; ok {
			delete(set, permissionID)
			principal++
		}
	}
	var roles int64
	for _, set := range r.edges[RelationRolePermissions] {
		if _, ok := set[permissionID]; ok {
			delete(set, permissionID)
			roles++
		}
	}
	return principal, roles, nil
}

func (t *memoryGraphTx) DeleteRole(ctx context.Context, id int64) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return ErrNotFound
	}
	delete(r.roles, id)
	return nil
}

func (t *memoryGraphTx) DeletePermission(ctx context.Context, id int64) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.perms[id]; !ok {
		return ErrNotFound
	}
	delete(r.perms, id)
	return nil
}

var _ GraphRepository = (*memoryGraphRepo)(nil)

package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aegis-console/aegis/internal/audit"
	"github.com/aegis-console/aegis/internal/observability"
)

// ServiceConfig tunes service behaviour.
type ServiceConfig struct {
	// SuppressNoopAudit skips the audit event for reconciliations that
	// changed nothing. Default is to emit one, since a sync that changes
	// nothing is still an operator action.
	SuppressNoopAudit bool
}

// Service is the entry point for authorization graph mutations and reads.
// It wires the reconciler, cascade guard, and resolver together with the
// audit trail, the effective-permission cache, and metrics.
//
// Every mutating method takes the acting principal explicitly. The service
// records whoever the caller asserts is acting; authentication happened
// upstream.
type Service struct {
	repo       GraphRepository
	reconciler *Reconciler
	guard      *CascadeGuard
	resolver   *Resolver
	recorder   audit.Recorder
	cache      *EffectiveCache
	metrics    *observability.Metrics
	logger     *slog.Logger
	cfg        ServiceConfig
}

// NewService builds a Service. Recorder, cache, and metrics may be nil.
func NewService(repo GraphRepository, recorder audit.Recorder, cache *EffectiveCache, metrics *observability.Metrics, logger *slog.Logger, cfg ServiceConfig) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		reconciler: NewReconciler(repo),
		guard:      NewCascadeGuard(repo),
		resolver:   NewResolver(repo),
		recorder:   recorder,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole inserts a new role. Name uniqueness is the caller's contract;
// the store surfaces violations as plain errors.
func (s *Service) CreateRole(ctx context.Context, actor int64, name, guard string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("authz: role name required")
	}
	role, err := s.repo.CreateRole(ctx, Role{Name: name, Guard: strings.TrimSpace(guard), CreatedBy: actor})
	if err != nil {
		return Role{}, err
	}
	event := audit.NewEvent(audit.ActionCreate, "roles", formatID(role.ID), actor)
	event.Detail = fmt.Sprintf("created role %s", role.Name)
	event.Changes = &audit.Changes{After: role}
	s.record(ctx, event)
	return role, nil
}

// UpdateRole updates name and guard of an existing role.
func (s *Service) UpdateRole(ctx context.Context, actor, id int64, name, guard string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("authz: role name required")
	}
	before, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.UpdateRole(ctx, Role{ID: id, Name: name, Guard: strings.TrimSpace(guard), UpdatedBy: actor})
	if err != nil {
		return Role{}, err
	}
	event := audit.NewEvent(audit.ActionUpdate, "roles", formatID(id), actor)
	event.Detail = fmt.Sprintf("updated role %s", role.Name)
	event.Changes = &audit.Changes{Before: before, After: role}
	s.record(ctx, event)
	return role, nil
}

// DeleteRole removes a role and all of its edges through the cascade guard.
func (s *Service) DeleteRole(ctx context.Context, actor, id int64) (Role, CascadeResult, error) {
	role, cascade, err := s.guard.DeleteRole(ctx, id)
	if err != nil {
		return Role{}, CascadeResult{}, err
	}
	s.metrics.ObserveCascadeDelete("role")
	s.bumpCache(ctx)
	event := audit.NewEvent(audit.ActionDelete, "roles", formatID(id), actor)
	event.Detail = fmt.Sprintf("deleted role %s: removed %d principal assignments, %d permission grants",
		role.Name, cascade.PrincipalEdges, cascade.RelationEdges)
	event.Changes = &audit.Changes{Before: role}
	s.record(ctx, event)
	return role, cascade, nil
}

// GetPermission fetches a permission by ID.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreatePermission inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, actor int64, name, guard string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("authz: permission name required")
	}
	perm, err := s.repo.CreatePermission(ctx, Permission{Name: name, Guard: strings.TrimSpace(guard), CreatedBy: actor})
	if err != nil {
		return Permission{}, err
	}
	event := audit.NewEvent(audit.ActionCreate, "permissions", formatID(perm.ID), actor)
	event.Detail = fmt.Sprintf("created permission %s", perm.Name)
	event.Changes = &audit.Changes{After: perm}
	s.record(ctx, event)
	return perm, nil
}

// UpdatePermission updates name and guard of an existing permission.
func (s *Service) UpdatePermission(ctx context.Context, actor, id int64, name, guard string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("authz: permission name required")
	}
	before, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	perm, err := s.repo.UpdatePermission(ctx, Permission{ID: id, Name: name, Guard: strings.TrimSpace(guard), UpdatedBy: actor})
	if err != nil {
		return Permission{}, err
	}
	event := audit.NewEvent(audit.ActionUpdate, "permissions", formatID(id), actor)
	event.Detail = fmt.Sprintf("updated permission %s", perm.Name)
	event.Changes = &audit.Changes{Before: before, After: perm}
	s.record(ctx, event)
	return perm, nil
}

// DeletePermission removes a permission and all of its edges.
func (s *Service) DeletePermission(ctx context.Context, actor, id int64) (Permission, CascadeResult, error) {
	perm, cascade, err := s.guard.DeletePermission(ctx, id)
	if err != nil {
		return Permission{}, CascadeResult{}, err
	}
	s.metrics.ObserveCascadeDelete("permission")
	s.bumpCache(ctx)
	event := audit.NewEvent(audit.ActionDelete, "permissions", formatID(id), actor)
	event.Detail = fmt.Sprintf("deleted permission %s: removed %d direct grants, %d role grants",
		perm.Name, cascade.PrincipalEdges, cascade.RelationEdges)
	event.Changes = &audit.Changes{Before: perm}
	s.record(ctx, event)
	return perm, cascade, nil
}

// SyncRolePermissions converges a role's permission set to desired.
func (s *Service) SyncRolePermissions(ctx context.Context, actor, roleID int64, desired []int64) (ReconcileResult, error) {
	return s.reconcile(ctx, actor, RoleAnchor(roleID), RelationRolePermissions, desired)
}

// SyncPrincipalRoles converges a principal's role set to desired.
func (s *Service) SyncPrincipalRoles(ctx context.Context, actor int64, kind PrincipalKind, principalID int64, desired []int64) (ReconcileResult, error) {
	return s.reconcile(ctx, actor, PrincipalAnchor(kind, principalID), RelationPrincipalRoles, desired)
}

// SyncPrincipalPermissions converges a principal's direct grants to desired.
func (s *Service) SyncPrincipalPermissions(ctx context.Context, actor int64, kind PrincipalKind, principalID int64, desired []int64) (ReconcileResult, error) {
	return s.reconcile(ctx, actor, PrincipalAnchor(kind, principalID), RelationPrincipalPermissions, desired)
}

// AssignRole adds a single principal-role edge. Idempotent.
func (s *Service) AssignRole(ctx context.Context, actor int64, kind PrincipalKind, principalID, roleID int64) error {
	return s.singleEdge(ctx, actor, PrincipalAnchor(kind, principalID), RelationPrincipalRoles, roleID, EdgeAdd)
}

// RemoveRole removes a single principal-role edge. Removing an absent edge
// succeeds.
func (s *Service) RemoveRole(ctx context.Context, actor int64, kind PrincipalKind, principalID, roleID int64) error {
	return s.singleEdge(ctx, actor, PrincipalAnchor(kind, principalID), RelationPrincipalRoles, roleID, EdgeRemove)
}

// GrantPermission adds a single direct permission grant. Idempotent.
func (s *Service) GrantPermission(ctx context.Context, actor int64, kind PrincipalKind, principalID, permissionID int64) error {
	return s.singleEdge(ctx, actor, PrincipalAnchor(kind, principalID), RelationPrincipalPermissions, permissionID, EdgeAdd)
}

// RevokePermission removes a single direct permission grant.
func (s *Service) RevokePermission(ctx context.Context, actor int64, kind PrincipalKind, principalID, permissionID int64) error {
	return s.singleEdge(ctx, actor, PrincipalAnchor(kind, principalID), RelationPrincipalPermissions, permissionID, EdgeRemove)
}

// AttachPermission adds a single role-permission edge. Idempotent.
func (s *Service) AttachPermission(ctx context.Context, actor, roleID, permissionID int64) error {
	return s.singleEdge(ctx, actor, RoleAnchor(roleID), RelationRolePermissions, permissionID, EdgeAdd)
}

// DetachPermission removes a single role-permission edge.
func (s *Service) DetachPermission(ctx context.Context, actor, roleID, permissionID int64) error {
	return s.singleEdge(ctx, actor, RoleAnchor(roleID), RelationRolePermissions, permissionID, EdgeRemove)
}

// EffectivePermissions returns the principal's de-duplicated effective set,
// served from cache when one is configured.
func (s *Service) EffectivePermissions(ctx context.Context, kind PrincipalKind, principalID int64) ([]Permission, error) {
	return s.cache.Fetch(ctx, kind, principalID, func(ctx context.Context) ([]Permission, error) {
		return s.resolver.Resolve(ctx, kind, principalID)
	})
}

// EffectivePermissionNames returns only the names of the effective set.
func (s *Service) EffectivePermissionNames(ctx context.Context, kind PrincipalKind, principalID int64) ([]string, error) {
	perms, err := s.EffectivePermissions(ctx, kind, principalID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names, nil
}

func (s *Service) reconcile(ctx context.Context, actor int64, anchor Anchor, rel Relation, desired []int64) (ReconcileResult, error) {
	result, err := s.reconciler.Reconcile(ctx, anchor, rel, desired)
	if err != nil {
		return ReconcileResult{}, err
	}
	s.metrics.ObserveReconcile(string(rel), len(result.Removed), len(result.Added), len(result.Failed))
	if len(result.Removed) > 0 || len(result.Added) > 0 {
		s.bumpCache(ctx)
	}
	noop := len(result.Removed) == 0 && len(result.Added) == 0 && len(result.Failed) == 0
	if !noop || !s.cfg.SuppressNoopAudit {
		before := append(append([]int64(nil), result.Removed...), result.Skipped...)
		sortIDs(before)
		event := audit.NewEvent(audit.ActionUpdate, string(rel), anchor.Key(), actor)
		event.Detail = fmt.Sprintf("reconciled %s for %s: removed %d, added %d, unchanged %d",
			rel, anchor.Key(), len(result.Removed), len(result.Added), len(result.Skipped))
		event.Changes = &audit.Changes{Before: before, After: result.AllAssigned}
		s.record(ctx, event)
	}
	return result, nil
}

func (s *Service) singleEdge(ctx context.Context, actor int64, anchor Anchor, rel Relation, otherID int64, op EdgeOp) error {
	var err error
	var detail string
	if op == EdgeAdd {
		err = s.repo.CreateEdge(ctx, rel, anchor, otherID)
		if errors.Is(err, ErrEdgeExists) {
			return nil
		}
		detail = fmt.Sprintf("added %s edge %s -> %d", rel, anchor.Key(), otherID)
	} else {
		err = s.repo.DeleteEdge(ctx, rel, anchor, otherID)
		if errors.Is(err, ErrEdgeNotFound) {
			return nil
		}
		detail = fmt.Sprintf("removed %s edge %s -> %d", rel, anchor.Key(), otherID)
	}
	if err != nil {
		return err
	}
	s.metrics.ObserveReconcile(string(rel), boolToCount(op == EdgeRemove), boolToCount(op == EdgeAdd), 0)
	s.bumpCache(ctx)
	action := audit.ActionCreate
	if op == EdgeRemove {
		action = audit.ActionDelete
	}
	event := audit.NewEvent(action, string(rel), anchor.Key(), actor)
	event.Detail = detail
	s.record(ctx, event)
	return nil
}

// record emits an audit event. Failures are logged and swallowed so graph
// correctness never depends on the audit trail.
func (s *Service) record(ctx context.Context, event audit.Event) {
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Error("audit record", slog.String("collection", event.Collection), slog.String("object_id", event.ObjectID), slog.Any("error", err))
	}
}

func (s *Service) bumpCache(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("effective cache bump", slog.Any("error", err))
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

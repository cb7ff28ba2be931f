package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconcileConvergence(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := RoleAnchor(100)
	for _, id := range []int64{1, 2, 3} {
		repo.attach(RelationRolePermissions, anchor, id)
	}

	rec := NewReconciler(repo)
	result, err := rec.Reconcile(context.Background(), anchor, RelationRolePermissions, []int64{2, 4})
	require.NoError(t, err)

	require.Equal(t, []int64{1, 3}, result.Removed)
	require.Equal(t, []int64{4}, result.Added)
	require.Equal(t, []int64{2}, result.Skipped)
	require.Equal(t, []int64{2, 4}, result.AllAssigned)
	require.Empty(t, result.Failed)

	current, err := repo.FindEdges(context.Background(), RelationRolePermissions, anchor)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{2, 4}, current)
}

func TestReconcileIdempotence(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := PrincipalAnchor(PrincipalUser, 7)
	desired := []int64{10, 20, 30}

	rec := NewReconciler(repo)
	first, err := rec.Reconcile(context.Background(), anchor, RelationPrincipalRoles, desired)
	require.NoError(t, err)
	require.Equal(t, desired, first.Added)

	second, err := rec.Reconcile(context.Background(), anchor, RelationPrincipalRoles, desired)
	require.NoError(t, err)
	require.Empty(t, second.Added)
	require.Empty(t, second.Removed)
	require.Equal(t, desired, second.Skipped)
	require.Equal(t, desired, second.AllAssigned)

	current, err := repo.FindEdges(context.Background(), RelationPrincipalRoles, anchor)
	require.NoError(t, err)
	require.ElementsMatch(t, desired, current)
}

func TestReconcileEmptyDesiredWipesAll(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := PrincipalAnchor(PrincipalUser, 3)
	for _, id := range []int64{5, 6, 7} {
		repo.attach(RelationPrincipalPermissions, anchor, id)
	}

	rec := NewReconciler(repo)
	result, err := rec.Reconcile(context.Background(), anchor, RelationPrincipalPermissions, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6, 7}, result.Removed)
	require.Empty(t, result.Added)
	require.Empty(t, result.AllAssigned)
	require.Zero(t, repo.edgeCount(RelationPrincipalPermissions))
}

func TestReconcileRelationMismatch(t *testing.T) {
	repo := newMemoryGraphRepo()
	rec := NewReconciler(repo)

	_, err := rec.Reconcile(context.Background(), PrincipalAnchor(PrincipalUser, 1), RelationRolePermissions, []int64{1})
	require.ErrorIs(t, err, ErrRelationMismatch)

	_, err = rec.Reconcile(context.Background(), RoleAnchor(1), RelationPrincipalRoles, []int64{1})
	require.ErrorIs(t, err, ErrRelationMismatch)
}

func TestReconcilePartialFailureKeepsGoing(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := RoleAnchor(9)
	repo.attach(RelationRolePermissions, anchor, 1)
	storeErr := errors.New("connection reset")
	repo.failCreate[99] = storeErr

	rec := NewReconciler(repo)
	result, err := rec.Reconcile(context.Background(), anchor, RelationRolePermissions, []int64{2, 99})
	require.NoError(t, err)

	require.Equal(t, []int64{1}, result.Removed)
	require.Equal(t, []int64{2}, result.Added)
	require.True(t, result.Partial())
	require.Len(t, result.Failed, 1)
	require.Equal(t, int64(99), result.Failed[0].ID)
	require.Equal(t, EdgeAdd, result.Failed[0].Op)
	require.ErrorIs(t, result.Failed[0].Err, storeErr)
}

func TestReconcileUnknownDesiredIDSurfacesAsFailedAdd(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := RoleAnchor(4)
	repo.failCreate[404] = ErrEntityMissing

	rec := NewReconciler(repo)
	result, err := rec.Reconcile(context.Background(), anchor, RelationRolePermissions, []int64{404})
	require.NoError(t, err)
	require.Empty(t, result.Added)
	require.Len(t, result.Failed, 1)
	require.ErrorIs(t, result.Failed[0].Err, ErrEntityMissing)
}

func TestReconcileDuplicateAddIsSuccess(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := RoleAnchor(8)
	// A racing writer inserted the edge between diff and apply.
	repo.failCreate[5] = ErrEdgeExists

	rec := NewReconciler(repo)
	result, err := rec.Reconcile(context.Background(), anchor, RelationRolePermissions, []int64{5})
	require.NoError(t, err)
	require.Equal(t, []int64{5}, result.Added)
	require.Empty(t, result.Failed)
}

func TestReconcileMissingRemovalIsSuccess(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := RoleAnchor(8)
	repo.attach(RelationRolePermissions, anchor, 5)
	repo.failDelete[5] = ErrEdgeNotFound

	rec := NewReconciler(repo)
	result, err := rec.Reconcile(context.Background(), anchor, RelationRolePermissions, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{5}, result.Removed)
	require.Empty(t, result.Failed)
}

func TestReconcileFetchErrorPropagates(t *testing.T) {
	repo := newMemoryGraphRepo()
	repo.findErr = errors.New("connection refused")

	rec := NewReconciler(repo)
	_, err := rec.Reconcile(context.Background(), RoleAnchor(1), RelationRolePermissions, []int64{1})
	require.ErrorIs(t, err, repo.findErr)
}

func TestReconcileEditorScenario(t *testing.T) {
	repo := newMemoryGraphRepo()
	editor := repo.addRole("editor")
	readDocs := repo.addPermission("read-docs")
	writeDocs := repo.addPermission("write-docs")
	publishDocs := repo.addPermission("publish-docs")

	anchor := RoleAnchor(editor.ID)
	repo.attach(RelationRolePermissions, anchor, readDocs.ID)
	repo.attach(RelationRolePermissions, anchor, writeDocs.ID)

	rec := NewReconciler(repo)
	result, err := rec.Reconcile(context.Background(), anchor, RelationRolePermissions, []int64{writeDocs.ID, publishDocs.ID})
	require.NoError(t, err)
	require.Equal(t, []int64{readDocs.ID}, result.Removed)
	require.Equal(t, []int64{publishDocs.ID}, result.Added)
	require.Equal(t, []int64{writeDocs.ID}, result.Skipped)

	// A principal holding only editor now resolves to exactly the new set.
	principal := PrincipalAnchor(PrincipalUser, 55)
	repo.attach(RelationPrincipalRoles, principal, editor.ID)
	perms, err := NewResolver(repo).Resolve(context.Background(), PrincipalUser, 55)
	require.NoError(t, err)
	names := permissionNames(perms)
	require.ElementsMatch(t, []string{"write-docs", "publish-docs"}, names)
}

func TestReconcileSameAnchorCallsSerialize(t *testing.T) {
	repo := newMemoryGraphRepo()
	anchor := RoleAnchor(1)
	rec := NewReconciler(repo)

	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			desired := []int64{int64(i + 1)}
			_, err := rec.Reconcile(context.Background(), anchor, RelationRolePermissions, desired)
			errCh <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errCh)
	}
	// Whichever call ran last owns the final state: exactly one edge.
	require.Equal(t, 1, repo.edgeCount(RelationRolePermissions))
}

func permissionNames(perms []Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}

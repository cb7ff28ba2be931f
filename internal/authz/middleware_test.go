package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-console/aegis/internal/shared"
)

func middlewareFixture(t *testing.T) (*memoryGraphRepo, Middleware) {
	t.Helper()
	repo := newMemoryGraphRepo()
	svc := NewService(repo, nil, nil, nil, nil, ServiceConfig{})
	return repo, Middleware{Service: svc}
}

func doRequest(handler http.Handler, actor *shared.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(context.Background(), *actor))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequireAnyAllowsGrantedPrincipal(t *testing.T) {
	repo, mw := middlewareFixture(t)
	p := repo.addPermission("read-users")
	repo.attach(RelationPrincipalPermissions, PrincipalAnchor(PrincipalUser, 1), p.ID)

	handler := mw.RequireAny("read-users", "manage-users")(okHandler)
	rr := doRequest(handler, &shared.Actor{ID: 1, Kind: "user"})
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAnyRejectsMissingActor(t *testing.T) {
	_, mw := middlewareFixture(t)
	handler := mw.RequireAny("read-users")(okHandler)
	rr := doRequest(handler, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAnyRejectsUngrantedPrincipal(t *testing.T) {
	_, mw := middlewareFixture(t)
	handler := mw.RequireAny("read-users")(okHandler)
	rr := doRequest(handler, &shared.Actor{ID: 2, Kind: "user"})
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAnyRejectsUnknownPrincipalKind(t *testing.T) {
	_, mw := middlewareFixture(t)
	handler := mw.RequireAny("read-users")(okHandler)
	rr := doRequest(handler, &shared.Actor{ID: 1, Kind: "robot"})
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	repo, mw := middlewareFixture(t)
	read := repo.addPermission("read-users")
	manage := repo.addPermission("manage-users")
	principal := PrincipalAnchor(PrincipalUser, 1)
	repo.attach(RelationPrincipalPermissions, principal, read.ID)

	handler := mw.RequireAll("read-users", "manage-users")(okHandler)
	rr := doRequest(handler, &shared.Actor{ID: 1, Kind: "user"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	repo.attach(RelationPrincipalPermissions, principal, manage.ID)
	rr = doRequest(handler, &shared.Actor{ID: 1, Kind: "user"})
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAnyRoleDerivedGrantCounts(t *testing.T) {
	repo, mw := middlewareFixture(t)
	perm := repo.addPermission("manage-users")
	role := repo.addRole("admin")
	repo.attach(RelationRolePermissions, RoleAnchor(role.ID), perm.ID)
	repo.attach(RelationPrincipalRoles, PrincipalAnchor(PrincipalUser, 1), role.ID)

	handler := mw.RequireAny("manage-users")(okHandler)
	rr := doRequest(handler, &shared.Actor{ID: 1, Kind: "user"})
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAnyNoRequirementsPassesThrough(t *testing.T) {
	_, mw := middlewareFixture(t)
	handler := mw.RequireAny()(okHandler)
	rr := doRequest(handler, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-console/aegis/internal/platform/httpx"
	"github.com/aegis-console/aegis/internal/shared"
)

// Handler exposes the authorization graph over a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	mw        Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		mw:        mw,
	}
}

// MountRoutes registers authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.With(h.mw.RequireAny("read-roles", "manage-roles")).Get("/", h.listRoles)
		r.With(h.mw.RequireAny("manage-roles")).Post("/", h.createRole)
		r.Route("/{roleID}", func(r chi.Router) {
			r.With(h.mw.RequireAny("read-roles", "manage-roles")).Get("/", h.getRole)
			r.With(h.mw.RequireAny("manage-roles")).Put("/", h.updateRole)
			r.With(h.mw.RequireAny("manage-roles")).Delete("/", h.deleteRole)
			r.With(h.mw.RequireAny("manage-roles")).Put("/permissions", h.syncRolePermissions)
		})
	})
	r.Route("/permissions", func(r chi.Router) {
		r.With(h.mw.RequireAny("read-permissions", "manage-permissions")).Get("/", h.listPermissions)
		r.With(h.mw.RequireAny("manage-permissions")).Post("/", h.createPermission)
		r.Route("/{permissionID}", func(r chi.Router) {
			r.With(h.mw.RequireAny("read-permissions", "manage-permissions")).Get("/", h.getPermission)
			r.With(h.mw.RequireAny("manage-permissions")).Put("/", h.updatePermission)
			r.With(h.mw.RequireAny("manage-permissions")).Delete("/", h.deletePermission)
		})
	})
	r.Route("/principals/{kind}/{principalID}", func(r chi.Router) {
		r.With(h.mw.RequireAny("manage-users")).Put("/roles", h.syncPrincipalRoles)
		r.With(h.mw.RequireAny("manage-users")).Put("/permissions", h.syncPrincipalPermissions)
		r.With(h.mw.RequireAny("read-users", "manage-users")).Get("/permissions", h.effectivePermissions)
	})
}

type entityPayload struct {
	Name  string `json:"name" validate:"required,min=1,max=128"`
	Guard string `json:"guard" validate:"max=64"`
}

type syncPayload struct {
	IDs []int64 `json:"ids" validate:"required"`
}

type reconcileResponse struct {
	Removed     []int64            `json:"removed"`
	Added       []int64            `json:"added"`
	Skipped     []int64            `json:"skipped"`
	AllAssigned []int64            `json:"all_assigned"`
	Failed      []edgeFailureEntry `json:"failed,omitempty"`
}

type edgeFailureEntry struct {
	ID    int64  `json:"id"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload entityPayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), actor.ID, payload.Name, payload.Guard)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload entityPayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), actor.ID, id, payload.Name, payload.Guard)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, cascade, err := h.service.DeleteRole(r.Context(), actor.ID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":             role,
		"principal_edges":  cascade.PrincipalEdges,
		"permission_edges": cascade.RelationEdges,
	})
}

func (h *Handler) syncRolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload syncPayload
	if !h.decode(w, r, &payload) {
		return
	}
	result, err := h.service.SyncRolePermissions(r.Context(), actor.ID, id, payload.IDs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondReconcile(w, result)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload entityPayload
	if !h.decode(w, r, &payload) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), actor.ID, payload.Name, payload.Guard)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	var payload entityPayload
	if !h.decode(w, r, &payload) {
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), actor.ID, id, payload.Name, payload.Guard)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	perm, cascade, err := h.service.DeletePermission(r.Context(), actor.ID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"permission":      perm,
		"principal_edges": cascade.PrincipalEdges,
		"role_edges":      cascade.RelationEdges,
	})
}

func (h *Handler) syncPrincipalRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	kind, principalID, ok := h.principalParams(w, r)
	if !ok {
		return
	}
	var payload syncPayload
	if !h.decode(w, r, &payload) {
		return
	}
	result, err := h.service.SyncPrincipalRoles(r.Context(), actor.ID, kind, principalID, payload.IDs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondReconcile(w, result)
}

func (h *Handler) syncPrincipalPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	kind, principalID, ok := h.principalParams(w, r)
	if !ok {
		return
	}
	var payload syncPayload
	if !h.decode(w, r, &payload) {
		return
	}
	result, err := h.service.SyncPrincipalPermissions(r.Context(), actor.ID, kind, principalID, payload.IDs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondReconcile(w, result)
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	kind, principalID, ok := h.principalParams(w, r)
	if !ok {
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), kind, principalID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

// respondReconcile returns 207 when the batch partially failed, so an
// operator can retry only the affected IDs.
func (h *Handler) respondReconcile(w http.ResponseWriter, result ReconcileResult) {
	status := http.StatusOK
	if result.Partial() {
		status = http.StatusMultiStatus
	}
	resp := reconcileResponse{
		Removed:     emptyIfNil(result.Removed),
		Added:       emptyIfNil(result.Added),
		Skipped:     emptyIfNil(result.Skipped),
		AllAssigned: emptyIfNil(result.AllAssigned),
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, edgeFailureEntry{ID: f.ID, Op: string(f.Op), Error: f.Err.Error()})
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "acting principal required")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) principalParams(w http.ResponseWriter, r *http.Request) (PrincipalKind, int64, bool) {
	kind, err := ParsePrincipalKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown principal kind")
		return "", 0, false
	}
	id, ok := h.pathID(w, r, "principalID")
	if !ok {
		return "", 0, false
	}
	return kind, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnknownPrincipalKind), errors.Is(err, ErrRelationMismatch):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		h.logger.Error("authz handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func emptyIfNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

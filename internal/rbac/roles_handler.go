package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// RolesHandler wires HTTP endpoints for role management.
type RolesHandler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewRolesHandler builds a RolesHandler instance.
func NewRolesHandler(logger *slog.Logger, service *Service, rbac Middleware) *RolesHandler {
	return &RolesHandler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *RolesHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermShowRoles))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCreateRoles))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermEditRoles))
		r.Patch("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeleteRoles))
		r.Delete("/{id}", h.del)
	})
}

type createRoleRequest struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Permissions []int64 `json:"permissions" validate:"dive,gt=0"`
}

type updateRoleRequest struct {
	Name        *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Permissions *[]int64 `json:"permissions" validate:"omitempty,dive,gt=0"`
}

func (h *RolesHandler) list(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, roles, "")
}

func (h *RolesHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, role, "")
}

func (h *RolesHandler) create(w http.ResponseWriter, r *http.Request) {
	actor, meta := requestIdentity(r)
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	role, err := h.service.CreateRole(r.Context(), actor, meta, req.Name, req.Permissions)
	if err != nil {
		h.logger.Error("create role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, role, "Role created successfully")
}

func (h *RolesHandler) update(w http.ResponseWriter, r *http.Request) {
	actor, meta := requestIdentity(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	input := UpdateRoleInput{Name: req.Name}
	if req.Permissions != nil {
		input.SyncPerms = true
		input.PermissionIDs = *req.Permissions
	}
	role, err := h.service.UpdateRole(r.Context(), actor, meta, id, input)
	if err != nil {
		h.logger.Error("update role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, role, "Role updated successfully")
}

func (h *RolesHandler) del(w http.ResponseWriter, r *http.Request) {
	actor, meta := requestIdentity(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), actor, meta, id); err != nil {
		h.logger.Error("delete role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, nil, "Role deleted successfully")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.ErrValidation)
		return 0, false
	}
	return id, true
}

func requestIdentity(r *http.Request) (shared.Actor, shared.RequestMeta) {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor, shared.RequestMetaFromContext(r.Context())
}

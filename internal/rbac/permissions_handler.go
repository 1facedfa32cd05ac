package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// PermissionsHandler wires HTTP endpoints for permission management.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewPermissionsHandler builds a PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermShowPermissions))
		r.Get("/", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCreatePermissions))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermEditPermissions))
		r.Patch("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeletePermissions))
		r.Delete("/{id}", h.del)
	})
}

type createPermissionRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Group string `json:"group" validate:"max=255"`
}

type updatePermissionRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=255"`
	Group *string `json:"group" validate:"omitempty,max=255"`
}

func (h *PermissionsHandler) list(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, perms, "")
}

func (h *PermissionsHandler) create(w http.ResponseWriter, r *http.Request) {
	actor, meta := requestIdentity(r)
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), actor, meta, req.Name, req.Group)
	if err != nil {
		h.logger.Error("create permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, perm, "Permission created successfully.")
}

func (h *PermissionsHandler) update(w http.ResponseWriter, r *http.Request) {
	actor, meta := requestIdentity(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updatePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), actor, meta, id, UpdatePermissionInput{Name: req.Name, Group: req.Group})
	if err != nil {
		h.logger.Error("update permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, perm, "Permission updated successfully.")
}

func (h *PermissionsHandler) del(w http.ResponseWriter, r *http.Request) {
	actor, meta := requestIdentity(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), actor, meta, id); err != nil {
		h.logger.Error("delete permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, nil, "Permission deleted successfully.")
}

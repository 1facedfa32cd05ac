package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/rbac"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Handler wires HTTP endpoints for user management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermShowUsers))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCreateUsers))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermEditUsers))
		r.Patch("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeleteUsers))
		r.Delete("/{id}", h.del)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAssignRoles))
		r.Post("/{id}/roles", h.assignRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAssignPermissions))
		r.Post("/{id}/permissions", h.assignPermissions)
	})
}

type createUserRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Username string `json:"username" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8"`
}

type updateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=255"`
	Username *string `json:"username" validate:"omitempty,min=3,max=255"`
	Password *string `json:"password" validate:"omitempty,min=8"`
}

type assignRolesRequest struct {
	Roles []int64 `json:"roles" validate:"dive,gt=0"`
}

type assignPermissionsRequest struct {
	Permissions []int64 `json:"permissions" validate:"dive,gt=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, users, "")
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, user, "")
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, meta := h.identity(r)
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	user, err := h.service.Create(r.Context(), actor, meta, req.Name, req.Username, req.Password)
	if err != nil {
		h.logger.Error("create user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, user, "User created successfully")
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, meta := h.identity(r)
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	user, err := h.service.Update(r.Context(), actor, meta, id, UpdateInput{
		Name:     req.Name,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.logger.Error("update user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, user, "User updated successfully")
}

func (h *Handler) del(w http.ResponseWriter, r *http.Request) {
	actor, meta := h.identity(r)
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, meta, id); err != nil {
		h.logger.Error("delete user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, nil, "User deleted successfully")
}

func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	actor, meta := h.identity(r)
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req assignRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	user, err := h.service.AssignRoles(r.Context(), actor, meta, id, req.Roles)
	if err != nil {
		h.logger.Error("assign roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, user, "Roles assigned successfully")
}

func (h *Handler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	actor, meta := h.identity(r)
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req assignPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	user, err := h.service.AssignPermissions(r.Context(), actor, meta, id, req.Permissions)
	if err != nil {
		h.logger.Error("assign permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, user, "Permissions assigned successfully")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.ErrValidation)
		return 0, false
	}
	return id, true
}

func (h *Handler) identity(r *http.Request) (shared.Actor, shared.RequestMeta) {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor, shared.RequestMetaFromContext(r.Context())
}

package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountPublicRoutes registers routes that do not require a token.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login", h.login)
}

// MountSessionRoutes registers routes behind the bearer-token middleware.
func (h *Handler) MountSessionRoutes(r chi.Router) {
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
	r.Patch("/profile", h.updateProfile)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  accountView `json:"user"`
}

type profileRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=255"`
	Username *string `json:"username" validate:"omitempty,min=3,max=255"`
	Password *string `json:"password" validate:"omitempty,min=8"`
}

type accountView struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Username     string   `json:"username"`
	IsSuperAdmin bool     `json:"is_super_admin"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	meta := shared.RequestMetaFromContext(r.Context())
	session, err := h.service.Login(r.Context(), meta, req.Username, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, loginResponse{Token: session.Token, User: actorView(session.Actor)}, "Login successful")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	meta := shared.RequestMetaFromContext(r.Context())
	if err := h.service.Logout(r.Context(), actor, meta, TokenFromContext(r.Context())); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, nil, "Logged out successfully")
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	httpx.OK(w, actorView(actor), "")
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	meta := shared.RequestMetaFromContext(r.Context())
	var req profileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	account, err := h.service.UpdateProfile(r.Context(), actor, meta, ProfileInput{
		Name:     req.Name,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.logger.Error("update profile", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, accountView{
		ID:           account.ID,
		Name:         account.Name,
		Username:     account.Username,
		IsSuperAdmin: account.IsSuperAdmin,
		Roles:        actor.Roles,
		Permissions:  actor.Permissions,
	}, "Profile updated successfully")
}

func actorView(actor shared.Actor) accountView {
	return accountView{
		ID:           actor.ID,
		Name:         actor.Name,
		Username:     actor.Username,
		IsSuperAdmin: actor.IsSuperAdmin,
		Roles:        actor.Roles,
		Permissions:  actor.Permissions,
	}
}

package rbac

import (
	"log/slog"
	"net/http"

	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Middleware wires the authorization guard into HTTP handler chains. Gates
// run before a handler opens any mutation transaction.
type Middleware struct {
	Guard  *Guard
	Logger *slog.Logger
}

// RequireAll ensures the current actor holds every listed permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if err := m.Guard.RequirePermissions(r.Context(), actor, perms...); err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole ensures the current actor holds at least one listed role.
func (m Middleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if err := m.Guard.RequireAnyRole(r.Context(), actor, roles...); err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, err error) {
	if m.Logger != nil {
		m.Logger.Warn("authorization denied",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, err)
}

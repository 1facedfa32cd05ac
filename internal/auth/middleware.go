package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sentinel-iam/sentinel-iam/internal/platform/httpx"
	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

type tokenContextKey struct{}

// Middleware authenticates bearer tokens and attaches the resolved identity
// to the request context.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequestMeta records the caller's address and agent on every request,
// authenticated or not, so audit entries can attribute them.
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := shared.RequestMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithRequestMeta(r.Context(), meta)))
	})
}

// Authenticate rejects requests without a valid bearer token.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		actor, err := m.Service.Resolve(r.Context(), token)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Debug("token rejected", slog.Any("error", err))
			}
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), actor)
		ctx = contextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token the request authenticated with.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}

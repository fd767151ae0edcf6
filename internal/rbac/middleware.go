package rbac

import (
	"log/slog"
	"net/http"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/httpx"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Middleware wires role authorization helpers for HTTP handlers. It expects the
// principal to be placed in the request context by the auth middleware.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the caller holds at least one of roles.
func (m Middleware) RequireAny(roles ...shared.Role) func(http.Handler) http.Handler {
	allowed := make(map[shared.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return m.require(func(role shared.Role) bool {
		_, ok := allowed[role]
		return ok
	})
}

// RequireStockManager admits admin, store officer and super admin callers.
func (m Middleware) RequireStockManager() func(http.Handler) http.Handler {
	return m.require(shared.Role.ManagesStock)
}

func (m Middleware) require(permit func(shared.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if !permit(principal.Role) {
				if m.Logger != nil {
					m.Logger.Warn("rbac denied",
						slog.Int64("user_id", principal.UserID),
						slog.String("role", string(principal.Role)),
						slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/shared"
)

// PermissionSource resolves the permissions granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service PermissionSource
	Logger  *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", normalizePermissions(perms), hasAnyPermission)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", normalizePermissions(perms), hasAllPermissions)
}

func (m Middleware) require(op string, required []string, check func(granted, required []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil || principal.UserID <= 0 {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if m.Service == nil {
				m.logError(op, errServiceMissing)
				httpx.RespondError(w, errServiceMissing)
				return
			}
			granted, err := m.Service.EffectivePermissions(r.Context(), principal.UserID)
			if err != nil {
				m.logError(op, err)
				httpx.RespondError(w, err)
				return
			}
			if !check(granted, required) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logError(op string, err error) {
	if m.Logger != nil {
		m.Logger.Error(op, slog.Any("error", err))
	}
}

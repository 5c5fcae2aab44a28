package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/shared"
)

var errServiceMissing = errors.New("rbac: service not configured")

// AccessResolver resolves a user's permissions and data scope.
type AccessResolver interface {
	Access(ctx context.Context, userID int64) (Access, error)
}

// AccessHandler reports the caller's effective access so clients can build
// brand and channel pickers.
type AccessHandler struct {
	logger   *slog.Logger
	resolver AccessResolver
}

// NewAccessHandler builds an AccessHandler.
func NewAccessHandler(logger *slog.Logger, resolver AccessResolver) *AccessHandler {
	return &AccessHandler{logger: logger, resolver: resolver}
}

// MountRoutes registers the access routes.
func (h *AccessHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.getAccess)
}

func (h *AccessHandler) getAccess(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	access, err := h.resolver.Access(r.Context(), principal.UserID)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("resolve access", slog.Int64("user_id", principal.UserID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

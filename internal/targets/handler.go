package targets

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/shared"
)

const maxTargetsBody = 1 << 20

// Handler exposes target endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   func(...string) func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. guard wraps the write route with a
// permission check.
func NewHandler(logger *slog.Logger, service *Service, guard func(...string) func(http.Handler) http.Handler) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers target routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{year}", h.getYear)
	r.With(h.guard(shared.PermTargetsManage)).Put("/", h.putTargets)
}

type saveRequest struct {
	Entries []Entry `json:"entries"`
}

func (h *Handler) getYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 2000 || year > 2100 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "year must be a four digit year")
		return
	}
	out, err := h.service.Year(r.Context(), year)
	if err != nil {
		h.logError("load targets", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) putTargets(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req saveRequest
	if err := httpx.DecodeJSON(w, r, maxTargetsBody, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Save(r.Context(), principal.UserID, req.Entries); err != nil {
		var mismatch *MismatchError
		if errors.As(err, &mismatch) {
			httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      mismatch.Error(),
				"mismatches": mismatch.Mismatches,
			})
			return
		}
		h.logError("save targets", err)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logError(op string, err error) {
	if h.logger == nil || errors.Is(err, httpx.ErrValidation) {
		return
	}
	h.logger.Error(op, slog.Any("error", err))
}

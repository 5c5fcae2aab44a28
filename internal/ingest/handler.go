package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/sales"
	"github.com/chai-vision/chai-vision/internal/shared"
)

const uploadsPerMinute = 5

// BatchStore lists and removes imported batches.
type BatchStore interface {
	Batches(ctx context.Context, limit int) ([]sales.Batch, error)
	DeleteBatch(ctx context.Context, id uuid.UUID) error
}

// Handler exposes the upload endpoints.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	batches    BatchStore
	requireAll func(...string) func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. requireAll guards batch deletion, which
// removes rows for every brand in the file.
func NewHandler(logger *slog.Logger, service *Service, batches BatchStore, requireAll func(...string) func(http.Handler) http.Handler) *Handler {
	return &Handler{logger: logger, service: service, batches: batches, requireAll: requireAll}
}

// MountRoutes registers upload routes. Callers guard the group with
// sales.upload.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listBatches)
	r.With(h.requireAll(shared.PermSalesUpload, shared.PermDataAll)).Delete("/{id}", h.deleteBatch)
	r.With(httpx.RateLimit(uploadsPerMinute, time.Minute)).Post("/", h.upload)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	// multipart overhead on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.service.MaxBytes()+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.RespondError(w, httpx.ErrTooLarge)
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	result, err := h.service.Import(r.Context(), Upload{
		Filename:   header.Filename,
		Body:       file,
		UploadedBy: principal.UserID,
	})
	if err != nil {
		if errors.Is(err, ErrNoValidRows) {
			httpx.JSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		h.logError("import upload", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	batches, err := h.batches.Batches(r.Context(), limit)
	if err != nil {
		h.logError("list batches", err)
		httpx.RespondError(w, err)
		return
	}
	if batches == nil {
		batches = []sales.Batch{}
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) deleteBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	if err := h.batches.DeleteBatch(r.Context(), id); err != nil {
		h.logError("delete batch", err)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logError(op string, err error) {
	if h.logger == nil || errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrDuplicate) {
		return
	}
	h.logger.Error(op, slog.Any("error", err))
}

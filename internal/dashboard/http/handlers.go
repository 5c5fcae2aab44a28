package dashboardhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chai-vision/chai-vision/internal/dashboard"
	"github.com/chai-vision/chai-vision/internal/dashboard/export"
	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/periods"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/shared"
)

const requestTimeout = 5 * time.Second

// KPIService is the dashboard contract used by the handler.
type KPIService interface {
	KPIs(ctx context.Context, userID int64, q dashboard.Query) (dashboard.Snapshot, error)
	SKUs(ctx context.Context, userID int64, q dashboard.Query, channel string) (dashboard.SKUReport, error)
	Now() time.Time
}

// Guard wraps routes with a permission check.
type Guard func(perms ...string) func(http.Handler) http.Handler

// Handler serves the KPI endpoints.
type Handler struct {
	logger   *slog.Logger
	service  KPIService
	guard    Guard
	validate *validator.Validate
	csvPool  sync.Pool
}

// NewHandler constructs the dashboard HTTP handler.
func NewHandler(logger *slog.Logger, service KPIService, guard Guard) *Handler {
	h := &Handler{
		logger:   logger,
		service:  service,
		guard:    guard,
		validate: validator.New(),
	}
	h.csvPool.New = func() any { return new(bytes.Buffer) }
	return h
}

type validationError struct {
	field string
	err   error
}

func (v validationError) Error() string {
	if v.err != nil {
		return fmt.Sprintf("invalid %s: %v", v.field, v.err)
	}
	return fmt.Sprintf("invalid %s", v.field)
}

func (h *Handler) parseQuery(r *http.Request) (dashboard.Query, error) {
	values := r.URL.Query()
	sel := periods.Selector{
		View:   strings.ToLower(strings.TrimSpace(values.Get("view"))),
		Year:   strings.TrimSpace(values.Get("year")),
		Period: values.Get("period"),
		Month:  values.Get("month"),
		From:   values.Get("from"),
		To:     values.Get("to"),
	}
	if err := h.validate.Struct(sel); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return dashboard.Query{}, validationError{field: strings.ToLower(verrs[0].Field())}
		}
		return dashboard.Query{}, validationError{field: "query", err: err}
	}
	view, err := periods.ParseView(sel, h.service.Now())
	if err != nil {
		return dashboard.Query{}, validationError{field: "view", err: err}
	}
	brand := strings.TrimSpace(values.Get("brand"))
	if len(brand) > 120 {
		return dashboard.Query{}, validationError{field: "brand"}
	}
	return dashboard.Query{View: view, Brand: brand}, nil
}

func (h *Handler) handleKPIs(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}
	q, err := h.parseQuery(r)
	if err != nil {
		h.handleQueryError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	snap, err := h.service.KPIs(ctx, userID, q)
	if err != nil {
		h.handleServiceError(w, "load kpis", err)
		return
	}
	if snap.Stale {
		w.Header().Set("Warning", `110 - "Response is Stale"`)
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleSKUs(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}
	q, err := h.parseQuery(r)
	if err != nil {
		h.handleQueryError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	report, err := h.service.SKUs(ctx, userID, q, r.URL.Query().Get("channel"))
	if err != nil {
		h.handleServiceError(w, "load skus", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}
	q, err := h.parseQuery(r)
	if err != nil {
		h.handleQueryError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	snap, err := h.service.KPIs(ctx, userID, q)
	if err != nil {
		h.handleServiceError(w, "load kpis", err)
		return
	}
	skus, err := h.service.SKUs(ctx, userID, q, "")
	if err != nil {
		h.handleServiceError(w, "load skus", err)
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := export.WriteSummaryCSV(buf, snap.Result, snap.Brand); err != nil {
		h.handleServerError(w, "write summary csv", err)
		return
	}
	buf.WriteString("\n")
	if err := export.WriteChannelCSV(buf, snap.Result); err != nil {
		h.handleServerError(w, "write channel csv", err)
		return
	}
	buf.WriteString("\n")
	if err := export.WriteSKUCSV(buf, skus.Rows); err != nil {
		h.handleServerError(w, "write sku csv", err)
		return
	}

	filename := fmt.Sprintf("chai-kpis-%s-%s.csv", snap.Result.Period, slug(snap.Brand))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func principalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	p := shared.PrincipalFromContext(r.Context())
	if p == nil || p.UserID <= 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return 0, false
	}
	return p.UserID, true
}

func (h *Handler) handleQueryError(w http.ResponseWriter, err error) {
	var vErr validationError
	if errors.As(err, &vErr) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", vErr.Error())
		return
	}
	h.handleServerError(w, "parse query", err)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		h.logError(op, err)
		httpx.Problem(w, http.StatusGatewayTimeout, "Timeout", "computation exceeded the request deadline")
	case errors.Is(err, kpi.ErrAggregationMismatch):
		h.handleServerError(w, op, err)
	default:
		if !errors.Is(err, httpx.ErrForbidden) {
			h.logError(op, err)
		}
		httpx.RespondError(w, err)
	}
}

func (h *Handler) handleServerError(w http.ResponseWriter, op string, err error) {
	h.logError(op, err)
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func (h *Handler) logError(op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
}

func slug(label string) string {
	key := kpi.NormalizeKey(label)
	if key == "" {
		return "all"
	}
	return key
}

package dashboardhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-vision/chai-vision/internal/dashboard"
	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/sales"
	"github.com/chai-vision/chai-vision/internal/shared"
)

type fakeService struct {
	lastQuery dashboard.Query
	err       error
	stale     bool
}

func (f *fakeService) KPIs(_ context.Context, _ int64, q dashboard.Query) (dashboard.Snapshot, error) {
	f.lastQuery = q
	if f.err != nil {
		return dashboard.Snapshot{}, f.err
	}
	return dashboard.Snapshot{
		Result: kpi.KPIResult{
			Period:          q.View.String(),
			TotalRevenue:    1500,
			ChannelRevenues: map[string]float64{"Amazon": 1500},
		},
		Brand: "All Brands",
		Stale: f.stale,
	}, nil
}

func (f *fakeService) SKUs(_ context.Context, _ int64, q dashboard.Query, channel string) (dashboard.SKUReport, error) {
	f.lastQuery = q
	return dashboard.SKUReport{Period: q.View.String(), Channel: channel, Rows: []kpi.SKURevenue{{SKU: "LP-1", Revenue: 1500}}}, nil
}

func (f *fakeService) Now() time.Time {
	return time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
}

type recordingGuard struct {
	denied map[string]bool
}

func (g recordingGuard) require(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range perms {
				if g.denied[p] {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRouter(svc KPIService, guard recordingGuard) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/kpis", NewHandler(nil, svc, guard.require).MountRoutes)
	return r
}

func get(t *testing.T, router http.Handler, target string, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userID > 0 {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), &shared.Principal{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleKPIsParsesViews(t *testing.T) {
	svc := &fakeService{}
	router := newRouter(svc, recordingGuard{})

	cases := map[string]string{
		"/api/kpis/":                                           "2025",
		"/api/kpis/?view=quarterly":                            "2025-Q2",
		"/api/kpis/?view=quarterly&year=2024&period=Q4":        "2024-Q4",
		"/api/kpis/?view=monthly&month=2":                      "2025-02",
		"/api/kpis/?view=custom&from=2025-01-01&to=2025-01-31": "2025-01-01_2025-01-31",
		"/api/kpis/?view=annual&year=2023&brand=LifePro":       "2023",
	}
	for target, period := range cases {
		rec := get(t, router, target, 1)
		require.Equal(t, http.StatusOK, rec.Code, target)
		var snap dashboard.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, period, snap.Result.Period, target)
	}

	get(t, router, "/api/kpis/?brand=%20LifePro%20", 1)
	assert.Equal(t, "LifePro", svc.lastQuery.Brand)
}

func TestHandleKPIsRejectsBadQueries(t *testing.T) {
	router := newRouter(&fakeService{}, recordingGuard{})
	for _, target := range []string{
		"/api/kpis/?view=weekly",
		"/api/kpis/?year=20x5",
		"/api/kpis/?view=quarterly&period=Q5",
		"/api/kpis/?view=custom&from=2025-02-01&to=2025-01-01",
		"/api/kpis/?view=custom",
		"/api/kpis/?brand=" + strings.Repeat("x", 121),
	} {
		rec := get(t, router, target, 1)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"), target)
	}
}

func TestHandleKPIsRequiresPrincipal(t *testing.T) {
	rec := get(t, newRouter(&fakeService{}, recordingGuard{}), "/api/kpis/", 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleKPIsMapsServiceErrors(t *testing.T) {
	svc := &fakeService{err: dashboard.ErrBrandForbidden}
	router := newRouter(svc, recordingGuard{})
	assert.Equal(t, http.StatusForbidden, get(t, router, "/api/kpis/?brand=Hidden", 1).Code)

	svc.err = sales.ErrUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/api/kpis/", 1).Code)

	svc.err = kpi.ErrAggregationMismatch
	assert.Equal(t, http.StatusInternalServerError, get(t, router, "/api/kpis/", 1).Code)

	svc.err = context.DeadlineExceeded
	assert.Equal(t, http.StatusGatewayTimeout, get(t, router, "/api/kpis/", 1).Code)
}

func TestHandleKPIsMarksStale(t *testing.T) {
	rec := get(t, newRouter(&fakeService{stale: true}, recordingGuard{}), "/api/kpis/", 1)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Warning"))
}

func TestHandleSKUs(t *testing.T) {
	rec := get(t, newRouter(&fakeService{}, recordingGuard{}), "/api/kpis/skus?view=monthly&month=May&channel=Amazon", 1)
	require.Equal(t, http.StatusOK, rec.Code)
	var report dashboard.SKUReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "2025-05", report.Period)
	assert.Equal(t, "Amazon", report.Channel)
	assert.Len(t, report.Rows, 1)
}

func TestHandleCSV(t *testing.T) {
	router := newRouter(&fakeService{}, recordingGuard{})
	rec := get(t, router, "/api/kpis/export.csv?view=quarterly&period=1", 1)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "chai-kpis-2025-Q1-allbrands.csv")
	body := rec.Body.String()
	assert.Contains(t, body, "Total Revenue,1500.00")
	assert.Contains(t, body, "Amazon,1500.00")
	assert.Contains(t, body, "LP-1,,1500.00")

	denied := newRouter(&fakeService{}, recordingGuard{denied: map[string]bool{shared.PermDashboardExport: true}})
	assert.Equal(t, http.StatusForbidden, get(t, denied, "/api/kpis/export.csv", 1).Code)
}

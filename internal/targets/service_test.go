package targets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/cache"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/shared"
)

type mockStore struct {
	entries []Entry
	loads   int
	err     error
}

func (m *mockStore) Load(_ context.Context, year int) (kpi.TargetTable, error) {
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	var rows []Entry
	for _, e := range m.entries {
		if e.Year == year {
			rows = append(rows, e)
		}
	}
	return Merge(kpi.TargetTable{}, rows), nil
}

func (m *mockStore) Upsert(_ context.Context, entries []Entry, _ int64) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func newRemote(t *testing.T) *cache.Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewVersioned(client, CacheNamespace, time.Minute)
}

func quarterEntries(year int, brand, channel string, annual float64, quarters ...float64) []Entry {
	out := []Entry{{Year: year, Brand: brand, Period: "annual", Channel: channel, Amount: annual}}
	for i, amount := range quarters {
		out = append(out, Entry{Year: year, Brand: brand, Period: string(kpi.QuarterPeriod(i + 1)), Channel: channel, Amount: amount})
	}
	return out
}

func TestValidateTableTolerance(t *testing.T) {
	table := Merge(nil, quarterEntries(2025, "LifePro", "Amazon", 1000, 250, 250, 250, 250.5))
	assert.Empty(t, ValidateTable(table, DefaultTolerance))

	table = Merge(nil, quarterEntries(2025, "LifePro", "Amazon", 1000, 250, 250, 250, 200))
	mismatches := ValidateTable(table, DefaultTolerance)
	require.Len(t, mismatches, 1)
	assert.Equal(t, Mismatch{Year: 2025, Brand: "LifePro", Channel: "Amazon", Annual: 1000, Quarters: 950}, mismatches[0])

	// Small targets always get 1.00 of slack.
	table = Merge(nil, quarterEntries(2025, "LifePro", "Amazon", 10, 2.5, 2.5, 2.5, 3.4))
	assert.Empty(t, ValidateTable(table, DefaultTolerance))

	// Incomplete quarters are not checked.
	table = Merge(nil, quarterEntries(2025, "LifePro", "Amazon", 1000, 10))
	assert.Empty(t, ValidateTable(table, DefaultTolerance))
}

func TestMergeMatchesLabelsByKey(t *testing.T) {
	table := Merge(nil, []Entry{
		{Year: 2025, Brand: "LifePro", Period: "annual", Channel: "Amazon", Amount: 1},
		{Year: 2025, Brand: "lifepro", Period: "ANNUAL", Channel: " amazon ", Amount: 2},
		{Year: 2025, Brand: "LifePro", Period: "bogus", Channel: "Amazon", Amount: 3},
	})
	assert.Equal(t, kpi.TargetTable{2025: {"LifePro": {kpi.PeriodAnnual: {"Amazon": 2}}}}, table)
}

func TestSaveRejectsMismatchAgainstStoredQuarters(t *testing.T) {
	store := &mockStore{entries: quarterEntries(2025, "LifePro", "Amazon", 1000, 250, 250, 250, 250)}
	svc := NewService(store, nil, nil)

	err := svc.Save(context.Background(), 1, []Entry{{Year: 2025, Brand: "LifePro", Period: "q1", Channel: "Amazon", Amount: 400}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTargetMismatch)
	assert.ErrorIs(t, err, httpx.ErrValidation)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 1150.0, mismatch.Mismatches[0].Quarters)

	err = svc.Save(context.Background(), 1, []Entry{
		{Year: 2025, Brand: "LifePro", Period: "Q1", Channel: "Amazon", Amount: 400},
		{Year: 2025, Brand: "LifePro", Period: "annual", Channel: "Amazon", Amount: 1150},
	})
	require.NoError(t, err)
	assert.Len(t, store.entries, 7)
}

func TestSaveValidatesEntries(t *testing.T) {
	svc := NewService(&mockStore{}, nil, nil)
	cases := map[string]Entry{
		"year":    {Year: 1999, Brand: "A", Period: "Q1", Channel: "B", Amount: 1},
		"brand":   {Year: 2025, Period: "Q1", Channel: "B", Amount: 1},
		"period":  {Year: 2025, Brand: "A", Period: "H1", Channel: "B", Amount: 1},
		"amount":  {Year: 2025, Brand: "A", Period: "Q1", Channel: "B", Amount: -1},
		"channel": {Year: 2025, Brand: "A", Period: "Q1", Channel: "  ", Amount: 1},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			err := svc.Save(context.Background(), 1, []Entry{entry})
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
	assert.ErrorIs(t, svc.Save(context.Background(), 1, nil), ErrInvalidEntry)
}

func TestLoadIsCachedUntilSave(t *testing.T) {
	store := &mockStore{entries: quarterEntries(2025, "LifePro", "Amazon", 1000)}
	svc := NewService(store, newRemote(t), nil)
	ctx := context.Background()

	table, err := svc.Load(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, table[2025]["LifePro"][kpi.PeriodAnnual]["Amazon"])
	_, err = svc.Load(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads)

	require.NoError(t, svc.Save(ctx, 1, []Entry{{Year: 2025, Brand: "LifePro", Period: "annual", Channel: "Walmart", Amount: 5}}))
	table, err = svc.Load(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 5.0, table[2025]["LifePro"][kpi.PeriodAnnual]["Walmart"])
}

func TestVersionMovesOnSaveWithoutRedis(t *testing.T) {
	svc := NewService(&mockStore{}, nil, nil)
	ctx := context.Background()

	before := svc.Version(ctx)
	require.NoError(t, svc.Save(ctx, 1, []Entry{{Year: 2025, Brand: "LifePro", Period: "Q2", Channel: "Amazon", Amount: 10}}))
	assert.Greater(t, svc.Version(ctx), before)

	err := svc.Save(ctx, 1, []Entry{{Year: 2025, Brand: "", Period: "Q2", Channel: "Amazon", Amount: 10}})
	require.ErrorIs(t, err, ErrInvalidEntry)
	assert.Equal(t, before+1, svc.Version(ctx))
}

func allowAll(...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func newRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/targets", NewHandler(nil, svc, allowAll).MountRoutes)
	return r
}

func withPrincipal(req *http.Request) *http.Request {
	return req.WithContext(shared.ContextWithPrincipal(req.Context(), &shared.Principal{UserID: 7}))
}

func TestHandlerGetYear(t *testing.T) {
	store := &mockStore{entries: quarterEntries(2025, "LifePro", "Amazon", 1000, 100, 100, 100, 100)}
	router := newRouter(NewService(store, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/targets/2025", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body YearTargets
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2025, body.Year)
	assert.Len(t, body.Mismatches, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/targets/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerPutTargets(t *testing.T) {
	store := &mockStore{}
	router := newRouter(NewService(store, nil, nil))

	body, _ := json.Marshal(saveRequest{Entries: quarterEntries(2025, "LifePro", "Amazon", 1000, 250, 250, 250, 250)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withPrincipal(httptest.NewRequest(http.MethodPut, "/api/targets/", bytes.NewReader(body))))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, store.entries, 5)

	body, _ = json.Marshal(saveRequest{Entries: quarterEntries(2026, "LifePro", "Amazon", 1000, 1, 1, 1, 1)})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withPrincipal(httptest.NewRequest(http.MethodPut, "/api/targets/", bytes.NewReader(body))))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "mismatches")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/targets/", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withPrincipal(httptest.NewRequest(http.MethodPut, "/api/targets/", bytes.NewBufferString(`{"bogus":1}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

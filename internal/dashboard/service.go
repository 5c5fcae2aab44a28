// Package dashboard orchestrates sales data, targets and permissions into KPI
// snapshots for the dashboard API.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/observability"
	"github.com/chai-vision/chai-vision/internal/platform/cache"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/rbac"
	"github.com/chai-vision/chai-vision/internal/sales"
)

// ErrBrandForbidden is returned when a restricted user selects a brand outside
// their scope.
var ErrBrandForbidden = fmt.Errorf("dashboard: brand not permitted: %w", httpx.ErrForbidden)

// SalesSource loads raw sales records.
type SalesSource interface {
	LoadSalesData(ctx context.Context, filter sales.Filter) (sales.Dataset, error)
	Version(ctx context.Context) int64
}

// TargetSource loads the target table for a year.
type TargetSource interface {
	Load(ctx context.Context, year int) (kpi.TargetTable, error)
	Version(ctx context.Context) int64
}

// ScopeSource resolves the brands and channels a user may see.
type ScopeSource interface {
	Scope(ctx context.Context, userID int64) (rbac.Scope, error)
}

// Query selects one dashboard view.
type Query struct {
	View  kpi.View
	Brand string
}

func (q Query) key() string {
	brand := kpi.NormalizeKey(q.Brand)
	if brand == "" || brand == kpi.NormalizeKey(kpi.AllBrands) {
		brand = "all"
	}
	return q.View.String() + "|" + brand
}

// Snapshot is a computed dashboard state.
type Snapshot struct {
	Result      kpi.KPIResult    `json:"result"`
	Diagnostics kpi.Diagnostics  `json:"diagnostics"`
	Daily       []kpi.DailyPoint `json:"daily"`
	Brand       string           `json:"brand"`
	Stale       bool             `json:"stale"`
	GeneratedAt time.Time        `json:"generatedAt"`
	DataAsOf    time.Time        `json:"dataAsOf"`
	DataVersion string           `json:"dataVersion"`
}

// SKUReport is the per-SKU drill-down for one view and channel.
type SKUReport struct {
	Period  string           `json:"period"`
	Brand   string           `json:"brand"`
	Channel string           `json:"channel,omitempty"`
	Rows    []kpi.SKURevenue `json:"rows"`
	Stale   bool             `json:"stale"`
}

// Options configures the service.
type Options struct {
	Engine    *kpi.Engine
	MemoTTL   time.Duration
	MemoLimit int
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Service computes KPI snapshots.
type Service struct {
	sales   SalesSource
	targets TargetSource
	scopes  ScopeSource
	engine  *kpi.Engine
	memo    *cache.TTL[Snapshot]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService constructs the dashboard service.
func NewService(salesSrc SalesSource, targets TargetSource, scopes ScopeSource, opts Options) *Service {
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = 30 * time.Second
	}
	if opts.MemoLimit <= 0 {
		opts.MemoLimit = 512
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		sales:   salesSrc,
		targets: targets,
		scopes:  scopes,
		engine:  opts.Engine,
		memo:    cache.NewTTL[Snapshot](opts.MemoTTL, opts.MemoLimit),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// WithNow overrides the service clock. The engine and memo cache follow it.
// Call it before serving requests.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
		s.memo.WithClock(fn)
		if s.engine != nil {
			s.engine.WithNow(fn)
		}
	}
	return s
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// KPIs returns the snapshot for userID and q. Identical concurrent requests
// share one computation. If sales data cannot be loaded, the last snapshot
// computed for the same user and query is returned marked stale.
func (s *Service) KPIs(ctx context.Context, userID int64, q Query) (Snapshot, error) {
	if err := kpi.ValidateView(q.View); err != nil {
		return Snapshot{}, err
	}
	if s.engine == nil {
		return Snapshot{}, kpi.ErrWindowRequired
	}
	key := strconv.FormatInt(userID, 10) + "|" + q.key()
	version := s.dataVersion(ctx)
	if snap, ok := s.memo.Get(key); ok && snap.DataVersion == version {
		return snap, nil
	}

	snap, err := cache.Flight(ctx, &s.group, key+"|"+version, func(ctx context.Context) (Snapshot, error) {
		return s.compute(ctx, userID, q, version)
	})
	if err != nil {
		if errors.Is(err, sales.ErrUnavailable) {
			if snap, _, ok := s.memo.GetStale(key); ok {
				s.metrics.IncStale("snapshot")
				snap.Stale = true
				return snap, nil
			}
		}
		return Snapshot{}, err
	}
	s.memo.Set(key, snap)
	return snap, nil
}

func (s *Service) compute(ctx context.Context, userID int64, q Query, version string) (Snapshot, error) {
	start, end := q.View.Bounds()
	var (
		dataset sales.Dataset
		targets kpi.TargetTable
		scope   rbac.Scope
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dataset, err = s.sales.LoadSalesData(gctx, sales.Filter{From: start, To: end})
		return err
	})
	if _, isRange := q.View.(kpi.Range); !isRange {
		g.Go(func() error {
			var err error
			targets, err = s.targets.Load(gctx, q.View.Year())
			return err
		})
	}
	g.Go(func() error {
		var err error
		scope, err = s.scopes.Scope(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	sel, err := selectorFor(q, scope)
	if err != nil {
		return Snapshot{}, err
	}

	began := time.Now()
	result, diag, err := s.engine.Compute(dataset.Records, sel, targets)
	s.metrics.ObserveCompute(viewKind(q.View), time.Since(began))
	if err != nil {
		s.logger.Error("compute kpis",
			slog.Int64("user_id", userID),
			slog.String("period", q.View.String()),
			slog.Any("error", err),
		)
		return Snapshot{}, err
	}
	s.recordDiagnostics(diag, userID, q)
	if dataset.Stale {
		s.metrics.IncStale("sales")
	}

	return Snapshot{
		Result:      result,
		Diagnostics: diag,
		Daily:       kpi.DailySeries(result.AggregatedData),
		Brand:       displayBrand(q.Brand),
		Stale:       dataset.Stale,
		GeneratedAt: s.now().UTC(),
		DataAsOf:    dataset.FetchedAt.UTC(),
		DataVersion: version,
	}, nil
}

// SKUs returns the per-SKU breakdown for the view, optionally limited to one
// channel.
func (s *Service) SKUs(ctx context.Context, userID int64, q Query, channel string) (SKUReport, error) {
	if err := kpi.ValidateView(q.View); err != nil {
		return SKUReport{}, err
	}
	start, end := q.View.Bounds()
	var (
		dataset sales.Dataset
		scope   rbac.Scope
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dataset, err = s.sales.LoadSalesData(gctx, sales.Filter{From: start, To: end})
		return err
	})
	g.Go(func() error {
		var err error
		scope, err = s.scopes.Scope(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return SKUReport{}, err
	}
	sel, err := selectorFor(q, scope)
	if err != nil {
		return SKUReport{}, err
	}
	normalized, _ := kpi.Normalize(dataset.Records, s.now())
	filtered := kpi.FilterRecords(normalized, sel)
	return SKUReport{
		Period:  q.View.String(),
		Brand:   displayBrand(q.Brand),
		Channel: strings.TrimSpace(channel),
		Rows:    kpi.SKUBreakdown(filtered, channel),
		Stale:   dataset.Stale,
	}, nil
}

func (s *Service) dataVersion(ctx context.Context) string {
	return strconv.FormatInt(s.sales.Version(ctx), 10) + "." + strconv.FormatInt(s.targets.Version(ctx), 10)
}

func (s *Service) recordDiagnostics(diag kpi.Diagnostics, userID int64, q Query) {
	if diag.Dropped == 0 {
		return
	}
	reasons := make(map[string]int, len(diag.DropReasons))
	for reason, n := range diag.DropReasons {
		reasons[string(reason)] = n
	}
	s.metrics.AddDroppedRows(reasons)
	s.logger.Warn("sales rows dropped",
		slog.Int64("user_id", userID),
		slog.String("period", q.View.String()),
		slog.Int("received", diag.Received),
		slog.Int("dropped", diag.Dropped),
	)
}

func selectorFor(q Query, scope rbac.Scope) (kpi.ViewSelector, error) {
	brand := strings.TrimSpace(q.Brand)
	if brand == "" {
		brand = kpi.AllBrands
	}
	if !scope.Unrestricted && kpi.NormalizeKey(brand) != kpi.NormalizeKey(kpi.AllBrands) {
		permitted := false
		for _, b := range scope.Brands {
			if kpi.NormalizeKey(b) == kpi.NormalizeKey(brand) {
				permitted = true
				break
			}
		}
		if !permitted {
			return kpi.ViewSelector{}, ErrBrandForbidden
		}
	}
	return kpi.ViewSelector{
		View:              q.View,
		Brand:             brand,
		AvailableBrands:   scope.Brands,
		AvailableChannels: scope.Channels,
		Unrestricted:      scope.Unrestricted,
	}, nil
}

func displayBrand(brand string) string {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return kpi.AllBrands
	}
	return brand
}

func viewKind(v kpi.View) string {
	switch v.(type) {
	case kpi.Annual:
		return "annual"
	case kpi.Quarterly:
		return "quarterly"
	case kpi.Monthly:
		return "monthly"
	case kpi.Range:
		return "range"
	default:
		return "unknown"
	}
}

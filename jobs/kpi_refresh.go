package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/chai-vision/chai-vision/internal/jobs"
	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/sales"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SalesCache is the part of the sales service the refresh job drives.
type SalesCache interface {
	LoadSalesData(ctx context.Context, filter sales.Filter) (sales.Dataset, error)
	Invalidate(ctx context.Context) error
}

// TargetLoader warms the target table for a year.
type TargetLoader interface {
	Load(ctx context.Context, year int) (kpi.TargetTable, error)
}

// KPIRefreshJob drops cached sales snapshots and reloads the windows behind
// the default dashboard views.
type KPIRefreshJob struct {
	Sales   SalesCache
	Targets TargetLoader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewKPIRefreshJob wires dependencies for the refresh handler.
func NewKPIRefreshJob(salesCache SalesCache, targets TargetLoader, logger *slog.Logger, metrics *jobmetrics.Metrics) *KPIRefreshJob {
	return &KPIRefreshJob{
		Sales:   salesCache,
		Targets: targets,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes kpi:refresh tasks.
func (j *KPIRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sales == nil {
		return errors.New("kpi refresh: handler not configured")
	}
	var payload KPIRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("kpi refresh: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskKPIRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	year := payload.Year
	if year == 0 {
		year = now.Year()
	}
	logger := j.logger().With(slog.String("reason", payload.Reason), slog.Int("year", year))
	logger.Info("starting kpi refresh")

	if !payload.SkipInvalidate {
		if err := j.Sales.Invalidate(ctx); err != nil {
			// Warming still helps this instance even when the bump failed.
			logger.Warn("invalidate sales cache", slog.Any("error", err))
		}
	}

	views, err := warmViews(year, now)
	if err != nil {
		resultErr = fmt.Errorf("kpi refresh: %v: %w", err, asynq.SkipRetry)
		return resultErr
	}

	rows := 0
	for _, view := range views {
		start, end := view.Bounds()
		ds, err := j.Sales.LoadSalesData(ctx, sales.Filter{From: start, To: end})
		if err != nil {
			resultErr = err
			logger.Error("warm sales window", slog.String("view", view.String()), slog.Any("error", err))
			return resultErr
		}
		if ds.Stale {
			resultErr = fmt.Errorf("kpi refresh: storage unavailable for %s", view.String())
			logger.Error("warm sales window served stale data", slog.String("view", view.String()))
			return resultErr
		}
		rows += len(ds.Records)
		j.metrics().AddWarmed("sales", 1)
	}

	if j.Targets != nil {
		if _, err := j.Targets.Load(ctx, year); err != nil {
			resultErr = err
			logger.Error("warm targets", slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddWarmed("targets", 1)
	}

	logger.Info("completed kpi refresh",
		slog.Int("windows", len(views)),
		slog.Int("rows", rows),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

// warmViews returns the annual view for year plus, when year is the current
// one, the quarter and month the dashboard defaults to.
func warmViews(year int, now time.Time) ([]kpi.View, error) {
	annual, err := kpi.NewAnnual(year)
	if err != nil {
		return nil, err
	}
	views := []kpi.View{annual}
	if year != now.Year() {
		return views, nil
	}
	quarter, err := kpi.NewQuarterly(year, kpi.QuarterOf(now.Month()))
	if err != nil {
		return nil, err
	}
	month, err := kpi.NewMonthly(year, now.Month())
	if err != nil {
		return nil, err
	}
	return append(views, quarter, month), nil
}

func (j *KPIRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskKPIRefresh))
	}
	return slog.Default().With(slog.String("job", TaskKPIRefresh))
}

func (j *KPIRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *KPIRefreshJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

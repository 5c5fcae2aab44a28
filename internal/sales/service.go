package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/cache"
)

const cacheNamespace = "sales"

// Store is the persistence surface the service reads through.
type Store interface {
	ListRecords(ctx context.Context, filter Filter) ([]kpi.SalesRecord, error)
	ListBatches(ctx context.Context, limit int) ([]Batch, error)
	DeleteBatch(ctx context.Context, id uuid.UUID) error
}

// Service loads sales records through a shared Redis cache, keeping the last
// successful load per window in process for when storage is unreachable.
type Service struct {
	store  Store
	remote *cache.Versioned
	local  *cache.TTL[Dataset]
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group

	// generation counts local invalidations so Version moves even when the
	// shared cache is disabled or unreachable.
	generation atomic.Int64
}

// NewService constructs a sales service. remote and local may be nil.
func NewService(store Store, remote *cache.Versioned, local *cache.TTL[Dataset], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if local == nil {
		local = cache.NewTTL[Dataset](time.Minute, 64)
	}
	return &Service{store: store, remote: remote, local: local, logger: logger, now: time.Now}
}

// NewRemoteCache builds the versioned cache the service and its invalidation
// listeners share.
func NewRemoteCache(client *redis.Client, ttl time.Duration) *cache.Versioned {
	return cache.NewVersioned(client, cacheNamespace, ttl)
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// LoadSalesData returns every record inside filter. When both caches miss and
// storage fails, the last snapshot loaded for the same window is returned
// with Stale set. Concurrent loads of the same window share one query.
func (s *Service) LoadSalesData(ctx context.Context, filter Filter) (Dataset, error) {
	if s == nil || s.store == nil {
		return Dataset{}, ErrUnavailable
	}
	key := filterKey(filter)
	if ds, ok := s.local.Get(key); ok {
		return ds, nil
	}
	ds, err := cache.Flight(ctx, &s.group, key, func(ctx context.Context) (Dataset, error) {
		return s.load(ctx, key, filter)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Dataset{}, ctxErr
		}
		return s.fallback(key, err)
	}
	return ds, nil
}

func (s *Service) load(ctx context.Context, key string, filter Filter) (Dataset, error) {
	remoteKey, err := s.remote.BuildKey(ctx, key)
	if err != nil {
		s.logger.Warn("sales cache version unavailable", slog.Any("error", err))
		remoteKey = key
	}
	var records []kpi.SalesRecord
	loader := func(ctx context.Context) (any, error) {
		recs, err := s.store.ListRecords(ctx, filter)
		if err != nil {
			return nil, storeError{err: err}
		}
		return recs, nil
	}
	if err := s.remote.FetchJSON(ctx, remoteKey, &records, loader); err != nil {
		if !s.remote.Enabled() || isStoreError(err) {
			return Dataset{}, err
		}
		s.logger.Warn("sales cache read failed, querying storage", slog.Any("error", err))
		records, err = s.store.ListRecords(ctx, filter)
		if err != nil {
			return Dataset{}, err
		}
	}
	if records == nil {
		records = []kpi.SalesRecord{}
	}
	ds := Dataset{Records: records, FetchedAt: s.now()}
	s.local.Set(key, ds)
	return ds, nil
}

func (s *Service) fallback(key string, cause error) (Dataset, error) {
	ds, storedAt, ok := s.local.GetStale(key)
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %v", ErrUnavailable, cause)
	}
	s.logger.Warn("serving stale sales snapshot",
		slog.String("window", key),
		slog.Time("stored_at", storedAt),
		slog.Any("error", cause),
	)
	ds.Stale = true
	ds.FetchedAt = storedAt
	return ds, nil
}

// Invalidate drops cached records after new data lands.
func (s *Service) Invalidate(ctx context.Context) error {
	s.generation.Add(1)
	s.local.Purge()
	if _, err := s.remote.Bump(ctx); err != nil {
		return fmt.Errorf("sales: bump cache: %w", err)
	}
	return nil
}

// Watch purges the local snapshot whenever another instance bumps the cache.
func (s *Service) Watch(ctx context.Context) error {
	return s.remote.ListenForInvalidation(ctx, func(version int64) {
		s.logger.Debug("sales cache bumped", slog.Int64("version", version))
		s.generation.Add(1)
		s.local.Purge()
	})
}

// Version changes whenever cached records are invalidated, locally or by
// another instance. Both terms only grow, so their sum never repeats.
func (s *Service) Version(ctx context.Context) int64 {
	ver, err := s.remote.Version(ctx)
	if err != nil {
		ver = 0
	}
	return ver + s.generation.Load()
}

// Batches lists recent imports.
func (s *Service) Batches(ctx context.Context, limit int) ([]Batch, error) {
	return s.store.ListBatches(ctx, limit)
}

// DeleteBatch removes an import and its records.
func (s *Service) DeleteBatch(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteBatch(ctx, id); err != nil {
		return err
	}
	return s.Invalidate(ctx)
}

func filterKey(filter Filter) string {
	return "records:" + formatBound(filter.From) + ":" + formatBound(filter.To)
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format("2006-01-02")
}

// storeError marks failures raised by the loader so they are not mistaken
// for Redis errors.
type storeError struct{ err error }

func (e storeError) Error() string { return e.err.Error() }
func (e storeError) Unwrap() error { return e.err }

func isStoreError(err error) bool {
	var se storeError
	return errors.As(err, &se)
}

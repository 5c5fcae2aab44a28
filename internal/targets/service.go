package targets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/cache"
)

// CacheNamespace prefixes every cached target key.
const CacheNamespace = "targets"

// Store is the persistence surface for targets.
type Store interface {
	Load(ctx context.Context, year int) (kpi.TargetTable, error)
	Upsert(ctx context.Context, entries []Entry, updatedBy int64) error
}

// Service reads and writes targets, caching loaded years in Redis.
type Service struct {
	store     Store
	remote    *cache.Versioned
	validate  *validator.Validate
	tolerance float64
	logger    *slog.Logger

	generation atomic.Int64
}

// NewService constructs a target service. remote may be nil.
func NewService(store Store, remote *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		remote:    remote,
		validate:  validator.New(),
		tolerance: DefaultTolerance,
		logger:    logger,
	}
}

// WithTolerance overrides the annual versus quarters tolerance.
func (s *Service) WithTolerance(tolerance float64) *Service {
	if tolerance > 0 {
		s.tolerance = tolerance
	}
	return s
}

// Load returns the target table for year.
func (s *Service) Load(ctx context.Context, year int) (kpi.TargetTable, error) {
	key, err := s.remote.BuildKey(ctx, CacheNamespace, strconv.Itoa(year))
	if err != nil {
		s.logger.Warn("targets cache version unavailable", slog.Any("error", err))
		return s.store.Load(ctx, year)
	}
	var table kpi.TargetTable
	err = s.remote.FetchJSON(ctx, key, &table, func(ctx context.Context) (any, error) {
		return s.store.Load(ctx, year)
	})
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = kpi.TargetTable{}
	}
	return table, nil
}

// Year returns one year's targets together with any quarter mismatches.
func (s *Service) Year(ctx context.Context, year int) (YearTargets, error) {
	table, err := s.Load(ctx, year)
	if err != nil {
		return YearTargets{}, err
	}
	brands := table[year]
	if brands == nil {
		brands = map[string]kpi.BrandTargets{}
	}
	return YearTargets{
		Year:       year,
		Targets:    brands,
		Mismatches: ValidateTable(table, s.tolerance),
	}, nil
}

// Save validates and stores entries. Each affected year is merged with its
// stored targets and checked as a whole before anything is written.
func (s *Service) Save(ctx context.Context, updatedBy int64, entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidEntry)
	}
	years := make(map[int]struct{})
	for i := range entries {
		if err := s.validateEntry(&entries[i]); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		years[entries[i].Year] = struct{}{}
	}

	var mismatches []Mismatch
	for year := range years {
		current, err := s.store.Load(ctx, year)
		if err != nil {
			return err
		}
		mismatches = append(mismatches, ValidateTable(Merge(current, entriesFor(entries, year)), s.tolerance)...)
	}
	if len(mismatches) > 0 {
		sort.SliceStable(mismatches, func(i, j int) bool { return mismatches[i].Year < mismatches[j].Year })
		return &MismatchError{Mismatches: mismatches}
	}

	if err := s.store.Upsert(ctx, entries, updatedBy); err != nil {
		return err
	}
	s.generation.Add(1)
	if _, err := s.remote.Bump(ctx); err != nil {
		s.logger.Warn("targets cache bump failed", slog.Any("error", err))
	}
	return nil
}

// Version moves on every save here and on every bump from another instance.
func (s *Service) Version(ctx context.Context) int64 {
	ver, err := s.remote.Version(ctx)
	if err != nil {
		ver = 0
	}
	return ver + s.generation.Load()
}

func (s *Service) validateEntry(e *Entry) error {
	e.Brand = strings.TrimSpace(e.Brand)
	e.Channel = strings.TrimSpace(e.Channel)
	if err := s.validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrInvalidEntry, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	period, ok := kpi.ParseTargetPeriod(e.Period)
	if !ok {
		return fmt.Errorf("%w: period %q", ErrInvalidEntry, e.Period)
	}
	e.Period = string(period)
	return nil
}

func entriesFor(entries []Entry, year int) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Year == year {
			out = append(out, e)
		}
	}
	return out
}

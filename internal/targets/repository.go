package targets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/db"
)

// Repository persists targets in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const loadTargetsSQL = `SELECT year, brand, period, channel, amount
FROM sales_targets
WHERE year = $1
ORDER BY brand, period, channel`

// Load returns the target table for one year. A year without rows yields an
// empty table rather than an error. Amounts travel as decimal.Decimal through
// the codec registered in db.New.
func (r *Repository) Load(ctx context.Context, year int) (kpi.TargetTable, error) {
	rows, err := r.pool.Query(ctx, loadTargetsSQL, year)
	if err != nil {
		return nil, fmt.Errorf("targets: load %d: %w", year, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e      Entry
			amount decimal.Decimal
		)
		err := row.Scan(&e.Year, &e.Brand, &e.Period, &e.Channel, &amount)
		e.Amount = amount.InexactFloat64()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("targets: scan %d: %w", year, err)
	}
	return Merge(kpi.TargetTable{}, entries), nil
}

const upsertTargetSQL = `INSERT INTO sales_targets (year, brand, brand_key, period, channel, channel_key, amount, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (year, brand_key, period, channel_key)
DO UPDATE SET amount = EXCLUDED.amount, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

// Upsert writes entries in a single transaction.
func (r *Repository) Upsert(ctx context.Context, entries []Entry, updatedBy int64) error {
	now := time.Now().UTC()
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			period, _ := kpi.ParseTargetPeriod(e.Period)
			batch.Queue(upsertTargetSQL,
				e.Year, strings.TrimSpace(e.Brand), kpi.NormalizeKey(e.Brand), string(period),
				strings.TrimSpace(e.Channel), kpi.NormalizeKey(e.Channel), decimal.NewFromFloat(e.Amount).Round(2), updatedBy, now)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("targets: upsert: %w", err)
		}
		return nil
	})
}

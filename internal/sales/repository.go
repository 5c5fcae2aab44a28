package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for sales records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the writes performed while importing a batch.
type TxRepository interface {
	CreateBatch(ctx context.Context, batch Batch) error
	CopyRecords(ctx context.Context, batchID uuid.UUID, records []kpi.SalesRecord) (int64, error)
	EnsureLabels(ctx context.Context, records []kpi.SalesRecord) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a single transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const listRecordsSQL = `SELECT to_char(sale_date, 'YYYY-MM-DD'), brand, channel,
	COALESCE(sku, ''), COALESCE(units, 0)::float8, revenue::float8
FROM sales_records
WHERE ($1::date IS NULL OR sale_date >= $1::date)
  AND ($2::date IS NULL OR sale_date <= $2::date)
ORDER BY sale_date, channel, brand`

// ListRecords returns the stored records inside the filter window.
func (r *Repository) ListRecords(ctx context.Context, filter Filter) ([]kpi.SalesRecord, error) {
	rows, err := r.pool.Query(ctx, listRecordsSQL, dateParam(filter.From), dateParam(filter.To))
	if err != nil {
		return nil, fmt.Errorf("sales: list records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (kpi.SalesRecord, error) {
		var (
			rec     kpi.SalesRecord
			revenue decimal.Decimal
		)
		err := row.Scan(&rec.Date, &rec.Brand, &rec.Channel, &rec.SKU, &rec.Units, &revenue)
		rec.Revenue = revenue.InexactFloat64()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("sales: scan records: %w", err)
	}
	return records, nil
}

// ListBatches returns the most recent imports first.
func (r *Repository) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT id, filename, checksum, uploaded_by, accepted, rejected, created_at
FROM upload_batches ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("sales: list batches: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Batch, error) {
		var b Batch
		err := row.Scan(&b.ID, &b.Filename, &b.Checksum, &b.UploadedBy, &b.Accepted, &b.Rejected, &b.CreatedAt)
		return b, err
	})
}

// DeleteBatch removes a batch and its records.
func (r *Repository) DeleteBatch(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sales_records WHERE batch_id = $1`, id); err != nil {
			return fmt.Errorf("sales: delete records: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM upload_batches WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("sales: delete batch: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (t *txRepo) CreateBatch(ctx context.Context, batch Batch) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO upload_batches (id, filename, checksum, uploaded_by, accepted, rejected, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batch.ID, batch.Filename, batch.Checksum, batch.UploadedBy, batch.Accepted, batch.Rejected, batch.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateBatch
		}
		return fmt.Errorf("sales: create batch: %w", err)
	}
	return nil
}

var recordColumns = []string{"batch_id", "sale_date", "brand", "channel", "sku", "units", "revenue"}

func (t *txRepo) CopyRecords(ctx context.Context, batchID uuid.UUID, records []kpi.SalesRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		date, ok := kpi.ParseDate(rec.Date)
		if !ok {
			return 0, fmt.Errorf("sales: copy records: invalid date %q", rec.Date)
		}
		revenue, ok := kpi.CoerceRevenue(rec.Revenue)
		if !ok {
			return 0, fmt.Errorf("sales: copy records: invalid revenue %v", rec.Revenue)
		}
		rows = append(rows, []any{batchID, date, rec.Brand, rec.Channel, nullableText(rec.SKU), rec.Units, revenue})
	}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"sales_records"}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("sales: copy records: %w", err)
	}
	return n, nil
}

// EnsureLabels registers brand and channel labels seen in records so the
// permission universe includes them.
func (t *txRepo) EnsureLabels(ctx context.Context, records []kpi.SalesRecord) error {
	brands := make(map[string]string)
	channels := make(map[string]string)
	for _, rec := range records {
		if key := kpi.NormalizeKey(rec.Brand); key != "" {
			if _, ok := brands[key]; !ok {
				brands[key] = rec.Brand
			}
		}
		if key := kpi.NormalizeKey(rec.Channel); key != "" {
			if _, ok := channels[key]; !ok {
				channels[key] = rec.Channel
			}
		}
	}
	batch := &pgx.Batch{}
	for key, name := range brands {
		batch.Queue(`INSERT INTO brands (key, name) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, name)
	}
	for key, name := range channels {
		batch.Queue(`INSERT INTO channels (key, name) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, name)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("sales: ensure labels: %w", err)
	}
	return nil
}

func dateParam(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chai-vision/chai-vision/internal/observability"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/sales"
)

// DefaultMaxBytes bounds an upload when no limit is configured.
const DefaultMaxBytes = 20 << 20

// ErrNoValidRows indicates every row in the file was rejected.
var ErrNoValidRows = fmt.Errorf("ingest: no valid rows: %w", httpx.ErrValidation)

// Importer runs the batch writes in one transaction.
type Importer interface {
	WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error
}

// Invalidator drops cached sales data once a batch lands.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Upload is one file submitted for import.
type Upload struct {
	Filename   string
	Body       io.Reader
	UploadedBy int64
}

// Result summarises an import.
type Result struct {
	BatchID  uuid.UUID   `json:"batchId"`
	Filename string      `json:"filename"`
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	Errors   []LineError `json:"errors"`
}

// Service imports uploaded sales files.
type Service struct {
	parser   *Parser
	importer Importer
	cache    Invalidator
	maxBytes int64
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewService constructs an import service.
func NewService(importer Importer, cache Invalidator, maxBytes int64, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		parser:   NewParser(time.Now),
		importer: importer,
		cache:    cache,
		maxBytes: maxBytes,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithNow overrides the clock used for batch timestamps and date range checks.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
		s.parser = NewParser(fn)
	}
	return s
}

// MaxBytes reports the configured upload limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Import parses the upload and stores its valid rows as a new batch. Files
// already imported, identified by content checksum, are refused.
func (s *Service) Import(ctx context.Context, up Upload) (Result, error) {
	if up.Body == nil {
		return Result{}, ErrEmptyFile
	}
	payload, err := io.ReadAll(io.LimitReader(up.Body, s.maxBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("ingest: read upload: %w", err)
	}
	if int64(len(payload)) > s.maxBytes {
		return Result{}, fmt.Errorf("%w: upload exceeds %d bytes", httpx.ErrTooLarge, s.maxBytes)
	}

	parsed, err := s.parser.Parse(up.Filename, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	result := Result{
		BatchID:  uuid.New(),
		Filename: up.Filename,
		Accepted: len(parsed.Records),
		Rejected: parsed.Rejected,
		Errors:   parsed.Errors,
	}
	if result.Errors == nil {
		result.Errors = []LineError{}
	}
	if result.Accepted == 0 {
		return result, ErrNoValidRows
	}

	sum := sha256.Sum256(payload)
	batch := sales.Batch{
		ID:         result.BatchID,
		Filename:   up.Filename,
		Checksum:   hex.EncodeToString(sum[:]),
		UploadedBy: up.UploadedBy,
		Accepted:   result.Accepted,
		Rejected:   result.Rejected,
		CreatedAt:  s.now().UTC(),
	}
	err = s.importer.WithTx(ctx, func(ctx context.Context, tx sales.TxRepository) error {
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return err
		}
		if err := tx.EnsureLabels(ctx, parsed.Records); err != nil {
			return err
		}
		_, err := tx.CopyRecords(ctx, batch.ID, parsed.Records)
		return err
	})
	if err != nil {
		if errors.Is(err, sales.ErrDuplicateBatch) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("ingest: store batch: %w", err)
	}

	s.metrics.AddUploadRows("accepted", result.Accepted)
	s.metrics.AddUploadRows("rejected", result.Rejected)
	s.logger.Info("sales batch imported",
		slog.String("batch_id", result.BatchID.String()),
		slog.String("filename", up.Filename),
		slog.Int("accepted", result.Accepted),
		slog.Int("rejected", result.Rejected),
		slog.Int64("uploaded_by", up.UploadedBy),
	)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("sales cache invalidation failed", slog.Any("error", err))
		}
	}
	return result, nil
}

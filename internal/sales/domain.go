package sales

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the requested batch does not exist.
	ErrNotFound = fmt.Errorf("sales: batch %w", httpx.ErrNotFound)
	// ErrDuplicateBatch indicates a file with the same checksum was already imported.
	ErrDuplicateBatch = fmt.Errorf("sales: batch already imported: %w", httpx.ErrDuplicate)
	// ErrUnavailable indicates neither storage nor the local snapshot could serve data.
	ErrUnavailable = fmt.Errorf("sales: data %w", httpx.ErrUnavailable)
)

// Filter bounds the sales records to load. Zero times leave a side open.
type Filter struct {
	From time.Time
	To   time.Time
}

// Dataset is the result of LoadSalesData.
type Dataset struct {
	Records   []kpi.SalesRecord
	FetchedAt time.Time
	// Stale is set when storage failed and a previously loaded snapshot was served.
	Stale bool
}

// Batch describes one imported upload.
type Batch struct {
	ID         uuid.UUID `json:"id"`
	Filename   string    `json:"filename"`
	Checksum   string    `json:"checksum"`
	UploadedBy int64     `json:"uploadedBy"`
	Accepted   int       `json:"accepted"`
	Rejected   int       `json:"rejected"`
	CreatedAt  time.Time `json:"createdAt"`
}

package kpi

import (
	"errors"
	"time"
)

// AllBrands is the brand selector value that requests the company total.
const AllBrands = "All Brands"

var (
	// ErrViewRequired indicates the selector carried no period view.
	ErrViewRequired = errors.New("kpi: view required")
	// ErrWindowRequired indicates the engine was built without a date window.
	ErrWindowRequired = errors.New("kpi: date window required")
	// ErrAggregationMismatch indicates buckets lost or duplicated revenue while grouping.
	ErrAggregationMismatch = errors.New("kpi: aggregated revenue does not match input")
	// ErrInvalidView indicates a view constructed with out-of-range fields.
	ErrInvalidView = errors.New("kpi: invalid view")
)

// SalesRecord is one observed transaction-aggregate row as received from storage or uploads.
type SalesRecord struct {
	Date    string   `json:"date"`
	Brand   string   `json:"brand"`
	Channel string   `json:"channel"`
	SKU     string   `json:"sku,omitempty"`
	Units   float64  `json:"units,omitempty"`
	Revenue RawValue `json:"revenue"`
}

// NormalizedRecord is a SalesRecord that passed validation, with canonical keys attached.
type NormalizedRecord struct {
	Date       time.Time
	DateKey    string
	Brand      string
	BrandKey   string
	Channel    string
	ChannelKey string
	SKU        string
	Units      float64
	Revenue    float64
}

// AggregatedBucket is the summed revenue of every record sharing a date, channel and brand.
type AggregatedBucket struct {
	Date       string  `json:"date"`
	Channel    string  `json:"channel"`
	ChannelKey string  `json:"channelKey"`
	Brand      string  `json:"brand"`
	BrandKey   string  `json:"brandKey"`
	SKU        string  `json:"sku,omitempty"`
	Revenue    float64 `json:"revenue"`
	Count      int     `json:"count"`
}

// ViewSelector is the query a caller supplies to Compute.
//
// AvailableBrands and AvailableChannels carry the permission filtering already
// resolved upstream and define the universe the result reports over.
type ViewSelector struct {
	View              View
	Brand             string
	AvailableBrands   []string
	AvailableChannels []string
	Unrestricted      bool
}

// Projection is one period-end revenue scenario.
type Projection struct {
	Value      float64 `json:"value"`
	Percent85  float64 `json:"percent85"`
	Percent100 float64 `json:"percent100"`
}

// Projections groups the three run-rate scenarios.
type Projections struct {
	Conservative Projection `json:"conservative"`
	Realistic    Projection `json:"realistic"`
	Optimistic   Projection `json:"optimistic"`
}

// KPIResult is the derived summary consumed by chart and table components.
type KPIResult struct {
	Period             string             `json:"period"`
	ChannelRevenues    map[string]float64 `json:"channelRevenues"`
	ChannelTargets100  map[string]float64 `json:"channelTargets100"`
	ChannelTargets85   map[string]float64 `json:"channelTargets85"`
	ChannelAchievement map[string]float64 `json:"channelAchievement"`
	ChannelGaps100     map[string]float64 `json:"channelGaps100"`
	TotalRevenue       float64            `json:"totalRevenue"`
	TotalTarget100     float64            `json:"totalTarget100"`
	TotalTarget85      float64            `json:"totalTarget85"`
	RunRate            float64            `json:"runRate"`
	Projections        Projections        `json:"projections"`
	// Projection mirrors Projections.Realistic for older consumers.
	Projection     Projection         `json:"projection"`
	DaysElapsed    int                `json:"daysElapsed"`
	DaysRemaining  int                `json:"daysRemaining"`
	DaysInPeriod   int                `json:"daysInPeriod"`
	KPIAchievement float64            `json:"kpiAchievement"`
	Achievement100 float64            `json:"achievement100"`
	GapToTarget85  float64            `json:"gapToTarget85"`
	GapToTarget100 float64            `json:"gapToTarget100"`
	AggregatedData []AggregatedBucket `json:"aggregatedData"`
}

// DropReason classifies why the normalizer excluded a row.
type DropReason string

const (
	DropInvalidDate       DropReason = "invalid_date"
	DropDateOutOfRange    DropReason = "date_out_of_range"
	DropInvalidRevenue    DropReason = "invalid_revenue"
	DropRevenueOutOfRange DropReason = "revenue_out_of_range"
	DropMissingLabel      DropReason = "missing_label"
)

const maxDiagnosticSamples = 10

// DroppedRow records a sample of an excluded input row.
type DroppedRow struct {
	Index  int         `json:"index"`
	Reason DropReason  `json:"reason"`
	Record SalesRecord `json:"record"`
}

// Diagnostics accounts for every row the normalizer received.
type Diagnostics struct {
	Received    int                `json:"received"`
	Accepted    int                `json:"accepted"`
	Dropped     int                `json:"dropped"`
	DropReasons map[DropReason]int `json:"dropReasons"`
	Samples     []DroppedRow       `json:"samples"`
}

func (d *Diagnostics) drop(index int, reason DropReason, rec SalesRecord) {
	d.Dropped++
	if d.DropReasons == nil {
		d.DropReasons = make(map[DropReason]int)
	}
	d.DropReasons[reason]++
	if len(d.Samples) < maxDiagnosticSamples {
		rec.Revenue = sampleSafe(rec.Revenue)
		d.Samples = append(d.Samples, DroppedRow{Index: index, Reason: reason, Record: rec})
	}
}

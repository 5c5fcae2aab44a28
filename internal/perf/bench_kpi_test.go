package perf

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/periods"
)

var (
	perfBrands   = []string{"LifePro", "PetCare+", "Chai Co", "Nordic Home"}
	perfChannels = []string{"Amazon", "TikTok Shop", "Walmart", "Shopify", "Target"}
)

// syntheticRecords returns roughly perDay rows for every day of year.
func syntheticRecords(year, perDay int) []kpi.SalesRecord {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	records := make([]kpi.SalesRecord, 0, 366*perDay)
	for day := start; day.Year() == year; day = day.AddDate(0, 0, 1) {
		for i := 0; i < perDay; i++ {
			records = append(records, kpi.SalesRecord{
				Date:    day.Format("2006-01-02"),
				Brand:   perfBrands[i%len(perfBrands)],
				Channel: perfChannels[(i/len(perfBrands))%len(perfChannels)],
				SKU:     fmt.Sprintf("SKU-%03d", i%120),
				Units:   float64(1 + i%4),
				Revenue: float64(10 + (i*37)%900),
			})
		}
	}
	return records
}

func syntheticTargets(year int) kpi.TargetTable {
	table := kpi.TargetTable{year: {}}
	for _, brand := range perfBrands {
		byPeriod := kpi.BrandTargets{kpi.PeriodAnnual: {}}
		for q := 1; q <= 4; q++ {
			byPeriod[kpi.QuarterPeriod(q)] = kpi.ChannelTargets{}
		}
		for _, channel := range perfChannels {
			byPeriod[kpi.PeriodAnnual][channel] = 4_000_000
			for q := 1; q <= 4; q++ {
				byPeriod[kpi.QuarterPeriod(q)][channel] = 1_000_000
			}
		}
		table[year][brand] = byPeriod
	}
	return table
}

func newPerfEngine(now time.Time) *kpi.Engine {
	return kpi.NewEngine(periods.NewWindow()).WithNow(func() time.Time { return now })
}

func TestComputeLatencyBudget(t *testing.T) {
	records := syntheticRecords(2025, 300)
	targets := syntheticTargets(2025)
	engine := newPerfEngine(time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC))
	sel := kpi.ViewSelector{View: kpi.Annual{CalendarYear: 2025}, Brand: kpi.AllBrands, Unrestricted: true}

	samples := make([]time.Duration, 0, 5)
	for i := 0; i < 5; i++ {
		start := time.Now()
		result, diag, err := engine.Compute(records, sel, targets)
		samples = append(samples, time.Since(start))
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if diag.Accepted != len(records) {
			t.Fatalf("accepted %d of %d rows", diag.Accepted, len(records))
		}
		if result.TotalRevenue <= 0 {
			t.Fatal("expected revenue")
		}
	}

	if p95 := percentile95(samples); p95 > 3*time.Second {
		t.Fatalf("annual compute over %d rows regressed: p95=%s", len(records), p95)
	}
}

func BenchmarkComputeAnnual(b *testing.B) {
	records := syntheticRecords(2025, 300)
	targets := syntheticTargets(2025)
	engine := newPerfEngine(time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC))
	sel := kpi.ViewSelector{View: kpi.Annual{CalendarYear: 2025}, Brand: kpi.AllBrands, Unrestricted: true}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := engine.Compute(records, sel, targets); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkComputeMonthlySingleBrand(b *testing.B) {
	records := syntheticRecords(2025, 300)
	targets := syntheticTargets(2025)
	engine := newPerfEngine(time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC))
	sel := kpi.ViewSelector{
		View:              kpi.Monthly{CalendarYear: 2025, Month: time.September},
		Brand:             "LifePro",
		AvailableBrands:   []string{"LifePro"},
		AvailableChannels: []string{"Amazon", "Walmart"},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := engine.Compute(records, sel, targets); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkNormalize(b *testing.B) {
	records := syntheticRecords(2025, 100)
	now := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		kpi.Normalize(records, now)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

package kpi

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWindow struct {
	total   int
	elapsed int
}

func (s stubWindow) DaysInPeriod(View) int           { return s.total }
func (s stubWindow) DaysElapsed(View, time.Time) int { return s.elapsed }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeQuarterlyCompanyTotalWithoutTargets(t *testing.T) {
	engine := NewEngine(stubWindow{total: 90, elapsed: 90}).WithNow(fixedClock(day(2025, 4, 10)))
	records := []SalesRecord{
		{Date: "2025-01-15", Channel: "Amazon", Brand: "LifePro", Revenue: 1000},
		{Date: "2025-02-15", Channel: "Amazon", Brand: "LifePro", Revenue: 2000},
	}
	sel := ViewSelector{
		View:              Quarterly{CalendarYear: 2025, Quarter: 1},
		Brand:             AllBrands,
		AvailableBrands:   []string{"LifePro"},
		AvailableChannels: []string{"Amazon"},
	}

	result, diag, err := engine.Compute(records, sel, TargetTable{})
	require.NoError(t, err)
	assert.Equal(t, 3000.0, result.ChannelRevenues["Amazon"])
	assert.Equal(t, 0.0, result.TotalTarget100)
	assert.Equal(t, 0.0, result.Achievement100)
	assert.Equal(t, 0.0, result.KPIAchievement)
	assert.Equal(t, 2, diag.Accepted)
	assert.Zero(t, diag.Dropped)
	assert.Equal(t, "2025-Q1", result.Period)
}

func TestComputeRejectsViewLiteralsOutOfRange(t *testing.T) {
	engine := NewEngine(stubWindow{total: 90, elapsed: 90}).WithNow(fixedClock(day(2025, 4, 10)))
	records := []SalesRecord{{Date: "2025-01-15", Channel: "Amazon", Brand: "LifePro", Revenue: 1000}}

	for _, view := range []View{
		Quarterly{CalendarYear: 2025},
		Monthly{CalendarYear: 2025, Month: 13},
		Annual{},
		Range{From: day(2025, 2, 1), To: day(2025, 1, 1)},
	} {
		_, _, err := engine.Compute(records, ViewSelector{View: view, Unrestricted: true}, nil)
		assert.ErrorIs(t, err, ErrInvalidView, "view %#v", view)
	}

	normalized, _ := Normalize(records, day(2025, 4, 10))
	assert.Empty(t, FilterRecords(normalized, ViewSelector{View: Quarterly{CalendarYear: 2025}, Unrestricted: true}))

	_, _, err := engine.Compute(records, ViewSelector{Unrestricted: true}, nil)
	assert.ErrorIs(t, err, ErrViewRequired)
}

func TestComputeZeroTargetsNeverProduceNaN(t *testing.T) {
	engine := NewEngine(stubWindow{total: 31, elapsed: 10}).WithNow(fixedClock(day(2025, 3, 10)))
	records := []SalesRecord{{Date: "2025-03-09", Channel: "Shopify", Brand: "Chai Co", Revenue: 500}}
	sel := ViewSelector{View: Monthly{CalendarYear: 2025, Month: time.March}, Unrestricted: true}

	result, _, err := engine.Compute(records, sel, nil)
	require.NoError(t, err)
	for _, v := range []float64{result.KPIAchievement, result.Achievement100, result.Projection.Percent85, result.Projection.Percent100} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		assert.Zero(t, v)
	}
	assert.Equal(t, 500.0, result.ChannelRevenues["Shopify"])
}

func TestComputeMonthlyTargetsAreDayWeighted(t *testing.T) {
	engine := NewEngine(stubWindow{total: 28, elapsed: 28}).WithNow(fixedClock(day(2025, 3, 5)))
	targets := TargetTable{2025: {"LifePro": {PeriodQ1: {"Amazon": 900}}}}
	sel := ViewSelector{
		View:              Monthly{CalendarYear: 2025, Month: time.February},
		Brand:             "LifePro",
		AvailableBrands:   []string{"LifePro"},
		AvailableChannels: []string{"Amazon"},
	}

	result, _, err := engine.Compute(nil, sel, targets)
	require.NoError(t, err)
	assert.InDelta(t, 280.0, result.ChannelTargets100["Amazon"], 1e-9)
	assert.Equal(t, result.ChannelTargets100["Amazon"]*KPIFloor, result.ChannelTargets85["Amazon"])
	assert.InDelta(t, 280.0, result.GapToTarget100, 0.01)
}

func TestMonthlyDistributionSumsToQuarter(t *testing.T) {
	for _, year := range []int{2024, 2025} {
		for q := 1; q <= 4; q++ {
			var sum float64
			for m := QuarterStart(q); m < QuarterStart(q)+3; m++ {
				sum += MonthlyTarget(1000, year, m)
			}
			assert.InDelta(t, 1000, sum, 1e-6, "year %d Q%d", year, q)
		}
	}
}

func TestResolveTargetsScalesAndSumsBrands(t *testing.T) {
	targets := TargetTable{2025: {
		"LifePro":   {PeriodAnnual: {"Amazon": 1000, "TikTok Shop": 300}},
		"PetCare+":  {PeriodAnnual: {"amazon": 500}},
		"Forbidden": {PeriodAnnual: {"Amazon": 9999}},
	}}
	view := Annual{CalendarYear: 2025}

	tiers := ResolveTargets(targets, view, []string{"lifepro", "PetCare+"}, []string{"Amazon", "TikTok Shop"})
	assert.Equal(t, 1500.0, tiers.Targets100["Amazon"])
	assert.Equal(t, 300.0, tiers.Targets100["TikTok Shop"])
	assert.Equal(t, 1800.0, tiers.Total100)
	for channel, full := range tiers.Targets100 {
		assert.Equal(t, full*0.85, tiers.Targets85[channel])
	}
	assert.NotContains(t, tiers.Targets100, "Walmart")
}

func TestRunRateWeightsRecentDays(t *testing.T) {
	now := day(2025, 6, 20)
	buckets := []AggregatedBucket{
		{Date: "2025-06-18", Revenue: 100},
		{Date: "2025-06-19", Revenue: 200},
		{Date: "2025-06-20", Revenue: 300},
		{Date: "2025-05-01", Revenue: 99999},
	}
	assert.InDelta(t, 233.33, RunRate(buckets, now, DefaultRunRateDays), 0.01)
	assert.Zero(t, RunRate(nil, now, DefaultRunRateDays))
}

func TestProjectionOrdering(t *testing.T) {
	for _, rate := range []float64{0, 12.5, 1000} {
		for _, remaining := range []int{0, 1, 45} {
			p := Project(5000, rate, remaining, 8500, 10000)
			assert.LessOrEqual(t, p.Conservative.Value, p.Realistic.Value)
			assert.LessOrEqual(t, p.Realistic.Value, p.Optimistic.Value)
		}
	}
	p := Project(1000, 100, 10, 0, 4000)
	assert.Equal(t, 2000.0, p.Realistic.Value)
	assert.Equal(t, 50.0, p.Realistic.Percent100)
	assert.Zero(t, p.Realistic.Percent85)
}

func TestAggregateDeduplicatesAndConserves(t *testing.T) {
	records, _ := Normalize([]SalesRecord{
		{Date: "2025-01-05", Channel: "Amazon", Brand: "LifePro", Revenue: 50},
		{Date: "2025-01-05", Channel: " amazon ", Brand: "Life Pro", Revenue: 70},
		{Date: "2025-01-06", Channel: "Amazon", Brand: "LifePro", Revenue: -5},
	}, day(2025, 1, 10))

	buckets := Aggregate(records)
	require.Len(t, buckets, 2)
	assert.Equal(t, 120.0, buckets[0].Revenue)
	assert.Equal(t, 2, buckets[0].Count)
	assert.Equal(t, "Amazon", buckets[0].Channel)
	require.NoError(t, VerifyConservation(buckets, records))

	buckets[1].Revenue += 1
	err := VerifyConservation(buckets, records)
	assert.True(t, errors.Is(err, ErrAggregationMismatch))
}

func TestPermissionContainment(t *testing.T) {
	engine := NewEngine(stubWindow{total: 365, elapsed: 100}).WithNow(fixedClock(day(2025, 4, 10)))
	records := []SalesRecord{
		{Date: "2025-02-01", Channel: "Amazon", Brand: "LifePro", Revenue: 10},
		{Date: "2025-02-01", Channel: "Walmart", Brand: "LifePro", Revenue: 20},
		{Date: "2025-02-01", Channel: "Amazon", Brand: "Hidden", Revenue: 40},
	}
	targets := TargetTable{2025: {
		"LifePro": {PeriodAnnual: {"Amazon": 100, "Walmart": 100}},
		"Hidden":  {PeriodAnnual: {"Amazon": 100}},
	}}
	sel := ViewSelector{
		View:              Annual{CalendarYear: 2025},
		Brand:             AllBrands,
		AvailableBrands:   []string{"LifePro"},
		AvailableChannels: []string{"Amazon"},
	}

	result, _, err := engine.Compute(records, sel, targets)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Amazon": 10}, result.ChannelRevenues)
	assert.Equal(t, map[string]float64{"Amazon": 100}, result.ChannelTargets100)
	assert.Len(t, result.ChannelTargets85, 1)

	sel.Brand = "Hidden"
	result, _, err = engine.Compute(records, sel, targets)
	require.NoError(t, err)
	assert.Zero(t, result.TotalRevenue)
	assert.Zero(t, result.TotalTarget100)
}

func TestComputeAssemblesProjectionsAndGaps(t *testing.T) {
	now := day(2025, 1, 10)
	engine := NewEngine(stubWindow{total: 31, elapsed: 10}).WithNow(fixedClock(now))
	records := []SalesRecord{
		{Date: "2025-01-08", Channel: "Amazon", Brand: "LifePro", Revenue: 100},
		{Date: "2025-01-09", Channel: "Amazon", Brand: "LifePro", Revenue: 200},
		{Date: "2025-01-10", Channel: "Amazon", Brand: "LifePro", Revenue: 300},
	}
	targets := TargetTable{2025: {"LifePro": {PeriodQ1: {"Amazon": 9000}}}}
	sel := ViewSelector{View: Monthly{CalendarYear: 2025, Month: time.January}, Brand: "LifePro", AvailableBrands: []string{"LifePro"}, AvailableChannels: []string{"Amazon"}}

	result, _, err := engine.Compute(records, sel, targets)
	require.NoError(t, err)
	assert.Equal(t, 600.0, result.TotalRevenue)
	assert.Equal(t, 21, result.DaysRemaining)
	assert.Equal(t, 233.33, result.RunRate)
	assert.Equal(t, result.Projections.Realistic, result.Projection)
	assert.InDelta(t, 600+1400.0/6*21, result.Projections.Realistic.Value, 0.01)
	assert.InDelta(t, 600+1400.0/6*0.8*21, result.Projections.Conservative.Value, 0.01)

	target := 9000.0 * 31 / 90
	assert.InDelta(t, target, result.TotalTarget100, 1e-9)
	assert.InDelta(t, 600/(target*0.85)*100, result.KPIAchievement, 0.01)
	assert.InDelta(t, target-600, result.GapToTarget100, 0.01)
	assert.InDelta(t, 600/target*100, result.ChannelAchievement["Amazon"], 0.01)
	assert.Len(t, result.AggregatedData, 3)
}

func TestComputeRejectsStructuralErrors(t *testing.T) {
	_, _, err := NewEngine(nil).Compute(nil, ViewSelector{View: Annual{CalendarYear: 2025}}, nil)
	assert.ErrorIs(t, err, ErrWindowRequired)

	_, _, err = NewEngine(stubWindow{}).Compute(nil, ViewSelector{}, nil)
	assert.ErrorIs(t, err, ErrViewRequired)
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	engine := NewEngine(stubWindow{total: 365, elapsed: 1}).WithNow(fixedClock(day(2025, 1, 2)))
	records := []SalesRecord{{Date: "2025-01-01", Channel: " Amazon ", Brand: "LifePro", Revenue: 5}}
	snapshot := append([]SalesRecord(nil), records...)

	_, _, err := engine.Compute(records, ViewSelector{View: Annual{CalendarYear: 2025}, Unrestricted: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, snapshot, records)
}

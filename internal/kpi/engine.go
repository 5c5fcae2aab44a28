package kpi

import "time"

// DateWindow reports period lengths for a view. It is supplied by the caller
// so the engine stays free of calendar policy.
type DateWindow interface {
	DaysInPeriod(view View) int
	DaysElapsed(view View, now time.Time) int
}

// Engine computes KPI summaries. It holds no state between calls.
type Engine struct {
	window      DateWindow
	now         func() time.Time
	runRateDays int
}

// NewEngine constructs an Engine using the provided date window.
func NewEngine(window DateWindow) *Engine {
	return &Engine{window: window, now: time.Now, runRateDays: DefaultRunRateDays}
}

// WithNow overrides the engine clock for testing.
func (e *Engine) WithNow(fn func() time.Time) *Engine {
	if fn != nil {
		e.now = fn
	}
	return e
}

// WithRunRateDays overrides the trailing run-rate window.
func (e *Engine) WithRunRateDays(days int) *Engine {
	if days > 0 {
		e.runRateDays = days
	}
	return e
}

// Compute runs the full pipeline over records for the selection. Inputs are
// never mutated. Row-level defects are excluded and reported in Diagnostics;
// an error is returned only for a structurally invalid call or when grouping
// fails to conserve revenue.
func (e *Engine) Compute(records []SalesRecord, sel ViewSelector, targets TargetTable) (KPIResult, Diagnostics, error) {
	if e == nil || e.window == nil {
		return KPIResult{}, Diagnostics{}, ErrWindowRequired
	}
	if err := ValidateView(sel.View); err != nil {
		return KPIResult{}, Diagnostics{}, err
	}
	now := e.now()

	normalized, diag := Normalize(records, now)
	filtered := FilterRecords(normalized, sel)
	buckets := Aggregate(filtered)
	if err := VerifyConservation(buckets, filtered); err != nil {
		return KPIResult{}, diag, err
	}

	channels := channelUniverse(sel, filtered)
	revenues := ChannelRevenues(buckets, channels)
	tiers := ResolveTargets(targets, sel.View, brandScope(sel, targets), channels)

	daysTotal := e.window.DaysInPeriod(sel.View)
	daysElapsed := e.window.DaysElapsed(sel.View, now)
	daysRemaining := daysTotal - daysElapsed
	if daysRemaining < 0 {
		daysRemaining = 0
	}

	runRate := RunRate(buckets, now, e.runRateDays)
	return assemble(sel.View, revenues, tiers, runRate, daysTotal, daysElapsed, daysRemaining, buckets), diag, nil
}

func assemble(view View, revenues map[string]float64, tiers TargetTiers, runRate float64, daysTotal, daysElapsed, daysRemaining int, buckets []AggregatedBucket) KPIResult {
	result := KPIResult{
		Period:             view.String(),
		ChannelRevenues:    make(map[string]float64, len(revenues)),
		ChannelTargets100:  tiers.Targets100,
		ChannelTargets85:   tiers.Targets85,
		ChannelAchievement: make(map[string]float64, len(revenues)),
		ChannelGaps100:     make(map[string]float64, len(revenues)),
		TotalTarget100:     tiers.Total100,
		TotalTarget85:      tiers.Total85,
		DaysElapsed:        daysElapsed,
		DaysRemaining:      daysRemaining,
		DaysInPeriod:       daysTotal,
		AggregatedData:     buckets,
	}

	var total float64
	for channel, revenue := range revenues {
		total += revenue
		result.ChannelRevenues[channel] = round2(revenue)
		result.ChannelAchievement[channel] = round2(percent(revenue, tiers.Targets100[channel]))
		result.ChannelGaps100[channel] = round2(gap(tiers.Targets100[channel], revenue))
	}
	result.TotalRevenue = round2(total)
	result.RunRate = round2(runRate)
	result.Projections = Project(total, runRate, daysRemaining, tiers.Total85, tiers.Total100)
	result.Projection = result.Projections.Realistic
	result.KPIAchievement = round2(percent(total, tiers.Total85))
	result.Achievement100 = round2(percent(total, tiers.Total100))
	result.GapToTarget85 = round2(gap(tiers.Total85, total))
	result.GapToTarget100 = round2(gap(tiers.Total100, total))
	if result.AggregatedData == nil {
		result.AggregatedData = []AggregatedBucket{}
	}
	return result
}

// channelUniverse returns the distinct channels to report over. Unrestricted
// callers without an explicit list report over the channels present in data.
func channelUniverse(sel ViewSelector, records []NormalizedRecord) []string {
	labels := sel.AvailableChannels
	if len(labels) == 0 && sel.Unrestricted {
		labels = make([]string, 0)
		for _, rec := range records {
			labels = append(labels, rec.Channel)
		}
	}
	return distinctByKey(labels)
}

// brandScope returns the brands whose targets count toward the selection.
func brandScope(sel ViewSelector, targets TargetTable) []string {
	if !isAllBrands(sel.Brand) {
		if !sel.Unrestricted {
			if _, ok := keySet(sel.AvailableBrands)[NormalizeKey(sel.Brand)]; !ok {
				return nil
			}
		}
		return []string{sel.Brand}
	}
	if len(sel.AvailableBrands) > 0 || !sel.Unrestricted {
		return sel.AvailableBrands
	}
	brands := make([]string, 0, len(targets[sel.View.Year()]))
	for brand := range targets[sel.View.Year()] {
		brands = append(brands, brand)
	}
	return brands
}

func distinctByKey(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		key := NormalizeKey(label)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	return out
}

func gap(target, revenue float64) float64 {
	if target > revenue {
		return target - revenue
	}
	return 0
}

package kpi

import (
	"fmt"
	"strings"
	"time"
)

// TargetPeriod names a stored target bucket.
type TargetPeriod string

const (
	PeriodAnnual TargetPeriod = "annual"
	PeriodQ1     TargetPeriod = "Q1"
	PeriodQ2     TargetPeriod = "Q2"
	PeriodQ3     TargetPeriod = "Q3"
	PeriodQ4     TargetPeriod = "Q4"
)

// KPIFloor is the share of the full target treated as minimum achievement.
const KPIFloor = 0.85

// ChannelTargets maps a channel label to its target amount.
type ChannelTargets map[string]float64

// BrandTargets holds one brand's annual and quarterly targets.
type BrandTargets map[TargetPeriod]ChannelTargets

// TargetTable is keyed by year, then brand label.
type TargetTable map[int]map[string]BrandTargets

// QuarterPeriod returns the target bucket for a 1-based quarter.
func QuarterPeriod(quarter int) TargetPeriod {
	return TargetPeriod(fmt.Sprintf("Q%d", quarter))
}

// ParseTargetPeriod accepts "annual" or "Q1".."Q4" in any case.
func ParseTargetPeriod(raw string) (TargetPeriod, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ANNUAL":
		return PeriodAnnual, true
	case "Q1":
		return PeriodQ1, true
	case "Q2":
		return PeriodQ2, true
	case "Q3":
		return PeriodQ3, true
	case "Q4":
		return PeriodQ4, true
	}
	return "", false
}

// TargetTiers is the resolved target set for one selection.
type TargetTiers struct {
	Targets100 map[string]float64
	Targets85  map[string]float64
	Total100   float64
	Total85    float64
}

// ResolveTargets sums, per channel of the universe, the targets of every brand
// in scope for the view's period. Monthly views take their owning quarter's
// target scaled by the month's share of the quarter's days. Missing years,
// brands, periods and channels contribute zero.
func ResolveTargets(table TargetTable, view View, brands, channels []string) TargetTiers {
	tiers := TargetTiers{
		Targets100: make(map[string]float64, len(channels)),
		Targets85:  make(map[string]float64, len(channels)),
	}
	for _, channel := range channels {
		tiers.Targets100[channel] = 0
	}

	period, ratio, ok := targetBucket(view)
	if ok {
		wanted := keySet(brands)
		for brand, brandTargets := range table[view.Year()] {
			if _, in := wanted[NormalizeKey(brand)]; !in {
				continue
			}
			byKey := channelTotalsByKey(brandTargets[period])
			for _, channel := range channels {
				tiers.Targets100[channel] += byKey[NormalizeKey(channel)] * ratio
			}
		}
	}

	for _, channel := range channels {
		tiers.Targets85[channel] = tiers.Targets100[channel] * KPIFloor
		tiers.Total100 += tiers.Targets100[channel]
		tiers.Total85 += tiers.Targets85[channel]
	}
	return tiers
}

// MonthlyTarget distributes a quarterly amount into one of its months by day count.
func MonthlyTarget(quarterly float64, year int, month time.Month) float64 {
	return quarterly * monthShare(year, month)
}

func monthShare(year int, month time.Month) float64 {
	return float64(DaysInMonth(year, month)) / float64(DaysInQuarter(year, QuarterOf(month)))
}

func targetBucket(view View) (TargetPeriod, float64, bool) {
	switch v := view.(type) {
	case Annual:
		return PeriodAnnual, 1, true
	case Quarterly:
		return QuarterPeriod(v.Quarter), 1, true
	case Monthly:
		return QuarterPeriod(QuarterOf(v.Month)), monthShare(v.CalendarYear, v.Month), true
	default:
		return "", 0, false
	}
}

func channelTotalsByKey(targets ChannelTargets) map[string]float64 {
	out := make(map[string]float64, len(targets))
	for channel, amount := range targets {
		out[NormalizeKey(channel)] += amount
	}
	return out
}

package kpi

import (
	"sort"
	"time"
)

// DefaultRunRateDays is the trailing window the run rate averages over.
const DefaultRunRateDays = 14

// Scenario multipliers applied to the run rate for the remaining days.
const (
	ConservativeMultiplier = 0.8
	RealisticMultiplier    = 1.0
	OptimisticMultiplier   = 1.2
)

// RunRate returns the recency-weighted average daily revenue over the
// trailing window ending on now's calendar day. Days are weighted by their
// chronological position, oldest first at weight 1. Days without sales are
// skipped rather than counted as zero.
func RunRate(buckets []AggregatedBucket, now time.Time, windowDays int) float64 {
	if windowDays <= 0 {
		windowDays = DefaultRunRateDays
	}
	today := dayOf(now)
	first := today.AddDate(0, 0, -(windowDays - 1))

	daily := make(map[string]float64)
	for _, b := range buckets {
		day, ok := ParseDate(b.Date)
		if !ok || day.Before(first) || day.After(today) {
			continue
		}
		daily[b.Date] += b.Revenue
	}
	if len(daily) == 0 {
		return 0
	}
	dates := make([]string, 0, len(daily))
	for date := range daily {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var weighted, weights float64
	for i, date := range dates {
		w := float64(i + 1)
		weighted += daily[date] * w
		weights += w
	}
	return weighted / weights
}

// Project builds the three period-end scenarios from revenue to date.
func Project(total, runRate float64, daysRemaining int, target85, target100 float64) Projections {
	scenario := func(multiplier float64) Projection {
		value := total + runRate*multiplier*float64(daysRemaining)
		return Projection{
			Value:      round2(value),
			Percent85:  round2(percent(value, target85)),
			Percent100: round2(percent(value, target100)),
		}
	}
	return Projections{
		Conservative: scenario(ConservativeMultiplier),
		Realistic:    scenario(RealisticMultiplier),
		Optimistic:   scenario(OptimisticMultiplier),
	}
}

func percent(value, target float64) float64 {
	if target == 0 {
		return 0
	}
	return value / target * 100
}

package kpi

import (
	"fmt"
	"math"
	"sort"
)

// ConservationTolerance is the largest revenue drift Aggregate may introduce.
const ConservationTolerance = 0.01

// Aggregate groups records by date, channel and brand key, summing revenue
// and counting rows. The first contributing record supplies display labels.
func Aggregate(records []NormalizedRecord) []AggregatedBucket {
	index := make(map[string]int, len(records))
	buckets := make([]AggregatedBucket, 0, len(records))
	for _, rec := range records {
		key := rec.DateKey + "|" + rec.ChannelKey + "|" + rec.BrandKey
		if pos, ok := index[key]; ok {
			buckets[pos].Revenue += rec.Revenue
			buckets[pos].Count++
			continue
		}
		index[key] = len(buckets)
		buckets = append(buckets, AggregatedBucket{
			Date:       rec.DateKey,
			Channel:    rec.Channel,
			ChannelKey: rec.ChannelKey,
			Brand:      rec.Brand,
			BrandKey:   rec.BrandKey,
			SKU:        rec.SKU,
			Revenue:    rec.Revenue,
			Count:      1,
		})
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Date != buckets[j].Date {
			return buckets[i].Date < buckets[j].Date
		}
		if buckets[i].ChannelKey != buckets[j].ChannelKey {
			return buckets[i].ChannelKey < buckets[j].ChannelKey
		}
		return buckets[i].BrandKey < buckets[j].BrandKey
	})
	return buckets
}

// VerifyConservation reports ErrAggregationMismatch when the buckets do not
// carry exactly the revenue and row count of the records they were built from.
func VerifyConservation(buckets []AggregatedBucket, records []NormalizedRecord) error {
	var in, out float64
	rows := 0
	for _, rec := range records {
		in += rec.Revenue
	}
	for _, b := range buckets {
		out += b.Revenue
		rows += b.Count
	}
	if math.Abs(in-out) > ConservationTolerance {
		return fmt.Errorf("%w: input %.2f, buckets %.2f", ErrAggregationMismatch, in, out)
	}
	if rows != len(records) {
		return fmt.Errorf("%w: input rows %d, bucket rows %d", ErrAggregationMismatch, len(records), rows)
	}
	return nil
}

// ChannelRevenues sums bucket revenue per channel of the universe. Every
// channel in the universe appears in the result; buckets for channels outside
// it are ignored.
func ChannelRevenues(buckets []AggregatedBucket, channels []string) map[string]float64 {
	byKey := make(map[string]float64, len(channels))
	for _, b := range buckets {
		byKey[b.ChannelKey] += b.Revenue
	}
	out := make(map[string]float64, len(channels))
	for _, channel := range channels {
		out[channel] += byKey[NormalizeKey(channel)]
	}
	return out
}

// SKURevenue is one row of the per-SKU drill-down.
type SKURevenue struct {
	SKU     string  `json:"sku"`
	Brand   string  `json:"brand"`
	Revenue float64 `json:"revenue"`
	Units   float64 `json:"units"`
	Count   int     `json:"count"`
}

// SKUBreakdown totals revenue per SKU, optionally restricted to one channel,
// ordered by revenue descending. Records without a SKU are reported under "".
func SKUBreakdown(records []NormalizedRecord, channel string) []SKURevenue {
	channelKey := NormalizeKey(channel)
	index := make(map[string]int)
	rows := make([]SKURevenue, 0)
	for _, rec := range records {
		if channelKey != "" && rec.ChannelKey != channelKey {
			continue
		}
		key := rec.BrandKey + "|" + rec.SKU
		pos, ok := index[key]
		if !ok {
			pos = len(rows)
			index[key] = pos
			rows = append(rows, SKURevenue{SKU: rec.SKU, Brand: rec.Brand})
		}
		rows[pos].Revenue += rec.Revenue
		rows[pos].Units += rec.Units
		rows[pos].Count++
	}
	for i := range rows {
		rows[i].Revenue = round2(rows[i].Revenue)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Revenue != rows[j].Revenue {
			return rows[i].Revenue > rows[j].Revenue
		}
		return rows[i].SKU < rows[j].SKU
	})
	return rows
}

// DailyPoint is the total revenue of one calendar day.
type DailyPoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
}

// DailySeries collapses buckets into chronological per-day totals.
func DailySeries(buckets []AggregatedBucket) []DailyPoint {
	totals := make(map[string]float64)
	for _, b := range buckets {
		totals[b.Date] += b.Revenue
	}
	points := make([]DailyPoint, 0, len(totals))
	for date, revenue := range totals {
		points = append(points, DailyPoint{Date: date, Revenue: round2(revenue)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

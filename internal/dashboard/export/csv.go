// Package export renders KPI snapshots as downloadable files.
package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/chai-vision/chai-vision/internal/kpi"
)

// WriteSummaryCSV serialises the headline KPI metrics as Metric,Value rows.
func WriteSummaryCSV(w io.Writer, result kpi.KPIResult, brand string) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	records := [][]string{
		{"Period", result.Period},
		{"Brand", brand},
		{"Total Revenue", formatFloat(result.TotalRevenue)},
		{"Target (100%)", formatFloat(result.TotalTarget100)},
		{"Target (85%)", formatFloat(result.TotalTarget85)},
		{"KPI Achievement %", formatFloat(result.KPIAchievement)},
		{"Achievement vs 100% %", formatFloat(result.Achievement100)},
		{"Gap to 85%", formatFloat(result.GapToTarget85)},
		{"Gap to 100%", formatFloat(result.GapToTarget100)},
		{"Run Rate (daily)", formatFloat(result.RunRate)},
		{"Days Elapsed", strconv.Itoa(result.DaysElapsed)},
		{"Days Remaining", strconv.Itoa(result.DaysRemaining)},
		{"Days In Period", strconv.Itoa(result.DaysInPeriod)},
		{"Projection Conservative", formatFloat(result.Projections.Conservative.Value)},
		{"Projection Realistic", formatFloat(result.Projections.Realistic.Value)},
		{"Projection Optimistic", formatFloat(result.Projections.Optimistic.Value)},
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteChannelCSV emits one row per channel, sorted by revenue descending.
func WriteChannelCSV(w io.Writer, result kpi.KPIResult) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Channel", "Revenue", "Target (100%)", "Target (85%)", "Achievement %", "Gap to 100%"}); err != nil {
		return err
	}
	channels := make([]string, 0, len(result.ChannelRevenues))
	for channel := range result.ChannelRevenues {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool {
		a, b := result.ChannelRevenues[channels[i]], result.ChannelRevenues[channels[j]]
		if a != b {
			return a > b
		}
		return channels[i] < channels[j]
	})
	for _, channel := range channels {
		if err := writer.Write([]string{
			channel,
			formatFloat(result.ChannelRevenues[channel]),
			formatFloat(result.ChannelTargets100[channel]),
			formatFloat(result.ChannelTargets85[channel]),
			formatFloat(result.ChannelAchievement[channel]),
			formatFloat(result.ChannelGaps100[channel]),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSKUCSV prints the SKU drill-down.
func WriteSKUCSV(w io.Writer, rows []kpi.SKURevenue) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"SKU", "Brand", "Revenue", "Units", "Rows"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.SKU,
			row.Brand,
			formatFloat(row.Revenue),
			formatFloat(row.Units),
			strconv.Itoa(row.Count),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

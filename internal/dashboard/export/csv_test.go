package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-vision/chai-vision/internal/kpi"
)

func TestWriteSummaryCSV(t *testing.T) {
	var buf bytes.Buffer
	result := kpi.KPIResult{Period: "2025-Q1", TotalRevenue: 1234.5, DaysRemaining: 10}
	require.NoError(t, WriteSummaryCSV(&buf, result, "All Brands"))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"Metric", "Value"}, rows[0])
	assert.Equal(t, []string{"Period", "2025-Q1"}, rows[1])
	assert.Equal(t, []string{"Total Revenue", "1234.50"}, rows[3])
	assert.Contains(t, rows, []string{"Days Remaining", "10"})
}

func TestWriteChannelCSVSortsByRevenue(t *testing.T) {
	var buf bytes.Buffer
	result := kpi.KPIResult{
		ChannelRevenues:   map[string]float64{"Walmart": 10, "Amazon": 90, "Target": 10},
		ChannelTargets100: map[string]float64{"Amazon": 100},
		ChannelTargets85:  map[string]float64{"Amazon": 85},
	}
	require.NoError(t, WriteChannelCSV(&buf, result))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Amazon", "90.00", "100.00", "85.00", "0.00", "0.00"}, rows[1])
	assert.Equal(t, "Target", rows[2][0])
	assert.Equal(t, "Walmart", rows[3][0])
}

func TestWriteSKUCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSKUCSV(&buf, []kpi.SKURevenue{{SKU: "LP-1", Brand: "LifePro", Revenue: 5, Units: 2, Count: 1}}))
	assert.Equal(t, "SKU,Brand,Revenue,Units,Rows\nLP-1,LifePro,5.00,2.00,1\n", buf.String())
}

package services

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"insights-pipeline/models"
	"insights-pipeline/utils"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *utils.Logger { return utils.NewNopLogger() }

// countsTable is a cumulative series growing by 50 cases and 2 deaths a day.
func countsTable(n int) *models.Table {
	t := models.NewTable("date")
	for i := 0; i < n; i++ {
		t.AppendRow(day0.AddDate(0, 0, i), map[string]float64{
			"cases":  1000 + 50*float64(i),
			"deaths": 20 + 2*float64(i),
		}, nil)
	}
	return t
}

// marketTable is a gently trending, wobbling daily quote series.
func marketTable(n int) *models.Table {
	t := models.NewTable("date")
	for i := 0; i < n; i++ {
		c := 100 + 0.5*float64(i) + 2*math.Sin(float64(i))
		t.AppendRow(day0.AddDate(0, 0, i), map[string]float64{
			"open":   c - 0.3,
			"high":   c + 1,
			"low":    c - 1,
			"close":  c,
			"volume": 1e6 + 1000*float64(i),
		}, nil)
	}
	return t
}

// weatherTable cycles temperatures through every bucket of the weather job.
func weatherTable(n int) *models.Table {
	descriptions := []string{"clear sky", "few clouds", "light rain"}
	t := models.NewTable("datetime")
	for i := 0; i < n; i++ {
		t.AppendRow(day0.Add(time.Duration(3*i)*time.Hour), map[string]float64{
			"temperature": -5 + float64(i%40),
			"humidity":    40 + float64(i%20),
			"pressure":    1005 + float64(i%10),
			"wind_speed":  2 + float64(i%5),
		}, map[string]string{"description": descriptions[i%3]})
	}
	return t
}

func populationTable() *models.Table {
	t := models.NewTable("date")
	rows := []struct {
		entity string
		pop    float64
	}{
		{"Iceland", 5e6},
		{"Chile", 20e6},
		{"Germany", 80e6},
		{"United States", 300e6},
		{"Nowhere", -1},
		{"Unknown", math.NaN()},
	}
	for _, r := range rows {
		t.AppendRow(day0, map[string]float64{"population": r.pop}, map[string]string{"entity": r.entity})
	}
	return t
}

func featurize(t *testing.T, raw *models.Table, domain models.Domain) *FeatureResult {
	t.Helper()
	res, err := NewFeatureEngine(testLogger()).CleanAndFeaturize(raw, domain)
	require.NoError(t, err)
	return res
}

// requireSameTable compares tables cell by cell, treating NaN as equal to NaN.
func requireSameTable(t *testing.T, want, got *models.Table) {
	t.Helper()
	require.Equal(t, want.Columns(), got.Columns())
	require.Equal(t, want.Times, got.Times)
	for _, name := range want.NumericColumns() {
		w, _ := want.Numeric(name)
		g, ok := got.Numeric(name)
		require.True(t, ok, name)
		for i := range w {
			require.Equal(t, math.Float64bits(w[i]), math.Float64bits(g[i]), "%s row %d", name, i)
		}
	}
	for _, name := range want.TextColumns() {
		w, _ := want.Text(name)
		g, _ := got.Text(name)
		require.Equal(t, w, g, name)
	}
}

package services

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insights-pipeline/models"
)

func TestInsightsCounts(t *testing.T) {
	table := featurize(t, countsTable(30), models.DomainCovid).Table
	r := NewInsightService(testLogger()).Generate(models.DomainCovid, table)

	assert.Equal(t, models.DomainCovid, r.Domain)
	assert.Equal(t, 30, r.TotalRecords)
	assert.Equal(t, table.Columns(), r.Columns)
	require.NotNil(t, r.DateRange.Start)
	require.NotNil(t, r.DateRange.End)
	assert.Equal(t, day0, *r.DateRange.Start)
	assert.Equal(t, day0.AddDate(0, 0, 29), *r.DateRange.End)

	cases := r.NumericSummary["cases"]
	assert.InDelta(t, 1725.0, float64(cases.Mean), 1e-9)
	assert.InDelta(t, 1725.0, float64(cases.Median), 1e-9)
	assert.Equal(t, models.Value(1000), cases.Min)
	assert.Equal(t, models.Value(2450), cases.Max)

	missing := r.MissingValues["cases_7d_avg"]
	assert.Equal(t, 6, missing.Count)
	assert.InDelta(t, 20.0, missing.Percentage, 1e-9)
	assert.NotContains(t, r.MissingValues, "cases")

	assert.Equal(t, models.Value(2450), r.LatestStats["total_cases"])
	assert.Equal(t, models.Value(78), r.LatestStats["total_deaths"])
	assert.InDelta(t, 78.0/2450*100, float64(r.LatestStats["fatality_rate"]), 1e-9)
}

func TestInsightsLatestStatsPerDomain(t *testing.T) {
	svc := NewInsightService(testLogger())

	stock := svc.Generate(models.DomainStock, featurize(t, marketTable(30), models.DomainStock).Table)
	assert.Contains(t, stock.LatestStats, "latest_price")
	assert.Contains(t, stock.LatestStats, "daily_change")
	assert.Contains(t, stock.LatestStats, "volatility")

	weather := svc.Generate(models.DomainWeather, featurize(t, weatherTable(40), models.DomainWeather).Table)
	assert.InDelta(t, 14.5, float64(weather.LatestStats["average_temperature"]), 1e-9)
	assert.Equal(t, models.Value(39), weather.LatestStats["temperature_range"])

	pop := svc.Generate(models.DomainPopulation, featurize(t, populationTable(), models.DomainPopulation).Table)
	assert.Equal(t, models.Value(405e6), pop.LatestStats["total_population"])
	assert.Equal(t, models.Value(4), pop.LatestStats["entities"])
	assert.Equal(t, models.Value(300e6), pop.LatestStats["largest_population"])
}

func TestInsightsEmptyTable(t *testing.T) {
	r := NewInsightService(testLogger()).Generate(models.DomainStock, models.NewTable("date"))
	assert.Zero(t, r.TotalRecords)
	assert.Nil(t, r.DateRange.Start)
	assert.Empty(t, r.NumericSummary)
	assert.Nil(t, r.LatestStats)
}

func TestInsightsAllMissingColumn(t *testing.T) {
	table := models.NewTable("date")
	table.AppendRow(day0, map[string]float64{"x": math.NaN()}, nil)
	table.AppendRow(day0.AddDate(0, 0, 1), map[string]float64{"x": math.NaN()}, nil)

	r := NewInsightService(testLogger()).Generate(models.DomainCovid, table)
	assert.False(t, r.NumericSummary["x"].Mean.Defined())
	assert.Equal(t, 2, r.MissingValues["x"].Count)
	assert.Nil(t, r.LatestStats)
}

func TestInsightsPrint(t *testing.T) {
	svc := NewInsightService(testLogger())
	report := svc.Generate(models.DomainCovid, featurize(t, countsTable(10), models.DomainCovid).Table)

	var buf bytes.Buffer
	svc.Print(&buf, []*models.InsightReport{report})
	out := buf.String()
	assert.Contains(t, out, "COVID insights")
	assert.Contains(t, out, "total_cases")
	assert.Contains(t, out, "cases_7d_avg")

	buf.Reset()
	svc.PrintRun(&buf, &models.PipelineRun{
		ID:     "run-1",
		Mode:   models.ModeFull,
		Status: models.RunCompleted,
		Domains: []*models.DomainRecord{
			{Domain: models.DomainCovid, Status: models.DomainSkipped, Reason: "no data"},
			{Domain: models.DomainStock, Status: models.DomainTrained, Model: "stock_prediction"},
		},
	})
	assert.Contains(t, buf.String(), "no data")
	assert.Contains(t, buf.String(), "stock_prediction")
}

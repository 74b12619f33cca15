package services

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insights-pipeline/ml"
	"insights-pipeline/models"
)

func TestCleanAndFeaturizeEmptyInput(t *testing.T) {
	for _, spec := range Domains() {
		t.Run(string(spec.Domain), func(t *testing.T) {
			res := featurize(t, models.NewTable(spec.TimeColumn), spec.Domain)
			assert.True(t, res.Table.Empty())
			assert.Equal(t, spec.TimeColumn, res.Table.TimeColumn)

			res = featurize(t, nil, spec.Domain)
			assert.True(t, res.Table.Empty())
		})
	}
}

func TestCleanAndFeaturizeUnknownDomain(t *testing.T) {
	_, err := NewFeatureEngine(testLogger()).CleanAndFeaturize(countsTable(3), "crypto")
	require.Error(t, err)
}

func TestCleanAndFeaturizeDoesNotMutateInput(t *testing.T) {
	raw := marketTable(40)
	before := raw.Clone()
	featurize(t, raw, models.DomainStock)
	requireSameTable(t, before, raw)
}

func TestCleanAndFeaturizeIdempotent(t *testing.T) {
	cases := map[models.Domain]*models.Table{
		models.DomainCovid:      countsTable(30),
		models.DomainWeather:    weatherTable(60),
		models.DomainStock:      marketTable(60),
		models.DomainPopulation: populationTable(),
	}
	for domain, raw := range cases {
		t.Run(string(domain), func(t *testing.T) {
			first := featurize(t, raw, domain)
			second := featurize(t, raw, domain)
			requireSameTable(t, first.Table, second.Table)
			assert.Equal(t, first.Degraded, second.Degraded)
		})
	}
}

func TestCountsRatesBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	raw := models.NewTable("date")
	for i := 0; i < 300; i++ {
		row := map[string]float64{
			"cases":     math.Round(rng.Float64()*200 - 20),
			"deaths":    math.Round(rng.Float64()*400 - 20),
			"recovered": math.Round(rng.Float64()*300 - 20),
		}
		switch i % 10 {
		case 0:
			row["cases"] = 0
		case 1:
			row["deaths"] = math.NaN()
		case 2:
			delete(row, "recovered")
		}
		raw.AppendRow(day0.AddDate(0, 0, i), row, nil)
	}

	out := featurize(t, raw, models.DomainCovid).Table
	cases := col(out, "cases")
	for _, name := range []string{"case_fatality_rate", "recovery_rate"} {
		rates, ok := out.Numeric(name)
		require.True(t, ok, name)
		for i, r := range rates {
			require.False(t, math.IsNaN(r), "%s row %d", name, i)
			assert.GreaterOrEqual(t, r, 0.0, "%s row %d", name, i)
			assert.LessOrEqual(t, r, 100.0, "%s row %d", name, i)
			if cases[i] == 0 {
				assert.Equal(t, 0.0, r, "%s row %d", name, i)
			}
		}
	}
	for _, name := range []string{"cases", "deaths", "recovered"} {
		for i, v := range col(out, name) {
			require.GreaterOrEqual(t, v, 0.0, "%s row %d", name, i)
		}
	}
}

func TestCountsScenario(t *testing.T) {
	out := featurize(t, countsTable(30), models.DomainCovid).Table
	require.Equal(t, 30, out.Len())

	cfr := col(out, "case_fatality_rate")
	prevGap := math.Inf(1)
	for i, r := range cfr {
		gap := math.Abs(r - 4)
		assert.Less(t, gap, prevGap, "row %d", i)
		prevGap = gap
	}

	cases := col(out, "cases")
	avg := col(out, "cases_7d_avg")
	for i := 0; i < 6; i++ {
		assert.True(t, math.IsNaN(avg[i]), "row %d", i)
	}
	for i := 6; i < len(avg); i++ {
		assert.InDelta(t, cases[i]-150, avg[i], 1e-9, "row %d", i)
	}

	growth := col(out, "cases_growth_rate")
	assert.True(t, math.IsNaN(growth[0]))
	assert.InDelta(t, 0.05, growth[1], 1e-12)

	lag := col(out, "cases_lag_7")
	assert.Equal(t, cases[3], lag[10])
	assert.Contains(t, featurize(t, countsTable(30), models.DomainCovid).Degraded, "recovery_rate")
}

func TestCountsDegradedRulesAreSkipped(t *testing.T) {
	raw := models.NewTable("date")
	for i := 0; i < 10; i++ {
		raw.AppendRow(day0.AddDate(0, 0, i), map[string]float64{"deaths": float64(i)}, nil)
	}
	res := featurize(t, raw, models.DomainCovid)
	assert.Subset(t, res.Degraded, []string{"case_fatality_rate", "recovery_rate", "cases_7d_avg", "cases_growth_rate", "cases_lag"})
	assert.True(t, res.Table.Has("deaths_7d_avg"))
	assert.True(t, res.Table.Has("day_of_year"))
	assert.False(t, res.Table.Has("case_fatality_rate"))
}

func TestRowsWithoutTimestampAreDropped(t *testing.T) {
	raw := countsTable(5)
	raw.AppendRow(time.Time{}, map[string]float64{"cases": 1, "deaths": 1}, nil)
	out := featurize(t, raw, models.DomainCovid).Table
	assert.Equal(t, 5, out.Len())
}

func TestMarketDropsImplausibleJump(t *testing.T) {
	raw := marketTable(25)
	closes := col(raw, "close")
	closes[12] *= 1.8

	out := featurize(t, raw, models.DomainStock).Table
	require.Equal(t, 24, out.Len())
	for _, ts := range out.Times {
		assert.False(t, ts.Equal(day0.AddDate(0, 0, 12)))
	}
	for i, r := range col(out, "daily_return") {
		if !math.IsNaN(r) {
			assert.LessOrEqual(t, math.Abs(r), maxDailyReturn, "row %d", i)
		}
	}
}

func TestMarketIndicators(t *testing.T) {
	out := featurize(t, marketTable(60), models.DomainStock).Table
	for _, name := range domainJob(t, models.DomainStock).Features {
		assert.True(t, out.Has(name), name)
	}

	closes := col(out, "close")
	sma5 := col(out, "sma_5")
	assert.True(t, math.IsNaN(sma5[3]))
	assert.InDelta(t, (closes[0]+closes[1]+closes[2]+closes[3]+closes[4])/5, sma5[4], 1e-9)

	ema12 := col(out, "ema_12")
	assert.True(t, math.IsNaN(ema12[10]))
	assert.False(t, math.IsNaN(ema12[11]))

	for i, v := range col(out, "rsi") {
		if !math.IsNaN(v) {
			assert.True(t, v >= 0 && v <= 100, "row %d: %v", i, v)
		}
	}
	upper, lower := col(out, "bb_upper"), col(out, "bb_lower")
	for i := 19; i < out.Len(); i++ {
		assert.Greater(t, upper[i], lower[i])
	}
}

func TestMarketKeepsProvidedReturns(t *testing.T) {
	raw := marketTable(30)
	ret := make([]float64, raw.Len())
	for i := range ret {
		ret[i] = 0.01
	}
	ret[5] = -0.9
	require.NoError(t, raw.SetNumeric("daily_return", ret))

	out := featurize(t, raw, models.DomainStock).Table
	assert.Equal(t, 29, out.Len())
	assert.Equal(t, 0.01, col(out, "daily_return")[0])
}

func TestWeatherFeatures(t *testing.T) {
	res := featurize(t, weatherTable(60), models.DomainWeather)
	out := res.Table
	require.Equal(t, 60, out.Len())

	temp, f := col(out, "temperature"), col(out, "temp_fahrenheit")
	for i := range temp {
		assert.InDelta(t, temp[i]*9/5+32, f[i], 1e-9)
	}
	assert.Equal(t, []float64{1, 1, 1}, col(out, "is_winter")[:3])

	enc, ok := res.Encoders["description"]
	require.True(t, ok)
	assert.Equal(t, []string{"clear sky", "few clouds", "light rain"}, enc.Classes)
	assert.Equal(t, []float64{0, 1, 2}, col(out, "weather_code")[:3])

	cats, ok := out.Text("temp_category")
	require.True(t, ok)
	assert.Equal(t, "Freezing", cats[0])
	assert.Equal(t, "Hot", cats[39])
}

func TestWeatherDropsIncompleteAndOutliers(t *testing.T) {
	raw := weatherTable(40)
	raw.AppendRow(day0.AddDate(0, 1, 0), map[string]float64{
		"temperature": 10, "humidity": 50, "pressure": 5000, "wind_speed": 3,
	}, map[string]string{"description": "clear sky"})
	raw.AppendRow(day0.AddDate(0, 1, 1), map[string]float64{
		"temperature": 10, "humidity": 50, "wind_speed": 3,
	}, map[string]string{"description": "clear sky"})

	out := featurize(t, raw, models.DomainWeather).Table
	assert.Equal(t, 40, out.Len())
}

func TestWeatherTransformReusesEncoder(t *testing.T) {
	eng := NewFeatureEngine(testLogger())
	first, err := eng.CleanAndFeaturize(weatherTable(30), models.DomainWeather)
	require.NoError(t, err)

	fresh := models.NewTable("datetime")
	for i := 0; i < 3; i++ {
		fresh.AppendRow(day0.AddDate(1, 0, i), map[string]float64{
			"temperature": 12, "humidity": 50, "pressure": 1010, "wind_speed": 3,
		}, map[string]string{"description": "light rain"})
	}
	res, err := eng.Transform(fresh, models.DomainWeather, first.Encoders)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2}, col(res.Table, "weather_code"))

	labels, _ := fresh.Text("description")
	labels[1] = "volcanic ash"
	_, err = eng.Transform(fresh, models.DomainWeather, first.Encoders)
	require.ErrorIs(t, err, ml.ErrUnseenCategory)
}

func TestPopulationCategories(t *testing.T) {
	out := featurize(t, populationTable(), models.DomainPopulation).Table
	require.Equal(t, 4, out.Len())

	cats, _ := out.Text("population_category")
	assert.Equal(t, []string{"Small", "Medium", "Large", "Very Large"}, cats)
	assert.Equal(t, []float64{0, 1, 2, 3}, col(out, "population_category_code"))
	assert.Equal(t, []float64{5, 20, 80, 300}, col(out, "population_millions"))
	assert.InDelta(t, math.Log(5e6), col(out, "log_population")[0], 1e-12)
}

func TestIndicatorHelpers(t *testing.T) {
	assert.Equal(t, 1, bucketIndex(15, []float64{0, 15, 25}))
	assert.Equal(t, 2, bucketIndex(15.5, []float64{0, 15, 25}))
	assert.Equal(t, 0, bucketIndex(-3, []float64{0, 15, 25}))
	assert.Equal(t, 3, bucketIndex(40, []float64{0, 15, 25}))

	assert.True(t, math.IsNaN(safeDiv(1, 0)))
	pc := pctChange([]float64{0, 5, 10})
	assert.True(t, math.IsNaN(pc[1]))
	assert.Equal(t, 1.0, pc[2])

	e := ewm([]float64{1, 1, 1, math.NaN(), 1}, 3)
	assert.True(t, math.IsNaN(e[1]))
	assert.Equal(t, 1.0, e[2])
	assert.True(t, math.IsNaN(e[3]))
	assert.InDelta(t, 1.0, e[4], 1e-12)

	assert.Equal(t, 0, weekday(day0))
	assert.Equal(t, 4, quarter(time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC)))
}

func domainJob(t *testing.T, d models.Domain) TrainingJob {
	t.Helper()
	spec, ok := LookupDomain(d)
	require.True(t, ok)
	require.NotNil(t, spec.Job)
	return *spec.Job
}

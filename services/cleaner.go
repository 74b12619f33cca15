package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"insights-pipeline/ml"
	"insights-pipeline/models"
	"insights-pipeline/utils"
)

var (
	countColumns       = []string{"cases", "deaths", "recovered", "new_cases", "new_deaths", "new_recovered"}
	weatherRequired    = []string{"temperature", "humidity", "pressure", "wind_speed", "description"}
	weatherOutlierCols = []string{"temperature", "humidity", "pressure", "wind_speed"}
	marketRequired     = []string{"open", "high", "low", "close", "volume"}

	tempCategoryEdges  = []float64{0, 10, 20, 30}
	tempCategoryLabels = []string{"Freezing", "Cold", "Mild", "Warm", "Hot"}

	populationEdges  = []float64{10_000_000, 50_000_000, 100_000_000}
	populationLabels = []string{"Small", "Medium", "Large", "Very Large"}
)

const maxDailyReturn = 0.5

// Cleaner applies the fixed per-domain cleaning and enrichment rules.
// A rule whose inputs are missing is skipped and recorded as degraded.
type Cleaner struct {
	logger   *utils.Logger
	domain   models.Domain
	degraded []string
}

func newCleaner(logger *utils.Logger, domain models.Domain) *Cleaner {
	return &Cleaner{logger: logger, domain: domain}
}

// need reports whether every column exists, recording rule as degraded if not.
func (c *Cleaner) need(t *models.Table, rule string, cols ...string) bool {
	ok, missing := t.HasAll(cols...)
	if !ok {
		c.degraded = append(c.degraded, rule)
		c.logger.Warn("[features] %s: skipping %s, missing columns %v", c.domain, rule, missing)
	}
	return ok
}

// put stores a column whose length is known to match the table.
func put(t *models.Table, col string, values []float64) {
	if err := t.SetNumeric(col, values); err != nil {
		panic(err)
	}
}

func putText(t *models.Table, col string, values []string) {
	if err := t.SetText(col, values); err != nil {
		panic(err)
	}
}

func col(t *models.Table, name string) []float64 {
	v, _ := t.Numeric(name)
	return v
}

// dropWhere removes rows for which drop returns true.
func dropWhere(t *models.Table, drop func(i int) bool) *models.Table {
	keep := make([]bool, t.Len())
	for i := range keep {
		keep[i] = !drop(i)
	}
	return t.Filter(keep)
}

// dropMissing removes rows with an undefined value in any present column of cols.
func dropMissing(t *models.Table, cols []string) *models.Table {
	return dropWhere(t, func(i int) bool {
		for _, name := range cols {
			if v, ok := t.Numeric(name); ok && isNaN(v[i]) {
				return true
			}
			if v, ok := t.Text(name); ok && v[i] == "" {
				return true
			}
		}
		return false
	})
}

func (c *Cleaner) addCalendar(t *models.Table, features ...string) {
	for _, f := range features {
		var fn func(time.Time) float64
		switch f {
		case "day_of_year":
			fn = func(ts time.Time) float64 { return float64(ts.YearDay()) }
		case "week_of_year":
			fn = func(ts time.Time) float64 { _, w := ts.ISOWeek(); return float64(w) }
		case "month":
			fn = func(ts time.Time) float64 { return float64(ts.Month()) }
		case "quarter":
			fn = func(ts time.Time) float64 { return float64(quarter(ts)) }
		case "day_of_week":
			fn = func(ts time.Time) float64 { return float64(weekday(ts)) }
		case "hour":
			fn = func(ts time.Time) float64 { return float64(ts.Hour()) }
		default:
			panic(fmt.Sprintf("unknown calendar feature %q", f))
		}
		put(t, f, mapTimes(t.Times, fn))
	}
}

// cleanCounts treats missing counts as zero events, clips negatives and
// derives rates, rolling averages, growth and lags.
func (c *Cleaner) cleanCounts(t *models.Table) *models.Table {
	for _, name := range t.NumericColumns() {
		vals := col(t, name)
		for i, v := range vals {
			if isNaN(v) {
				vals[i] = 0
			}
		}
	}
	for _, name := range countColumns {
		if vals, ok := t.Numeric(name); ok {
			for i, v := range vals {
				if v < 0 {
					vals[i] = 0
				}
			}
		}
	}

	rate := func(num, den float64) float64 {
		if den <= 0 {
			return 0
		}
		return math.Min(num/den*100, 100)
	}
	if c.need(t, "case_fatality_rate", "cases", "deaths") {
		put(t, "case_fatality_rate", zip(col(t, "deaths"), col(t, "cases"), rate))
	}
	if c.need(t, "recovery_rate", "cases", "recovered") {
		put(t, "recovery_rate", zip(col(t, "recovered"), col(t, "cases"), rate))
	}
	if c.need(t, "cases_7d_avg", "cases") {
		put(t, "cases_7d_avg", rollingMean(col(t, "cases"), 7))
	}
	if c.need(t, "deaths_7d_avg", "deaths") {
		put(t, "deaths_7d_avg", rollingMean(col(t, "deaths"), 7))
	}
	if c.need(t, "cases_growth_rate", "cases") {
		put(t, "cases_growth_rate", pctChange(col(t, "cases")))
	}
	if c.need(t, "deaths_growth_rate", "deaths") {
		put(t, "deaths_growth_rate", pctChange(col(t, "deaths")))
	}

	c.addCalendar(t, "day_of_year", "week_of_year", "month", "quarter", "day_of_week")
	if c.need(t, "cases_lag", "cases") {
		put(t, "cases_lag_1", shift(col(t, "cases"), 1))
		put(t, "cases_lag_7", shift(col(t, "cases"), 7))
	}
	if c.need(t, "deaths_lag_1", "deaths") {
		put(t, "deaths_lag_1", shift(col(t, "deaths"), 1))
	}
	return t
}

// iqrFences returns the 1.5×IQR fences of the defined values in x.
func iqrFences(x []float64) (lo, hi float64) {
	sorted := make([]float64, 0, len(x))
	for _, v := range x {
		if !isNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)
	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// cleanWeather drops incomplete observations and outliers, then derives
// unit conversions, calendar fields and the encoded description. A non-nil
// enc is reused instead of fitting a new encoder.
func (c *Cleaner) cleanWeather(t *models.Table, enc *ml.LabelEncoder) (*models.Table, *ml.LabelEncoder, error) {
	c.need(t, "drop_incomplete", weatherRequired...)
	t = dropMissing(t, weatherRequired)
	if t.Empty() {
		return t, enc, nil
	}

	keep := make([]bool, t.Len())
	for i := range keep {
		keep[i] = true
	}
	for _, name := range weatherOutlierCols {
		vals, ok := t.Numeric(name)
		if !ok {
			continue
		}
		lo, hi := iqrFences(vals)
		for i, v := range vals {
			if v < lo || v > hi {
				keep[i] = false
			}
		}
	}
	before := t.Len()
	t = t.Filter(keep)
	if dropped := before - t.Len(); dropped > 0 {
		c.logger.Debug("[features] weather: dropped %d outlier rows", dropped)
	}

	if c.need(t, "temp_fahrenheit", "temperature") {
		temp := col(t, "temperature")
		f := make([]float64, len(temp))
		for i, v := range temp {
			f[i] = v*9/5 + 32
		}
		put(t, "temp_fahrenheit", f)
		put(t, "feels_like", append([]float64(nil), temp...))
	}
	c.addCalendar(t, "hour", "day_of_week", "month")

	if c.need(t, "weather_code", "description") {
		desc, _ := t.Text("description")
		if enc == nil {
			enc = &ml.LabelEncoder{}
			put(t, "weather_code", enc.FitTransform(desc))
		} else {
			codes, err := enc.Transform(desc)
			if err != nil {
				return nil, nil, fmt.Errorf("encode weather description: %w", err)
			}
			put(t, "weather_code", codes)
		}
	}

	month := col(t, "month")
	dow := col(t, "day_of_week")
	summer := make([]float64, t.Len())
	winter := make([]float64, t.Len())
	weekend := make([]float64, t.Len())
	for i := range summer {
		m := int(month[i])
		summer[i] = boolFloat(m >= 6 && m <= 8)
		winter[i] = boolFloat(m == 12 || m <= 2)
		weekend[i] = boolFloat(dow[i] >= 5)
	}
	put(t, "is_summer", summer)
	put(t, "is_winter", winter)
	put(t, "is_weekend", weekend)
	c.addCalendar(t, "quarter")

	if c.need(t, "temp_category", "temperature") {
		temp := col(t, "temperature")
		cats := make([]string, len(temp))
		for i, v := range temp {
			cats[i] = tempCategoryLabels[bucketIndex(v, tempCategoryEdges)]
		}
		putText(t, "temp_category", cats)
	}
	return t, enc, nil
}

// cleanMarket drops incomplete quotes and implausible single-sample moves,
// then adds technical indicators in a fixed order followed by price features.
func (c *Cleaner) cleanMarket(t *models.Table) *models.Table {
	c.need(t, "drop_incomplete", marketRequired...)
	t = dropMissing(t, marketRequired)
	if t.Empty() {
		return t
	}

	if !t.Has("daily_return") && t.Has("close") {
		put(t, "daily_return", pctChange(col(t, "close")))
	}
	if ret, ok := t.Numeric("daily_return"); ok {
		before := t.Len()
		t = dropWhere(t, func(i int) bool { return math.Abs(ret[i]) > maxDailyReturn })
		if dropped := before - t.Len(); dropped > 0 {
			c.logger.Warn("[features] stock: dropped %d rows with |daily_return| > %.0f%%", dropped, maxDailyReturn*100)
		}
		if !t.Has("volatility") {
			put(t, "volatility", rollingStd(col(t, "daily_return"), 5))
		}
	} else {
		c.need(t, "return_filter", "daily_return")
	}

	if c.need(t, "price_indicators", "close") {
		closes := col(t, "close")
		put(t, "sma_5", rollingMean(closes, 5))
		put(t, "sma_20", rollingMean(closes, 20))
		ema12 := ewm(closes, 12)
		ema26 := ewm(closes, 26)
		put(t, "ema_12", ema12)
		put(t, "ema_26", ema26)
		macd := zip(ema12, ema26, func(a, b float64) float64 { return a - b })
		put(t, "macd", macd)
		put(t, "macd_signal", ewm(macd, 9))

		delta := diff(closes)
		gains := make([]float64, len(delta))
		losses := make([]float64, len(delta))
		for i, d := range delta {
			switch {
			case isNaN(d):
				gains[i], losses[i] = math.NaN(), math.NaN()
			case d > 0:
				gains[i] = d
			default:
				losses[i] = -d
			}
		}
		rs := zip(rollingMean(gains, 14), rollingMean(losses, 14), safeDiv)
		put(t, "rsi", zip(rs, rs, func(r, _ float64) float64 { return 100 - 100/(1+r) }))

		middle := rollingMean(closes, 20)
		sd := rollingStd(closes, 20)
		put(t, "bb_middle", middle)
		put(t, "bb_upper", zip(middle, sd, func(m, s float64) float64 { return m + 2*s }))
		put(t, "bb_lower", zip(middle, sd, func(m, s float64) float64 { return m - 2*s }))

		momentum := func(a, b float64) float64 { return safeDiv(a, b) - 1 }
		put(t, "momentum_5", zip(closes, shift(closes, 5), momentum))
		put(t, "momentum_10", zip(closes, shift(closes, 10), momentum))
	}
	if c.need(t, "volume_indicators", "volume") {
		volume := col(t, "volume")
		volSMA := rollingMean(volume, 20)
		put(t, "volume_sma", volSMA)
		put(t, "volume_ratio", zip(volume, volSMA, safeDiv))
	}

	if c.need(t, "price_features", "open", "high", "low", "close") {
		open, high, low, closes := col(t, "open"), col(t, "high"), col(t, "low"), col(t, "close")
		change := zip(closes, open, func(cl, op float64) float64 { return cl - op })
		put(t, "price_change", change)
		put(t, "price_change_pct", zip(change, open, safeDiv))
		put(t, "high_low_ratio", zip(high, low, safeDiv))
		put(t, "close_open_ratio", zip(closes, open, safeDiv))
	}
	c.addCalendar(t, "day_of_week", "month", "quarter")
	return t
}

// cleanPopulation keeps entities with a positive population and buckets them
// into ordered size categories.
func (c *Cleaner) cleanPopulation(t *models.Table) *models.Table {
	c.need(t, "drop_incomplete", "entity", "population")
	t = dropMissing(t, []string{"entity", "population"})
	pop, ok := t.Numeric("population")
	if !ok {
		return t
	}
	t = dropWhere(t, func(i int) bool { return pop[i] <= 0 })
	if t.Empty() {
		return t
	}
	pop = col(t, "population")

	millions := make([]float64, len(pop))
	logs := make([]float64, len(pop))
	codes := make([]float64, len(pop))
	cats := make([]string, len(pop))
	for i, v := range pop {
		millions[i] = v / 1_000_000
		logs[i] = math.Log(v)
		b := bucketIndex(v, populationEdges)
		codes[i] = float64(b)
		cats[i] = populationLabels[b]
	}
	put(t, "population_millions", millions)
	put(t, "log_population", logs)
	putText(t, "population_category", cats)
	put(t, "population_category_code", codes)
	return t
}

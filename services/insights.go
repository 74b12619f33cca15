package services

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"insights-pipeline/models"
	"insights-pipeline/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarizes a processed table: size, time span, descriptive
// statistics of numeric columns, missing cells and domain-specific latest
// values.
func (s *InsightService) Generate(domain models.Domain, t *models.Table) *models.InsightReport {
	report := &models.InsightReport{
		Domain:         domain,
		NumericSummary: make(map[string]models.ColumnSummary),
		MissingValues:  make(map[string]models.MissingSummary),
	}
	if t == nil || t.Empty() {
		return report
	}

	report.TotalRecords = t.Len()
	report.Columns = t.Columns()
	for _, ts := range t.Times {
		if ts.IsZero() {
			continue
		}
		if report.DateRange.Start == nil || ts.Before(*report.DateRange.Start) {
			report.DateRange.Start = &ts
		}
		if report.DateRange.End == nil || ts.After(*report.DateRange.End) {
			report.DateRange.End = &ts
		}
	}

	for _, name := range t.NumericColumns() {
		vals, _ := t.Numeric(name)
		defined := definedValues(vals)
		report.NumericSummary[name] = summarize(defined)
		if missing := len(vals) - len(defined); missing > 0 {
			report.MissingValues[name] = models.MissingSummary{
				Count:      missing,
				Percentage: float64(missing) / float64(len(vals)) * 100,
			}
		}
	}
	for _, name := range t.TextColumns() {
		vals, _ := t.Text(name)
		missing := 0
		for _, v := range vals {
			if v == "" {
				missing++
			}
		}
		if missing > 0 {
			report.MissingValues[name] = models.MissingSummary{
				Count:      missing,
				Percentage: float64(missing) / float64(len(vals)) * 100,
			}
		}
	}

	report.LatestStats = latestStats(domain, t)
	s.logger.Debug("[insights] %s: %d records, %d numeric columns", domain, report.TotalRecords, len(report.NumericSummary))
	return report
}

func definedValues(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !isNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func summarize(vals []float64) models.ColumnSummary {
	nan := models.Value(math.NaN())
	if len(vals) == 0 {
		return models.ColumnSummary{Mean: nan, Std: nan, Min: nan, Max: nan, Median: nan}
	}
	mean, std := stat.MeanStdDev(vals, nil)
	return models.ColumnSummary{
		Mean:   models.Value(mean),
		Std:    models.Value(std),
		Min:    models.Value(floats.Min(vals)),
		Max:    models.Value(floats.Max(vals)),
		Median: models.Value(median(vals)),
	}
}

// median averages the two middle values of an even-length sample.
func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func last(t *models.Table, name string) (float64, bool) {
	vals, ok := t.Numeric(name)
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[len(vals)-1], true
}

func latestStats(domain models.Domain, t *models.Table) map[string]models.Value {
	stats := map[string]models.Value{}
	switch domain {
	case models.DomainCovid:
		cases, okC := last(t, "cases")
		deaths, okD := last(t, "deaths")
		if !okC || !okD {
			return nil
		}
		stats["total_cases"] = models.Value(cases)
		stats["total_deaths"] = models.Value(deaths)
		rate := 0.0
		if cases > 0 {
			rate = deaths / cases * 100
		}
		stats["fatality_rate"] = models.Value(rate)
	case models.DomainStock:
		closes, ok := t.Numeric("close")
		if !ok {
			return nil
		}
		stats["latest_price"] = models.Value(closes[len(closes)-1])
		change := 0.0
		if len(closes) > 1 {
			change = safeDiv(closes[len(closes)-1], closes[len(closes)-2]) - 1
		}
		stats["daily_change"] = models.Value(change * 100)
		volatility := 0.0
		if ret, ok := t.Numeric("daily_return"); ok {
			volatility = stat.StdDev(definedValues(ret), nil) * 100
		}
		stats["volatility"] = models.Value(volatility)
	case models.DomainWeather:
		temp, ok := t.Numeric("temperature")
		if !ok {
			return nil
		}
		defined := definedValues(temp)
		if len(defined) == 0 {
			return nil
		}
		stats["average_temperature"] = models.Value(stat.Mean(defined, nil))
		stats["temperature_range"] = models.Value(floats.Max(defined) - floats.Min(defined))
	case models.DomainPopulation:
		pop, ok := t.Numeric("population")
		if !ok {
			return nil
		}
		defined := definedValues(pop)
		stats["total_population"] = models.Value(floats.Sum(defined))
		stats["entities"] = models.Value(len(defined))
		if len(defined) > 0 {
			stats["largest_population"] = models.Value(floats.Max(defined))
		}
	}
	if len(stats) == 0 {
		return nil
	}
	return stats
}

func formatValue(v models.Value) string {
	if !v.Defined() {
		return "-"
	}
	f := float64(v)
	if math.Abs(f) >= 1e6 || (f != 0 && math.Abs(f) < 1e-3) {
		return fmt.Sprintf("%.4g", f)
	}
	return fmt.Sprintf("%.2f", f)
}

// Print renders reports as terminal tables, one block per domain.
func (s *InsightService) Print(w io.Writer, reports []*models.InsightReport) {
	for _, r := range reports {
		fmt.Fprintf(w, "\n%s\n", text.Colors{text.Bold, text.FgMagenta}.Sprintf("%s insights", strings.ToUpper(string(r.Domain))))

		span := "n/a"
		if r.DateRange.Start != nil && r.DateRange.End != nil {
			span = fmt.Sprintf("%s → %s", r.DateRange.Start.Format("2006-01-02 15:04"), r.DateRange.End.Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(w, "  records: %d   columns: %d   range: %s\n", r.TotalRecords, len(r.Columns), span)

		if len(r.LatestStats) > 0 {
			tw := table.NewWriter()
			tw.SetOutputMirror(w)
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"Latest", "Value"})
			for _, k := range sortedNames(r.LatestStats) {
				tw.AppendRow(table.Row{k, formatValue(r.LatestStats[k])})
			}
			tw.Render()
		}

		if len(r.NumericSummary) == 0 {
			continue
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"Column", "Mean", "Std", "Min", "Max", "Median", "Missing"})
		for _, col := range sortedNames(r.NumericSummary) {
			cs := r.NumericSummary[col]
			missing := ""
			if m, ok := r.MissingValues[col]; ok {
				missing = fmt.Sprintf("%d (%.1f%%)", m.Count, m.Percentage)
			}
			tw.AppendRow(table.Row{col, formatValue(cs.Mean), formatValue(cs.Std), formatValue(cs.Min),
				formatValue(cs.Max), formatValue(cs.Median), missing})
		}
		tw.Render()
	}
}

// PrintRun renders the per-domain outcome of a pipeline run.
func (s *InsightService) PrintRun(w io.Writer, run *models.PipelineRun) {
	fmt.Fprintf(w, "\n%s %s (%s, %s)\n", text.Colors{text.Bold}.Sprint("Pipeline run"), run.ID, run.Mode, run.Status)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Domain", "Status", "Collected", "Cleaned", "Model", "Best", "Note"})
	for _, d := range run.Domains {
		note := d.Reason
		if note == "" && len(d.Degraded) > 0 {
			note = "degraded: " + strings.Join(d.Degraded, ", ")
		}
		tw.AppendRow(table.Row{d.Domain, d.Status, d.RowsCollected, d.RowsCleaned, d.Model, d.BestCandidate, note})
	}
	tw.Render()
}

func sortedNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

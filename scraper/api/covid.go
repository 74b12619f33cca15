package api

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"time"

	"insights-pipeline/models"
	"insights-pipeline/utils"
)

// DefaultCovidURL is the disease.sh global history endpoint.
const DefaultCovidURL = "https://disease.sh/v3/covid-19/historical/all"

// disease.sh keys its timelines by US-style short dates.
const covidDateLayout = "1/2/06"

// CovidSource collects cumulative global case, death and recovery counts.
type CovidSource struct {
	client   *Client
	logger   *utils.Logger
	endpoint string
	days     int
}

func NewCovidSource(client *Client, logger *utils.Logger, endpoint string, days int) *CovidSource {
	if endpoint == "" {
		endpoint = DefaultCovidURL
	}
	if days <= 0 {
		days = 30
	}
	return &CovidSource{client: client, logger: logger, endpoint: endpoint, days: days}
}

func (s *CovidSource) Domain() models.Domain { return models.DomainCovid }

type covidHistory struct {
	Cases     map[string]float64 `json:"cases"`
	Deaths    map[string]float64 `json:"deaths"`
	Recovered map[string]float64 `json:"recovered"`
}

// Collect returns one row per day in ascending date order with the cumulative
// counts and their day-over-day differences.
func (s *CovidSource) Collect(ctx context.Context) (*models.Table, error) {
	var hist covidHistory
	params := url.Values{"lastdays": {strconv.Itoa(s.days)}}
	if err := s.client.GetJSON(ctx, "covid-history", s.endpoint, params, &hist); err != nil {
		return nil, err
	}

	type day struct {
		date time.Time
		key  string
	}
	var days []day
	for key := range hist.Cases {
		d, err := time.Parse(covidDateLayout, key)
		if err != nil {
			s.logger.Warn("[covid] skipping unparseable date %q", key)
			continue
		}
		days = append(days, day{date: d, key: key})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].date.Before(days[j].date) })

	t := models.NewTable("date")
	for _, d := range days {
		row := map[string]float64{"cases": hist.Cases[d.key]}
		if v, ok := hist.Deaths[d.key]; ok {
			row["deaths"] = v
		}
		if v, ok := hist.Recovered[d.key]; ok {
			row["recovered"] = v
		}
		t.AppendRow(d.date, row, nil)
	}

	for _, pair := range [][2]string{{"cases", "new_cases"}, {"deaths", "new_deaths"}, {"recovered", "new_recovered"}} {
		vals, ok := t.Numeric(pair[0])
		if !ok {
			continue
		}
		if err := t.SetNumeric(pair[1], dayOverDay(vals)); err != nil {
			return nil, fmt.Errorf("covid: %w", err)
		}
	}
	s.logger.Info("[covid] collected %d daily records", t.Len())
	return t, nil
}

// dayOverDay is x[i]-x[i-1]; the first element is undefined.
func dayOverDay(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i] - x[i-1]
	}
	return out
}

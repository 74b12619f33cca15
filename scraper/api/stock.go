package api

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"insights-pipeline/models"
	"insights-pipeline/utils"
)

// DefaultStockURL is the Alpha Vantage query endpoint.
const DefaultStockURL = "https://www.alphavantage.co/query"

var quoteFields = []struct{ key, column string }{
	{"1. open", "open"},
	{"2. high", "high"},
	{"3. low", "low"},
	{"4. close", "close"},
	{"5. volume", "volume"},
}

// StockSource collects daily OHLCV quotes for one symbol.
type StockSource struct {
	client   *Client
	logger   *utils.Logger
	endpoint string
	apiKey   string
	symbol   string
}

func NewStockSource(client *Client, logger *utils.Logger, endpoint, apiKey, symbol string) *StockSource {
	if endpoint == "" {
		endpoint = DefaultStockURL
	}
	if symbol == "" {
		symbol = "AAPL"
	}
	return &StockSource{client: client, logger: logger, endpoint: endpoint, apiKey: apiKey, symbol: symbol}
}

func (s *StockSource) Domain() models.Domain { return models.DomainStock }

type dailySeries struct {
	Series map[string]map[string]string `json:"Time Series (Daily)"`
	// Alpha Vantage reports quota and usage problems with a 200 status.
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

// Collect returns the quotes in ascending date order.
func (s *StockSource) Collect(ctx context.Context) (*models.Table, error) {
	if s.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	var ds dailySeries
	params := url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {s.symbol},
		"apikey":     {s.apiKey},
		"outputsize": {"compact"},
	}
	if err := s.client.GetJSON(ctx, "stock-daily", s.endpoint, params, &ds); err != nil {
		return nil, err
	}
	for _, msg := range []string{ds.ErrorMessage, ds.Note, ds.Information} {
		if msg != "" && len(ds.Series) == 0 {
			return nil, fmt.Errorf("alpha vantage: %s", msg)
		}
	}

	dates := make([]string, 0, len(ds.Series))
	for d := range ds.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	t := models.NewTable("date")
	for _, d := range dates {
		ts, err := time.Parse(time.DateOnly, d)
		if err != nil {
			s.logger.Warn("[stock] skipping unparseable date %q", d)
			continue
		}
		row := make(map[string]float64, len(quoteFields))
		for _, f := range quoteFields {
			raw, ok := ds.Series[d][f.key]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				s.logger.Warn("[stock] %s: bad %s value %q", d, f.column, raw)
				continue
			}
			row[f.column] = v
		}
		t.AppendRow(ts, row, nil)
	}
	s.logger.Info("[stock] collected %d daily quotes for %s", t.Len(), s.symbol)
	return t, nil
}

package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insights-pipeline/utils"
)

func testClient() *Client {
	return NewClient(utils.NewNopLogger(), 2*time.Second, 3, time.Millisecond)
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCovidSourceCollect(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("lastdays"))
		_, _ = w.Write([]byte(`{
			"cases":     {"1/10/23": 1200, "1/9/23": 1100, "1/11/23": 1350},
			"deaths":    {"1/10/23": 12, "1/9/23": 10, "1/11/23": 15},
			"recovered": {"1/10/23": 0, "1/9/23": 0, "1/11/23": 0}
		}`))
	})

	src := NewCovidSource(testClient(), utils.NewNopLogger(), srv.URL, 3)
	table, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	assert.Equal(t, time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC), table.Times[0])
	assert.Equal(t, time.Date(2023, 1, 11, 0, 0, 0, 0, time.UTC), table.Times[2])

	cases, _ := table.Numeric("cases")
	assert.Equal(t, []float64{1100, 1200, 1350}, cases)
	newCases, _ := table.Numeric("new_cases")
	assert.True(t, math.IsNaN(newCases[0]))
	assert.Equal(t, []float64{100, 150}, newCases[1:])
	newDeaths, _ := table.Numeric("new_deaths")
	assert.Equal(t, []float64{2, 3}, newDeaths[1:])
	assert.True(t, table.Has("new_recovered"))
}

func TestWeatherSourceCollect(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "Oslo", q.Get("q"))
		assert.Equal(t, "secret", q.Get("appid"))
		assert.Equal(t, "metric", q.Get("units"))
		_, _ = w.Write([]byte(`{"list": [
			{"dt": 1700000000, "main": {"temp": 3.5, "humidity": 80, "pressure": 1012},
			 "weather": [{"description": "light snow"}], "wind": {"speed": 4.1}},
			{"dt": 1700010800, "main": {"temp": 2.0, "humidity": 85},
			 "weather": [], "wind": {"speed": 3.0}}
		]}`))
	})

	src := NewWeatherSource(testClient(), utils.NewNopLogger(), srv.URL, "secret", "Oslo")
	table, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "datetime", table.TimeColumn)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), table.Times[0])

	temp, _ := table.Numeric("temperature")
	assert.Equal(t, []float64{3.5, 2.0}, temp)
	pressure, _ := table.Numeric("pressure")
	assert.True(t, math.IsNaN(pressure[1]))
	desc, _ := table.Text("description")
	assert.Equal(t, []string{"light snow", ""}, desc)
}

func TestWeatherSourceNeedsKey(t *testing.T) {
	src := NewWeatherSource(testClient(), utils.NewNopLogger(), "http://unused", "", "")
	_, err := src.Collect(context.Background())
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestStockSourceCollect(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		assert.Equal(t, "IBM", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{
			"Meta Data": {"2. Symbol": "IBM"},
			"Time Series (Daily)": {
				"2024-03-05": {"1. open": "101.0", "2. high": "103.5", "3. low": "100.2", "4. close": "102.0", "5. volume": "3500000"},
				"2024-03-04": {"1. open": "99.0", "2. high": "101.0", "3. low": "98.5", "4. close": "100.5", "5. volume": "4100000"}
			}
		}`))
	})

	src := NewStockSource(testClient(), utils.NewNopLogger(), srv.URL, "demo", "IBM")
	table, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.True(t, table.Times[0].Before(table.Times[1]))

	closes, _ := table.Numeric("close")
	assert.Equal(t, []float64{100.5, 102.0}, closes)
	volume, _ := table.Numeric("volume")
	assert.Equal(t, []float64{4.1e6, 3.5e6}, volume)
}

func TestStockSourceReportsQuotaMessages(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
	})

	src := NewStockSource(testClient(), utils.NewNopLogger(), srv.URL, "demo", "IBM")
	_, err := src.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call frequency")
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	})

	var out struct{ OK bool }
	require.NoError(t, testClient().GetJSON(context.Background(), "flaky", srv.URL, nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})

	var out map[string]any
	err := testClient().GetJSON(context.Background(), "down", srv.URL, nil, &out)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	assert.Equal(t, "nope", statusErr.Body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientHonoursCancellation(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out map[string]any
	err := NewClient(utils.NewNopLogger(), time.Second, 1, time.Millisecond).GetJSON(ctx, "cancelled", srv.URL, nil, &out)
	require.ErrorIs(t, err, context.Canceled)
}

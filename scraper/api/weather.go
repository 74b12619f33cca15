package api

import (
	"context"
	"errors"
	"net/url"
	"time"

	"insights-pipeline/models"
	"insights-pipeline/utils"
)

// DefaultWeatherURL is the OpenWeatherMap 5-day / 3-hour forecast endpoint.
const DefaultWeatherURL = "https://api.openweathermap.org/data/2.5/forecast"

// ErrMissingAPIKey is returned by sources that cannot run without a key.
var ErrMissingAPIKey = errors.New("api key not configured")

// WeatherSource collects forecast observations for one city in metric units.
type WeatherSource struct {
	client   *Client
	logger   *utils.Logger
	endpoint string
	apiKey   string
	city     string
}

func NewWeatherSource(client *Client, logger *utils.Logger, endpoint, apiKey, city string) *WeatherSource {
	if endpoint == "" {
		endpoint = DefaultWeatherURL
	}
	if city == "" {
		city = "New York"
	}
	return &WeatherSource{client: client, logger: logger, endpoint: endpoint, apiKey: apiKey, city: city}
}

func (s *WeatherSource) Domain() models.Domain { return models.DomainWeather }

type forecast struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
	} `json:"list"`
}

// Collect returns one row per forecast step. Fields absent from the response
// are left undefined for the cleaner to drop.
func (s *WeatherSource) Collect(ctx context.Context) (*models.Table, error) {
	if s.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	var fc forecast
	params := url.Values{"q": {s.city}, "appid": {s.apiKey}, "units": {"metric"}}
	if err := s.client.GetJSON(ctx, "weather-forecast", s.endpoint, params, &fc); err != nil {
		return nil, err
	}

	t := models.NewTable("datetime")
	for _, item := range fc.List {
		row := map[string]float64{}
		set := func(name string, v *float64) {
			if v != nil {
				row[name] = *v
			}
		}
		set("temperature", item.Main.Temp)
		set("humidity", item.Main.Humidity)
		set("pressure", item.Main.Pressure)
		set("wind_speed", item.Wind.Speed)
		desc := ""
		if len(item.Weather) > 0 {
			desc = item.Weather[0].Description
		}
		t.AppendRow(time.Unix(item.Dt, 0).UTC(), row, map[string]string{"description": desc})
	}
	s.logger.Info("[weather] collected %d forecast records for %s", t.Len(), s.city)
	return t, nil
}

// Package api collects the JSON-backed domains: epidemic counts, weather
// forecasts and daily market quotes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"insights-pipeline/utils"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Client fetches JSON documents over HTTP with retries and exponential
// back-off. It is safe for concurrent use.
type Client struct {
	http   *http.Client
	retry  *utils.RetryConfig
	logger *utils.Logger
}

// NewClient creates a Client whose requests time out after timeout and are
// attempted up to maxRetries times, waiting baseDelay before the first retry.
func NewClient(logger *utils.Logger, timeout time.Duration, maxRetries int, baseDelay time.Duration) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   baseDelay,
			Logger:      logger,
		},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.URL, e.Status, e.Body)
}

// GetJSON requests endpoint with params and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, name, endpoint string, params url.Values, out any) error {
	target := endpoint
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target += sep + params.Encode()
	}

	return c.retry.Do(ctx, name, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return &StatusError{URL: endpoint, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", name, err)
		}
		c.logger.Debug("[api] %s: fetched %s", name, endpoint)
		return nil
	})
}

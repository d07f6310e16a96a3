// Package waqi provides a client for the World Air Quality Index feed API.
package waqi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aqicast/aqicast/internal/airquality"
	"github.com/aqicast/aqicast/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the WAQI API.
	DefaultBaseURL = "https://api.waqi.info"

	// ProviderName identifies this provider.
	ProviderName = "waqi"

	statusOK = "ok"
)

// ErrMissingToken is returned when no API token is configured.
var ErrMissingToken = errors.New("waqi: API token is required")

// ClientConfig holds configuration for the WAQI client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Token is the WAQI API token.
	Token string

	// HTTPClient is the HTTP client to use (must implement HTTPDoer).
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	// MinInterval is the minimum spacing between upstream calls made by the
	// default client (default: 500ms).
	MinInterval time.Duration
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a WAQI API client.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
}

// NewClient creates a new WAQI client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		minInterval := cfg.MinInterval
		if minInterval == 0 {
			minInterval = 500 * time.Millisecond
		}
		client := resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MinInterval:     minInterval,
		})
		resilience.GlobalRegistry.Register(ProviderName, client)
		httpClient = client
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// API response types (from the WAQI feed endpoint).

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI  json.RawMessage `json:"aqi"`
	City struct {
		Name string    `json:"name"`
		Geo  []float64 `json:"geo"`
	} `json:"city"`
}

// Current fetches the live AQI for a city feed.
func (c *Client) Current(ctx context.Context, location string) (airquality.RawAQI, error) {
	return c.fetchFeed(ctx, url.PathEscape(strings.ToLower(location)))
}

// CurrentAt fetches the live AQI from the station nearest to the given point.
func (c *Client) CurrentAt(ctx context.Context, lat, lon float64) (airquality.RawAQI, error) {
	station := "geo:" +
		strconv.FormatFloat(lat, 'f', -1, 64) + ";" +
		strconv.FormatFloat(lon, 'f', -1, 64)
	return c.fetchFeed(ctx, station)
}

// fetchFeed fetches a single feed document.
func (c *Client) fetchFeed(ctx context.Context, station string) (airquality.RawAQI, error) {
	endpoint := fmt.Sprintf("%s/feed/%s/?token=%s", c.baseURL, station, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return airquality.RawAQI{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordFailure(err)
		return airquality.RawAQI{}, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d from feed endpoint", resp.StatusCode)
		recordFailure(err)
		return airquality.RawAQI{}, err
	}

	var result feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		recordFailure(err)
		return airquality.RawAQI{}, fmt.Errorf("decode feed response: %w", err)
	}
	resilience.GlobalRegistry.RecordSuccess(ProviderName)

	// A non-ok status means the feed has nothing for this station.
	if result.Status != statusOK {
		return airquality.Missing, nil
	}

	var data feedData
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return airquality.RawAQI{}, fmt.Errorf("decode feed data: %w", err)
	}

	return toRawAQI(data.AQI), nil
}

// toRawAQI converts the aqi field, which is a number or a string marker.
func toRawAQI(field json.RawMessage) airquality.RawAQI {
	field = bytes.TrimSpace(field)
	if len(field) == 0 || string(field) == "null" {
		return airquality.Missing
	}

	if field[0] == '"' {
		var s string
		if err := json.Unmarshal(field, &s); err != nil {
			return airquality.Raw(string(field))
		}
		return airquality.Raw(s)
	}

	return airquality.Number(string(field))
}

func recordFailure(err error) {
	resilience.GlobalRegistry.RecordFailure(ProviderName, err)
}

// Ensure Client implements the lookup interfaces.
var (
	_ airquality.Lookup      = (*Client)(nil)
	_ airquality.PointLookup = (*Client)(nil)
)

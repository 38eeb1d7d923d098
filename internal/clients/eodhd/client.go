// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		num, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			// "", "N/A" and friends
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	if string(data) == "null" {
		*f = 0
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// flexInt64 is the integer counterpart of flexFloat64.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var v flexFloat64
	if err := v.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("cannot unmarshal %s into int64", string(data))
	}
	*f = flexInt64(v)
	return nil
}

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements the EODHDClient interface
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request. Transport failures are marked
// with common.ErrCollaboratorUnavailable.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to execute request: %w", common.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

type realTimeResponse struct {
	Code          string      `json:"code"`
	Timestamp     flexInt64   `json:"timestamp"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	PreviousClose flexFloat64 `json:"previousClose"`
	Change        flexFloat64 `json:"change"`
	ChangePct     flexFloat64 `json:"change_p"`
	Volume        flexInt64   `json:"volume"`
}

// GetRealTimeQuote retrieves the latest quote for a ticker
func (c *Client) GetRealTimeQuote(ctx context.Context, ticker string) (*models.RealTimeQuote, error) {
	path := fmt.Sprintf("/real-time/%s", url.PathEscape(ticker))

	var resp realTimeResponse
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	return &models.RealTimeQuote{
		Code:          resp.Code,
		Open:          float64(resp.Open),
		High:          float64(resp.High),
		Low:           float64(resp.Low),
		Close:         float64(resp.Close),
		PreviousClose: float64(resp.PreviousClose),
		Change:        float64(resp.Change),
		ChangePct:     float64(resp.ChangePct),
		Volume:        int64(resp.Volume),
		Timestamp:     time.Unix(int64(resp.Timestamp), 0),
	}, nil
}

// fundamentalsResponse is the slice of the fundamentals payload the
// assistant labels holdings with
type fundamentalsResponse struct {
	General struct {
		Code         string `json:"Code"`
		Name         string `json:"Name"`
		Type         string `json:"Type"`
		Sector       string `json:"Sector"`
		Industry     string `json:"Industry"`
		CurrencyCode string `json:"CurrencyCode"`
	} `json:"General"`
}

// GetFundamentals retrieves company name, sector and currency
func (c *Client) GetFundamentals(ctx context.Context, ticker string) (*models.Fundamentals, error) {
	path := fmt.Sprintf("/fundamentals/%s", url.PathEscape(ticker))

	params := url.Values{}
	params.Set("filter", "General")

	var resp fundamentalsResponse
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	return &models.Fundamentals{
		Ticker:      ticker,
		Name:        resp.General.Name,
		Sector:      resp.General.Sector,
		Industry:    resp.General.Industry,
		Currency:    resp.General.CurrencyCode,
		LastUpdated: time.Now(),
	}, nil
}

type newsResponse struct {
	Date    string `json:"date"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Link    string `json:"link"`
	Source  string `json:"source"`
}

// GetNews retrieves up to limit news articles for a ticker
func (c *Client) GetNews(ctx context.Context, ticker string, limit int) ([]*models.Article, error) {
	params := url.Values{}
	params.Set("s", ticker)
	params.Set("limit", strconv.Itoa(limit))

	var newsResp []newsResponse
	if err := c.get(ctx, "/news", params, &newsResp); err != nil {
		return nil, err
	}

	news := make([]*models.Article, len(newsResp))
	for i, item := range newsResp {
		publishedAt, _ := time.Parse("2006-01-02T15:04:05+00:00", item.Date)
		news[i] = &models.Article{
			Title:       item.Title,
			Content:     item.Content,
			URL:         item.Link,
			Source:      item.Source,
			PublishedAt: publishedAt,
		}
	}

	return news, nil
}

// Ensure Client implements EODHDClient
var _ interfaces.EODHDClient = (*Client)(nil)

// Package search queries the Google Custom Search JSON API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/customsearch/v1"
	defaultTimeout  = 10 * time.Second
	defaultLanguage = "fr"
	maxRetries      = 3
	initialBackoff  = 500 * time.Millisecond
	maxResultsLimit = 10
)

// Config holds Custom Search credentials and request options.
type Config struct {
	APIKey   string
	EngineID string // the "cx" parameter
	BaseURL  string
	Language string // two-letter code used for lr=lang_<code> and hl=<code>
	Timeout  time.Duration
}

// Client talks to the Custom Search JSON API.
type Client struct {
	apiKey     string
	engineID   string
	baseURL    string
	language   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a Custom Search client. Unset options get defaults.
func NewClient(cfg Config) *Client {
	c := &Client{
		apiKey:   cfg.APIKey,
		engineID: cfg.EngineID,
		baseURL:  defaultBaseURL,
		language: defaultLanguage,
		timeout:  defaultTimeout,
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Language != "" {
		c.language = cfg.Language
	}
	if cfg.Timeout > 0 {
		c.timeout = cfg.Timeout
	}
	c.httpClient = &http.Client{Timeout: c.timeout}
	return c
}

// IsConfigured reports whether both the API key and the engine id are set.
func (c *Client) IsConfigured() bool {
	return c != nil && c.apiKey != "" && c.engineID != ""
}

// Query runs a search and returns at most maxResults items. A response
// without an "items" field yields an empty slice and no error. HTTP 429 is
// retried with exponential backoff.
func (c *Client) Query(ctx context.Context, text string, maxResults int) ([]Item, error) {
	if maxResults <= 0 || maxResults > maxResultsLimit {
		maxResults = maxResultsLimit
	}

	var lastErr error
	for attempt := range maxRetries {
		items, err := c.doQuery(ctx, text, maxResults)
		if err == nil {
			return items, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *Client) doQuery(ctx context.Context, text string, maxResults int) ([]Item, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{
		"key": {c.apiKey},
		"cx":  {c.engineID},
		"q":   {text},
		"num": {strconv.Itoa(maxResults)},
		"lr":  {"lang_" + c.language},
		"hl":  {c.language},
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(out.Items) > maxResults {
		out.Items = out.Items[:maxResults]
	}
	if out.Items == nil {
		return []Item{}, nil
	}
	return out.Items, nil
}

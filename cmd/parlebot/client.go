package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kalambet/parlebot/internal/config"
	"github.com/kalambet/parlebot/internal/storage"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Admin.Token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is parlebot running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

type chatResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type chatResponse struct {
	Reply   string       `json:"reply,omitempty"`
	Results []chatResult `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// sendChat posts one message. Bot-level failures come back as a response
// with Error set rather than as a Go error.
func sendChat(ctx context.Context, c *apiClient, message string) (chatResponse, error) {
	resp, err := c.post(ctx, "/chat", map[string]string{"message": message})
	if err != nil {
		return chatResponse{}, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatResponse{}, fmt.Errorf("server returned %d with an unreadable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 && out.Error == "" {
		return chatResponse{}, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return out, nil
}

func fetchFacts(ctx context.Context, c *apiClient, limit, offset int) ([]storage.Fact, int, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/facts/list?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return nil, 0, err
	}
	total, _ := strconv.Atoi(resp.Header.Get("X-Total-Count"))

	var facts []storage.Fact
	if err := decodeJSON(resp, &facts); err != nil {
		return nil, 0, err
	}
	return facts, total, nil
}

func fetchFactCount(ctx context.Context, c *apiClient) (int, error) {
	_, total, err := fetchFacts(ctx, c, 1, 0)
	return total, err
}

// Package search provides the external web search collaborator
// (Metaphor-compatible JSON API).
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is one external search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type Config struct {
	BaseURL    string
	APIKey     string
	NumResults int
}

// Client queries the external search API. Recency constraints are passed as
// published-date bounds.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.NumResults <= 0 {
		cfg.NumResults = 4
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Search runs a query with an optional published-date window. Zero from/to
// values mean no bound.
func (c *Client) Search(ctx context.Context, query string, from, to time.Time, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	if limit <= 0 || limit > c.cfg.NumResults {
		limit = c.cfg.NumResults
	}

	reqBody := map[string]interface{}{
		"query":      query,
		"numResults": limit,
		"contents":   map[string]interface{}{"text": true},
	}
	if !from.IsZero() {
		reqBody["startPublishedDate"] = from.UTC().Format("2006-01-02")
	}
	if !to.IsZero() {
		reqBody["endPublishedDate"] = to.UTC().Format("2006-01-02")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			Text  string `json:"text"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse search json failed: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		snippet := strings.TrimSpace(r.Text)
		if runes := []rune(snippet); len(runes) > 1000 {
			snippet = string(runes[:1000])
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.URL,
			Snippet: snippet,
		})
	}
	return results, nil
}

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

// Client talks to a Tavily-compatible web search API.
type Client struct {
	endpoint   string
	apiKey     string
	maxResults int
	http       *retryablehttp.Client
}

var _ ports.Searcher = (*Client)(nil)

// NewClient creates a reusable client that retries transient failures.
func NewClient(cfg config.SearchConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = cfg.Timeout
	if rc.HTTPClient.Timeout <= 0 {
		rc.HTTPClient.Timeout = 20 * time.Second
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		http:       rc,
	}
}

type searchRequest struct {
	APIKey            string `json:"api_key,omitempty"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeRawContent bool   `json:"include_raw_content"`
	Topic             string `json:"topic,omitempty"`
}

type searchResponse struct {
	Results []struct {
		URL        string  `json:"url"`
		Title      string  `json:"title"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Search runs one query. Result scores are passed through unchanged as base scores.
func (c *Client) Search(ctx context.Context, sr ports.SearchRequest) ([]domain.Document, error) {
	payload := searchRequest{
		APIKey:            c.apiKey,
		Query:             sr.Query,
		MaxResults:        c.maxResults,
		SearchDepth:       "advanced",
		IncludeRawContent: true,
		Topic:             sr.Topic,
	}

	var resp searchResponse
	if err := c.post(ctx, "/search", payload, &resp); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(resp.Results))
	for _, r := range resp.Results {
		content := r.RawContent
		if strings.TrimSpace(content) == "" {
			content = r.Content
		}
		docs = append(docs, domain.Document{
			URL:        r.URL,
			Title:      r.Title,
			Content:    content,
			SourceKind: domain.SourceWebSearch,
			BaseScore:  r.Score,
			Category:   sr.Category,
		})
	}
	return docs, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package recordsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/curation"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

const (
	maxReportField     = 10000
	statusField        = "Research Status"
	completedStatus    = "Completed"
	defaultMaxElapsed  = 30 * time.Second
	defaultHTTPTimeout = 15 * time.Second
)

// Client mirrors reports into an Airtable-style record API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxElapsed time.Duration
}

var _ ports.RecordSync = (*Client)(nil)

// NewClient builds a client for {endpoint}/{table}.
func NewClient(cfg config.RecordSyncConfig) *Client {
	base := strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Table != "" {
		base += "/" + url.PathEscape(cfg.Table)
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxElapsed: defaultMaxElapsed,
	}
}

type recordPayload struct {
	Fields map[string]any `json:"fields"`
}

type recordResponse struct {
	ID string `json:"id"`
}

// UpsertReport updates record.RecordID when set, otherwise creates a record, and returns its id.
func (c *Client) UpsertReport(ctx context.Context, record domain.SyncRecord) (string, error) {
	fields := map[string]any{
		"Organization":        record.Company,
		"Markdown Report":     clip(record.Report, maxReportField),
		"References":          clip(curation.FormatReferences(record.References), maxReportField),
		"Industries":          nonNil(record.Classification.Industries),
		"Country/Region":      nonNil(optional(record.Classification.Region)),
		"Revenue Band (est.)": record.Classification.RevenueBand,
		"Job ID":              record.JobID,
		statusField:           completedStatus,
	}

	method, target := http.MethodPost, c.baseURL
	if record.RecordID != "" {
		method, target = http.MethodPatch, c.baseURL+"/"+url.PathEscape(record.RecordID)
	}

	var resp recordResponse
	if err := c.do(ctx, method, target, recordPayload{Fields: fields}, &resp); err != nil {
		return "", fmt.Errorf("upsert record: %w", err)
	}
	if resp.ID == "" {
		resp.ID = record.RecordID
	}
	return resp.ID, nil
}

// UpdateStatus sets the research status text of an existing record.
func (c *Client) UpdateStatus(ctx context.Context, recordID, status string) error {
	if recordID == "" {
		return fmt.Errorf("update status: empty record id")
	}
	payload := recordPayload{Fields: map[string]any{statusField: status}}
	if err := c.do(ctx, http.MethodPatch, c.baseURL+"/"+url.PathEscape(recordID), payload, nil); err != nil {
		return fmt.Errorf("update status of %s: %w", recordID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, payload, v any) error {
	if c.baseURL == "" {
		return fmt.Errorf("record sync endpoint is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("new request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("record store returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return err
			}
			return backoff.Permanent(err)
		}

		if v == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func optional(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

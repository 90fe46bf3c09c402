// Package stream delivers run events from the engine to the platform as
// NDJSON batches, without blocking the evaluation scheduler.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/run"
)

// Client is the HTTP client for the platform's engine-facing endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a platform client. baseURL is the server root, e.g.
// "https://evalforge.internal"; apiKey is the engine bearer credential.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateRun registers a new run and returns its server-assigned id and live URL.
func (c *Client) CreateRun(ctx context.Context, req run.CreateRequest) (*run.CreateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal create run: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create run: %s", readErrorBody(resp))
	}

	var out run.CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode create run response: %w", err)
	}
	return &out, nil
}

// BatchResult reports how the server applied an event batch.
type BatchResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// PostEvents sends one NDJSON batch for a run.
func (c *Client) PostEvents(ctx context.Context, runID string, events []event.Event) (*BatchResult, error) {
	var buf bytes.Buffer
	if err := event.EncodeBatch(&buf, events); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/runs/%s/events", c.baseURL, runID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-ndjson")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post events: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post events: %s", readErrorBody(resp))
	}

	var out BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode batch result: %w", err)
	}
	return &out, nil
}

func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// Package n8n renders charts through an n8n workflow webhook.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/chart"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/resilience"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("n8n webhook not configured")

// Client posts chart requests to the webhook and returns the image URL the
// workflow produced.
type Client struct {
	webhookURL string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a webhook client. A nil breaker disables circuit breaking.
func NewClient(webhookURL string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

type renderResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"image_url"`
	Error    string `json:"error"`
}

// Render implements the chart renderer used by the chart tools.
func (c *Client) Render(ctx context.Context, req chart.Request) (string, error) {
	if c.webhookURL == "" {
		return "", ErrNotConfigured
	}
	var imageURL string
	call := func() error {
		var err error
		imageURL, err = c.post(ctx, req)
		return err
	}
	if c.breaker == nil {
		return imageURL, call()
	}
	return imageURL, c.breaker.Execute(call)
}

func (c *Client) post(ctx context.Context, req chart.Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("n8n marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("n8n request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return "", fmt.Errorf("n8n send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("n8n read: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("n8n webhook %d: %s", resp.StatusCode, string(respBody))
	}

	var out renderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", resilience.Permanent(fmt.Errorf("n8n decode: %w", err))
	}
	if !out.Success || out.ImageURL == "" {
		msg := out.Error
		if msg == "" {
			msg = "no image url returned"
		}
		return "", resilience.Permanent(fmt.Errorf("n8n workflow failed: %s", msg))
	}
	return out.ImageURL, nil
}

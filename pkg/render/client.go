// Package render converts audit text into the deliverable PDF report via the
// rendering service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Report is the input for one rendered document.
type Report struct {
	Title    string `json:"title"`
	TenderID string `json:"tender_id"`
	// Analysis is the audit body, markdown.
	Analysis    string `json:"analysis"`
	GeneratedAt string `json:"generated_at,omitempty"`
}

// Client defines the rendering operations.
type Client interface {
	// RenderPDF produces the report document bytes.
	RenderPDF(ctx context.Context, report Report) ([]byte, error)
}

// Option configures the render client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a render client for the given service URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) RenderPDF(ctx context.Context, report Report) ([]byte, error) {
	if report.Analysis == "" {
		return nil, eris.New("render: empty analysis")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, eris.Wrap(err, "render: marshal report")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "render: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "render: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "render: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("render: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return nil, eris.New("render: empty document")
	}
	return body, nil
}

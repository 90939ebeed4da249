// Package mailer sends transactional email through the delivery provider's
// HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Attachment is one file attached to a message.
type Attachment struct {
	Name    string
	Content []byte
}

// Message is a single outbound email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Client defines the delivery operations.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Option configures the mailer client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	from    string
	baseURL string
	http    *http.Client
}

// NewClient creates a mailer client. from is the sender address stamped on
// every message.
func NewClient(apiKey, from string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		from:    from,
		baseURL: "https://api.mailer.example/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wireAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
}

type wireMessage struct {
	From        string           `json:"from"`
	To          string           `json:"to"`
	Subject     string           `json:"subject"`
	HTML        string           `json:"html"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

func (c *httpClient) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return eris.New("mailer: empty recipient")
	}

	wire := wireMessage{
		From:    c.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}
	for _, a := range msg.Attachments {
		wire.Attachments = append(wire.Attachments, wireAttachment{
			Name:    a.Name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return eris.Wrap(err, "mailer: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "mailer: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "mailer: request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return eris.Errorf("mailer: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Package registry looks up company contact details by tax id in the state
// company registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNotFound marks a tax id with no registry record. Callers treat it as a
// permanent miss, not a transient failure.
var ErrNotFound = eris.New("registry: company not found")

// Contact is the enrichment result for one company.
type Contact struct {
	CompanyName string
	Email       string
	Phone       string
	Address     string
}

// Client defines the registry lookup operations.
type Client interface {
	Lookup(ctx context.Context, taxID string) (*Contact, error)
}

// Option configures the registry client.
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

// WithRateLimit caps outgoing lookups per second. The registry bans keys
// that exceed their quota, so the limiter sits inside the client.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a registry client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://suggestions.dadata.ru/suggestions/api/4_1/rs",
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	Suggestions []struct {
		Value string `json:"value"`
		Data  struct {
			Emails []struct {
				Value string `json:"value"`
			} `json:"emails"`
			Phones []struct {
				Value string `json:"value"`
			} `json:"phones"`
			Address struct {
				Value string `json:"value"`
			} `json:"address"`
		} `json:"data"`
	} `json:"suggestions"`
}

func (c *httpClient) Lookup(ctx context.Context, taxID string) (*Contact, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "registry: rate limit wait")
		}
	}

	payload, err := json.Marshal(map[string]string{"query": taxID})
	if err != nil {
		return nil, eris.Wrap(err, "registry: marshal query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/findById/party", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "registry: create request")
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: lookup %s", taxID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("registry: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal response")
	}
	if len(parsed.Suggestions) == 0 {
		return nil, ErrNotFound
	}

	s := parsed.Suggestions[0]
	contact := &Contact{
		CompanyName: s.Value,
		Address:     s.Data.Address.Value,
	}
	if len(s.Data.Emails) > 0 {
		contact.Email = s.Data.Emails[0].Value
	}
	if len(s.Data.Phones) > 0 {
		contact.Phone = s.Data.Phones[0].Value
	}
	return contact, nil
}

// Package feed provides a client for the public procurement feed: the tender
// announcement list, per-tender document metadata, and award records.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Client defines the procurement feed operations.
type Client interface {
	// FetchEntries returns the current page of tender announcements.
	FetchEntries(ctx context.Context) ([]Entry, error)
	// FetchDocuments returns document metadata for one tender.
	FetchDocuments(ctx context.Context, externalID string) ([]Document, error)
	// FetchAward returns the award record (all bidders) for a closed tender.
	// A tender without a published award yields an empty slice.
	FetchAward(ctx context.Context, externalID string) ([]AwardParticipant, error)
}

// Entry is one tender announcement from the feed.
type Entry struct {
	ExternalID  string
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
	Customer    string
	URL         string
	PublishedAt time.Time
}

// Document is the metadata of one attachment; contents are never downloaded.
type Document struct {
	Name string
	URL  string
	Size int64
}

// AwardParticipant is one bidder from an award record.
type AwardParticipant struct {
	TaxID       string
	CompanyName string
	BidAmount   *decimal.Decimal
	Winner      bool
}

// Option configures the feed client.
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

// WithProxy routes feed requests through an HTTP proxy. The feed throttles
// by source address, so production deployments rotate through a proxy.
func WithProxy(proxyURL string) Option {
	return func(c *httpClient) {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return
		}
		c.http.Transport = &http.Transport{
			Proxy:               http.ProxyURL(u),
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a feed client for the given base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire shapes. The feed is RSS-flavored XML with a flat tender element.

type feedXML struct {
	XMLName xml.Name    `xml:"feed"`
	Tenders []tenderXML `xml:"tender"`
}

type tenderXML struct {
	ID          string `xml:"id"`
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Price       string `xml:"price"`
	Category    string `xml:"category"`
	Customer    string `xml:"customer"`
	URL         string `xml:"url"`
	Published   string `xml:"published"`
}

type documentsXML struct {
	XMLName   xml.Name      `xml:"documents"`
	Documents []documentXML `xml:"document"`
}

type documentXML struct {
	Name string `xml:"name,attr"`
	URL  string `xml:"url,attr"`
	Size int64  `xml:"size,attr"`
}

type awardXML struct {
	XMLName      xml.Name         `xml:"award"`
	Participants []participantXML `xml:"participant"`
}

type participantXML struct {
	TaxID  string `xml:"tax_id,attr"`
	Name   string `xml:"name,attr"`
	Bid    string `xml:"bid,attr"`
	Winner bool   `xml:"winner,attr"`
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP GET with exponential backoff retries on transient
// failures. Returns the response body and status code on success.
func (c *httpClient) retryDo(ctx context.Context, reqURL string) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, 0, eris.Wrap(err, "feed: create request")
		}
		req.Header.Set("Accept", "application/xml")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "feed: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("feed: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) FetchEntries(ctx context.Context) ([]Entry, error) {
	body, statusCode, err := c.retryDo(ctx, c.baseURL+"/tenders")
	if err != nil {
		return nil, eris.Wrap(err, "feed: fetch entries")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("feed: unexpected status %d: %s", statusCode, string(body))
	}

	var parsed feedXML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "feed: unmarshal entries")
	}

	entries := make([]Entry, 0, len(parsed.Tenders))
	for _, t := range parsed.Tenders {
		if t.ID == "" {
			continue
		}
		price, err := ParsePrice(t.Price)
		if err != nil {
			// A malformed price makes the announcement unusable; skip it
			// rather than fail the whole page.
			continue
		}
		e := Entry{
			ExternalID:  t.ID,
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			Price:       price,
			Category:    strings.TrimSpace(t.Category),
			Customer:    strings.TrimSpace(t.Customer),
			URL:         t.URL,
		}
		if t.Published != "" {
			if ts, err := time.Parse(time.RFC3339, t.Published); err == nil {
				e.PublishedAt = ts
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *httpClient) FetchDocuments(ctx context.Context, externalID string) ([]Document, error) {
	reqURL := fmt.Sprintf("%s/tenders/%s/documents", c.baseURL, url.PathEscape(externalID))
	body, statusCode, err := c.retryDo(ctx, reqURL)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: fetch documents %s", externalID)
	}
	if statusCode == http.StatusNotFound {
		return nil, nil
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("feed: documents unexpected status %d: %s", statusCode, string(body))
	}

	var parsed documentsXML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "feed: unmarshal documents")
	}

	docs := make([]Document, 0, len(parsed.Documents))
	for _, d := range parsed.Documents {
		docs = append(docs, Document{Name: d.Name, URL: d.URL, Size: d.Size})
	}
	return docs, nil
}

func (c *httpClient) FetchAward(ctx context.Context, externalID string) ([]AwardParticipant, error) {
	reqURL := fmt.Sprintf("%s/tenders/%s/award", c.baseURL, url.PathEscape(externalID))
	body, statusCode, err := c.retryDo(ctx, reqURL)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: fetch award %s", externalID)
	}
	// No award published yet.
	if statusCode == http.StatusNotFound {
		return nil, nil
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("feed: award unexpected status %d: %s", statusCode, string(body))
	}

	var parsed awardXML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "feed: unmarshal award")
	}

	participants := make([]AwardParticipant, 0, len(parsed.Participants))
	for _, p := range parsed.Participants {
		if p.TaxID == "" {
			continue
		}
		ap := AwardParticipant{
			TaxID:       p.TaxID,
			CompanyName: strings.TrimSpace(p.Name),
			Winner:      p.Winner,
		}
		if p.Bid != "" {
			if bid, err := ParsePrice(p.Bid); err == nil {
				ap.BidAmount = &bid
			}
		}
		participants = append(participants, ap)
	}
	return participants, nil
}

// ParsePrice parses a feed price. The feed emits both machine formats
// ("2500000.00") and localized ones ("2 500 000,00").
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return decimal.Zero, eris.New("feed: empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "feed: parse price %q", s)
	}
	return d, nil
}

package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ClientOrigin records how a client entered the system.
type ClientOrigin string

const (
	OriginManual  ClientOrigin = "manual"
	OriginLeadgen ClientOrigin = "leadgen"
)

// Client is a subscriber who receives teaser notifications for
// tenders matching their keyword and price criteria.
type Client struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	Name     string       `json:"name,omitempty"`
	Company  string       `json:"company,omitempty"`
	Phone    string       `json:"phone,omitempty"`
	Active   bool         `json:"active"`
	Keywords []string     `json:"keywords"`
	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
	Origin   ClientOrigin `json:"origin"`

	// LeadTaxID links a leadgen client back to the participant it was
	// created from. At most one leadgen client exists per tax id.
	LeadTaxID    string `json:"lead_tax_id,omitempty"`
	LeadTenderID string `json:"lead_tender_id,omitempty"`
	Notes        string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether a tender fits this client's subscription:
// at least one keyword appears in the title or category (case-insensitive)
// and the price falls within the client's bounds. Open-ended bounds match
// anything on that side.
func (c *Client) Matches(title, category string, price decimal.Decimal) bool {
	if !c.Active {
		return false
	}

	haystack := strings.ToLower(title + " " + category)
	matched := false
	for _, kw := range c.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(haystack, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	if c.MinPrice != nil && price.LessThan(*c.MinPrice) {
		return false
	}
	if c.MaxPrice != nil && price.GreaterThan(*c.MaxPrice) {
		return false
	}
	return true
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is a company that bid on a tender, extracted from the award
// record of a closed tender. Rows are immutable once recorded except for
// the enrichment bookkeeping flags.
type Participant struct {
	ID          string           `json:"id"`
	TenderID    string           `json:"tender_id"`
	TaxID       string           `json:"tax_id"`
	CompanyName string           `json:"company_name"`
	BidAmount   *decimal.Decimal `json:"bid_amount,omitempty"`
	IsWinner    bool             `json:"is_winner"`

	// Contact enrichment from the registry lookup.
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`

	ContactsFetched bool `json:"contacts_fetched"`
	ClientCreated   bool `json:"client_created"`

	CreatedAt time.Time `json:"created_at"`
}

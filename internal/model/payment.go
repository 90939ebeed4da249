package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus mirrors the gateway's view of a payment. The local row is
// bookkeeping only; the gateway owns the ledger.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusCanceled  PaymentStatus = "canceled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// paymentTransitions is the closed set of allowed payment status edges.
// A succeeded payment can still be voided or refunded by the gateway;
// a canceled payment never comes back.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusSucceeded, PaymentStatusCanceled},
	PaymentStatusSucceeded: {PaymentStatusCanceled, PaymentStatusRefunded},
}

// CanTransition reports whether a payment may move from one status to another.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment tracks a pay-per-report purchase keyed by the gateway's id.
type Payment struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	TenderID   string          `json:"tender_id"`
	ClientID   string          `json:"client_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     PaymentStatus   `json:"status"`
	ReportSent bool            `json:"report_sent"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

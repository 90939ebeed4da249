package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TenderStatus represents a tender's position in the processing pipeline.
type TenderStatus string

const (
	TenderStatusPending  TenderStatus = "pending"
	TenderStatusAnalyzed TenderStatus = "analyzed"
	TenderStatusRejected TenderStatus = "rejected"
	TenderStatusNotified TenderStatus = "notified"
	TenderStatusSold     TenderStatus = "sold"
	TenderStatusArchived TenderStatus = "archived"
)

// tenderTransitions is the closed set of allowed status edges. Everything
// not listed here is rejected at the call site; stages advance tenders only
// through conditional updates that name both endpoints.
var tenderTransitions = map[TenderStatus][]TenderStatus{
	TenderStatusPending:  {TenderStatusAnalyzed, TenderStatusRejected},
	TenderStatusAnalyzed: {TenderStatusNotified},
	TenderStatusNotified: {TenderStatusSold},
	TenderStatusSold:     {TenderStatusArchived},
}

// CanTransition reports whether a tender may move from one status to another.
func (s TenderStatus) CanTransition(to TenderStatus) bool {
	for _, next := range tenderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further pipeline stage acts on this status.
func (s TenderStatus) Terminal() bool {
	return s == TenderStatusRejected || s == TenderStatusSold || s == TenderStatusArchived
}

// Tender is a procurement announcement tracked through the pipeline.
type Tender struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Title      string          `json:"title"`
	URL        string          `json:"url"`
	Price      decimal.Decimal `json:"price"`
	Category   string          `json:"category,omitempty"`
	Customer   string          `json:"customer,omitempty"`
	Status     TenderStatus    `json:"status"`

	// Documents holds fetched document metadata; cleared after sale
	// or by retention cleanup.
	Documents []DocumentMeta `json:"documents,omitempty"`

	// Teaser analysis results.
	RiskScore      *float64 `json:"risk_score,omitempty"`
	MarginEstimate *float64 `json:"margin_estimate,omitempty"`
	Summary        string   `json:"summary,omitempty"`

	// Deep audit text; present only between payment and artifact purge.
	DeepAnalysis string `json:"deep_analysis,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	AnalyzedAt  *time.Time `json:"analyzed_at,omitempty"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	SoldAt      *time.Time `json:"sold_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DocumentMeta describes one supplementary document attached to a tender.
type DocumentMeta struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

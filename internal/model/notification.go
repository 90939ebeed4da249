package model

import "time"

// NotificationRecord marks that a teaser was sent for a (tender, client)
// pair. The unique constraint on the pair is the idempotency guard: at most
// one record ever exists, even under concurrent or retried matcher runs.
type NotificationRecord struct {
	ID       string    `json:"id"`
	TenderID string    `json:"tender_id"`
	ClientID string    `json:"client_id"`
	SentAt   time.Time `json:"sent_at"`
}

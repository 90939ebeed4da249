package model

import "time"

// AuditState is the lifecycle of a deep-audit delivery task.
type AuditState string

const (
	AuditStatePending AuditState = "pending"
	AuditStateDone    AuditState = "done"
	// AuditStateManual marks a task that exhausted its retry budget and
	// needs operator follow-up.
	AuditStateManual AuditState = "manual"
)

// AuditTask is the durable trigger for the deep-audit pipeline, created
// exactly once per successful payment (keyed by the gateway's payment id).
// Retries operate on this row, never by replaying the webhook.
type AuditTask struct {
	ID          string     `json:"id"`
	PaymentID   string     `json:"payment_id"` // gateway external id, unique
	TenderID    string     `json:"tender_id"`
	ClientID    string     `json:"client_id"`
	State       AuditState `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	NextAttempt time.Time  `json:"next_attempt_at"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

package store

import (
	"context"
	"time"

	"github.com/govsniper/govsniper/internal/model"
)

// TenderFilter specifies criteria for listing tenders.
type TenderFilter struct {
	Status model.TenderStatus
	Limit  int
}

// Store defines the persistence interface for the tender pipeline. It is the
// single source of truth: stages coordinate only through entity status fields
// and the unique constraints declared in the schema, so the same store may be
// shared by multiple process instances.
type Store interface {
	// Tenders
	InsertTender(ctx context.Context, t *model.Tender) (bool, error)
	GetTender(ctx context.Context, id string) (*model.Tender, error)
	GetTenderByExternalID(ctx context.Context, externalID string) (*model.Tender, error)
	ListTenders(ctx context.Context, filter TenderFilter) ([]model.Tender, error)
	ListTendersMissingDocuments(ctx context.Context, limit int) ([]model.Tender, error)
	SetTenderDocuments(ctx context.Context, id string, docs []model.DocumentMeta) error
	// SetTenderAnalysis records scoring results and moves the tender out of
	// pending in one conditional update. Returns false when another instance
	// already claimed the tender.
	SetTenderAnalysis(ctx context.Context, id string, risk, margin float64, summary string, to model.TenderStatus) (bool, error)
	// TransitionTender performs a compare-and-set status change and stamps
	// the matching transition timestamp. Returns false when the tender is no
	// longer in the expected status.
	TransitionTender(ctx context.Context, id string, from, to model.TenderStatus) (bool, error)
	SetDeepAnalysis(ctx context.Context, id string, text string) error
	// PurgeTenderArtifacts clears transient per-tender data (documents,
	// deep analysis blob) after report delivery.
	PurgeTenderArtifacts(ctx context.Context, id string) error
	ListTerminalTendersInWindow(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]model.Tender, error)
	// MarkLeadsExtracted stamps a tender whose award has been fully
	// recorded; stamped tenders drop out of the leadgen window. A
	// half-finished extraction stays unstamped and is picked up again.
	MarkLeadsExtracted(ctx context.Context, tenderID string) error
	// DeleteExpiredTenders removes terminal-state tenders older than cutoff;
	// notifications cascade, payments and participants survive.
	DeleteExpiredTenders(ctx context.Context, cutoff time.Time) (int, error)

	// Clients
	CreateClient(ctx context.Context, c *model.Client) (bool, error)
	GetClient(ctx context.Context, id string) (*model.Client, error)
	ListActiveClients(ctx context.Context) ([]model.Client, error)

	// Notifications. The insert is the idempotency guard: it reports false
	// on a duplicate (tender, client) pair instead of erroring.
	InsertNotification(ctx context.Context, tenderID, clientID string) (bool, error)
	// DeleteNotification releases a claimed pair when the send itself
	// failed, so a later run may retry it.
	DeleteNotification(ctx context.Context, tenderID, clientID string) error
	CountNotifications(ctx context.Context, tenderID string) (int, error)

	// Payments
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error)
	// TransitionPayment performs a compare-and-set on payment status keyed
	// by the gateway id. Returns false when the payment was not in the
	// expected prior status (duplicate or out-of-order webhook delivery).
	TransitionPayment(ctx context.Context, externalID string, from, to model.PaymentStatus) (bool, error)
	MarkReportSent(ctx context.Context, externalID string) error

	// Deep-audit tasks (durable triggers keyed by payment external id).
	EnqueueAuditTask(ctx context.Context, task model.AuditTask) (bool, error)
	DueAuditTasks(ctx context.Context, now time.Time, limit int) ([]model.AuditTask, error)
	CompleteAuditTask(ctx context.Context, id string) error
	RescheduleAuditTask(ctx context.Context, id string, next time.Time, lastErr string, manual bool) error

	// Participants
	InsertParticipant(ctx context.Context, p *model.Participant) (bool, error)
	HasParticipants(ctx context.Context, tenderID string) (bool, error)
	ListParticipantsNeedingContacts(ctx context.Context, limit int) ([]model.Participant, error)
	SetParticipantContacts(ctx context.Context, id, email, phone, address string) error
	ListParticipantsForClientCreation(ctx context.Context, limit int) ([]model.Participant, error)
	MarkClientCreated(ctx context.Context, id string) error

	// Contact-lookup failure cache (cool-down between registry retries).
	RecordLookupFailure(ctx context.Context, taxID string, ttl time.Duration) error
	LookupRecentlyFailed(ctx context.Context, taxID string) (bool, error)

	// Job runs. StartJobRun acquires the per-job run lease by inserting an
	// open row; it returns nil when another instance holds the lease. Open
	// rows older than leaseTTL are closed as failed before acquiring.
	StartJobRun(ctx context.Context, jobID string, leaseTTL time.Duration) (*model.JobRun, error)
	FinishJobRun(ctx context.Context, runID string, status model.RunStatus, processed int, errMsg string) error
	ListJobRuns(ctx context.Context, jobID string, limit int) ([]model.JobRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

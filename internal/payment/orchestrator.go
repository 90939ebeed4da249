// Package payment owns the pay-per-report flow: checkout creation against
// the gateway and the webhook state machine that reacts to gateway events.
package payment

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/config"
	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/internal/store"
)

// Gateway abstracts the payment provider. The local Payment row is
// bookkeeping only; the gateway owns the ledger.
type Gateway interface {
	// CreatePayment registers a pending payment and returns the gateway's
	// id plus the confirmation URL the client is sent to.
	CreatePayment(ctx context.Context, amount string, currency, description string, metadata map[string]string) (externalID, confirmationURL string, err error)
}

// Event is one gateway webhook notification.
type Event struct {
	Type   string      `json:"event"`
	Object EventObject `json:"object"`
}

// EventObject is the payment object carried by an event.
type EventObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Orchestrator applies gateway events to local payment state and triggers
// the deep-audit flow on the first success.
type Orchestrator struct {
	store            store.Store
	gateway          Gateway
	cfg              config.PaymentConfig
	auditMaxAttempts int
	log              *zap.Logger
}

// NewOrchestrator wires the payment flow. auditMaxAttempts bounds deep-audit
// delivery retries for tasks this orchestrator enqueues.
func NewOrchestrator(st store.Store, gw Gateway, cfg config.PaymentConfig, auditMaxAttempts int) *Orchestrator {
	return &Orchestrator{
		store:            st,
		gateway:          gw,
		cfg:              cfg,
		auditMaxAttempts: auditMaxAttempts,
		log:              zap.L().With(zap.String("component", "payment")),
	}
}

// Checkout is the result of CreateCheckout.
type Checkout struct {
	Payment         *model.Payment
	ConfirmationURL string
}

// CreateCheckout registers a tier-priced pending payment for (tender, client)
// with the gateway and mirrors it locally.
func (o *Orchestrator) CreateCheckout(ctx context.Context, tenderID, clientID string) (*Checkout, error) {
	tender, err := o.store.GetTender(ctx, tenderID)
	if err != nil {
		return nil, eris.Wrap(err, "payment: load tender")
	}
	if tender == nil {
		return nil, eris.Errorf("payment: tender not found: %s", tenderID)
	}
	if tender.Status.Terminal() {
		return nil, eris.Errorf("payment: tender %s is %s, nothing to sell", tenderID, tender.Status)
	}
	if tender.Status == model.TenderStatusPending {
		return nil, eris.Errorf("payment: tender %s is not analyzed yet", tenderID)
	}

	price := PriceFor(tender.Price, o.cfg)
	externalID, confirmationURL, err := o.gateway.CreatePayment(ctx,
		price.StringFixed(2), o.cfg.Currency,
		"Аудит тендера "+tender.ExternalID,
		map[string]string{"tender_id": tenderID, "client_id": clientID},
	)
	if err != nil {
		return nil, eris.Wrap(err, "payment: gateway create")
	}

	p := &model.Payment{
		ExternalID: externalID,
		TenderID:   tenderID,
		ClientID:   clientID,
		Amount:     price,
		Currency:   o.cfg.Currency,
		Status:     model.PaymentStatusPending,
	}
	if err := o.store.CreatePayment(ctx, p); err != nil {
		return nil, eris.Wrap(err, "payment: persist")
	}

	o.log.Info("checkout created",
		zap.String("payment", externalID),
		zap.String("tender", tenderID),
		zap.String("client", clientID),
		zap.String("amount", price.String()),
	)
	return &Checkout{Payment: p, ConfirmationURL: confirmationURL}, nil
}

// HandleEvent applies one webhook event. It is safe under redelivery and
// out-of-order arrival: every state change is a compare-and-set, and the
// success side effect is an idempotent enqueue. A non-nil error means the
// event was not durably applied and the gateway should redeliver.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) error {
	log := o.log.With(zap.String("event", ev.Type), zap.String("payment", ev.Object.ID))

	p, err := o.store.GetPaymentByExternalID(ctx, ev.Object.ID)
	if err != nil {
		return eris.Wrap(err, "payment: load by external id")
	}
	if p == nil {
		// Someone else's payment or a gateway misconfiguration. Ack it so
		// the gateway stops redelivering, but make noise.
		log.Warn("event for unknown payment id, ignoring")
		return nil
	}

	switch ev.Type {
	case "payment.succeeded":
		return o.applySuccess(ctx, p, log)
	case "payment.canceled":
		won, err := o.store.TransitionPayment(ctx, p.ExternalID, model.PaymentStatusPending, model.PaymentStatusCanceled)
		if err != nil {
			return err
		}
		if !won {
			// The gateway can void a captured payment too; try the
			// succeeded edge before writing the event off as out of order.
			won, err = o.store.TransitionPayment(ctx, p.ExternalID, model.PaymentStatusSucceeded, model.PaymentStatusCanceled)
			if err != nil {
				return err
			}
		}
		if won {
			log.Info("payment canceled")
		} else {
			log.Info("cancel event ignored, payment already settled")
		}
		return nil
	case "refund.succeeded":
		won, err := o.store.TransitionPayment(ctx, p.ExternalID, model.PaymentStatusSucceeded, model.PaymentStatusRefunded)
		if err != nil {
			return err
		}
		if won {
			log.Info("payment refunded")
		} else {
			log.Warn("refund event ignored, payment not in succeeded")
		}
		return nil
	default:
		log.Info("unhandled event type, ignoring")
		return nil
	}
}

// applySuccess runs the pending→succeeded CAS. Exactly one caller wins it
// across all deliveries and instances; only the winner enqueues the
// deep-audit task, and the enqueue itself is unique per payment id.
func (o *Orchestrator) applySuccess(ctx context.Context, p *model.Payment, log *zap.Logger) error {
	won, err := o.store.TransitionPayment(ctx, p.ExternalID, model.PaymentStatusPending, model.PaymentStatusSucceeded)
	if err != nil {
		return err
	}
	if !won {
		if p.Status != model.PaymentStatusSucceeded {
			log.Info("success event ignored, payment already settled")
			return nil
		}
		// The payment is succeeded but a prior delivery may have failed
		// between the CAS and the enqueue; fall through and enqueue again
		// (unique per payment id, so a no-op when the task exists).
	}

	enqueued, err := o.store.EnqueueAuditTask(ctx, model.AuditTask{
		PaymentID:   p.ExternalID,
		TenderID:    p.TenderID,
		ClientID:    p.ClientID,
		MaxAttempts: o.auditMaxAttempts,
	})
	if err != nil {
		// The payment is already succeeded locally; redelivery will land
		// here again and retry the enqueue.
		return eris.Wrap(err, "payment: enqueue audit task")
	}
	if enqueued {
		log.Info("payment succeeded, audit queued",
			zap.String("tender", p.TenderID),
			zap.String("client", p.ClientID),
		)
	}
	return nil
}

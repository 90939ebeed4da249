package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/internal/resilience"
	"github.com/govsniper/govsniper/pkg/mailer"
	"github.com/govsniper/govsniper/pkg/render"
	"github.com/govsniper/govsniper/pkg/scoring"
)

// DeepAudit drains the due part of the audit queue: for each paid tender it
// produces the full report, delivers it, marks the tender sold, and purges
// the artifacts that only existed for the report's sake. A failed delivery
// is rescheduled with escalating backoff; a task out of attempts goes to
// manual follow-up and stops being picked up.
func (p *Pipeline) DeepAudit(ctx context.Context) (int, error) {
	tasks, err := p.store.DueAuditTasks(ctx, time.Now().UTC(), p.batchLimit())
	if err != nil {
		return 0, eris.Wrap(err, "deepaudit: list due tasks")
	}

	delivered := 0
	for _, task := range tasks {
		if err := p.deliverReport(ctx, task); err != nil {
			p.failTask(ctx, task, err)
			continue
		}
		if err := p.store.CompleteAuditTask(ctx, task.ID); err != nil {
			return delivered, eris.Wrapf(err, "deepaudit: complete task %s", task.ID)
		}
		delivered++
	}

	if len(tasks) > 0 {
		p.log.Info("deep audit finished",
			zap.Int("due", len(tasks)),
			zap.Int("delivered", delivered),
		)
	}
	return delivered, nil
}

// deliverReport runs one task end to end. Every step is safe to repeat, so
// a crash anywhere leaves the task due and the next run redoes the work.
func (p *Pipeline) deliverReport(ctx context.Context, task model.AuditTask) error {
	tender, err := p.store.GetTender(ctx, task.TenderID)
	if err != nil {
		return eris.Wrap(err, "load tender")
	}
	if tender == nil {
		return eris.Errorf("tender %s no longer exists", task.TenderID)
	}
	client, err := p.store.GetClient(ctx, task.ClientID)
	if err != nil {
		return eris.Wrap(err, "load client")
	}
	if client == nil {
		return eris.Errorf("client %s no longer exists", task.ClientID)
	}

	analysis := tender.DeepAnalysis
	if analysis == "" {
		docs := make([]string, 0, len(tender.Documents))
		for _, d := range tender.Documents {
			docs = append(docs, d.Name)
		}
		result, err := resilience.ExecuteVal(ctx, p.scoreGuard, func(ctx context.Context) (*scoring.Result, error) {
			return p.scoring.Score(ctx, scoring.Request{
				Mode:      scoring.ModeFullAudit,
				Title:     tender.Title,
				Category:  tender.Category,
				Customer:  tender.Customer,
				Price:     tender.Price,
				Documents: docs,
			})
		})
		if err != nil {
			return eris.Wrap(err, "full audit scoring")
		}
		analysis = result.Analysis
		if analysis == "" {
			analysis = result.Summary
		}
		// Persist before rendering so a render failure does not burn
		// another scoring call on retry.
		if err := p.store.SetDeepAnalysis(ctx, tender.ID, analysis); err != nil {
			return eris.Wrap(err, "store analysis")
		}
	}

	pdf, err := p.render.RenderPDF(ctx, render.Report{
		Title:       tender.Title,
		TenderID:    tender.ExternalID,
		Analysis:    analysis,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return eris.Wrap(err, "render report")
	}

	msg := mailer.Message{
		To:      client.Email,
		Subject: "Аудит тендера " + tender.ExternalID,
		HTML: fmt.Sprintf(`<p>Добрый день!</p>
<p>Полный аудит закупки «%s» — в приложении.</p>
<p>Спасибо за покупку.</p>`, tender.Title),
		Attachments: []mailer.Attachment{
			{Name: "audit-" + tender.ExternalID + ".pdf", Content: pdf},
		},
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		return eris.Wrap(err, "deliver report")
	}

	if err := p.store.MarkReportSent(ctx, task.PaymentID); err != nil {
		return eris.Wrap(err, "mark report sent")
	}

	// A buyer can pay straight off the teaser, before the notify job has
	// moved the tender on; walk the remaining edges so the sale ends in a
	// terminal status. Lost CAS races mean another actor advanced the
	// tender, and a redelivered task finds it already sold; both are fine.
	if tender.Status == model.TenderStatusAnalyzed {
		if _, err := p.store.TransitionTender(ctx, tender.ID, model.TenderStatusAnalyzed, model.TenderStatusNotified); err != nil {
			return eris.Wrap(err, "transition to notified")
		}
	}
	if _, err := p.store.TransitionTender(ctx, tender.ID, model.TenderStatusNotified, model.TenderStatusSold); err != nil {
		return eris.Wrap(err, "transition to sold")
	}
	if err := p.store.PurgeTenderArtifacts(ctx, tender.ID); err != nil {
		return eris.Wrap(err, "purge artifacts")
	}

	p.log.Info("audit report delivered",
		zap.String("tender", tender.ID),
		zap.String("client", client.ID),
		zap.String("payment", task.PaymentID),
	)
	return nil
}

// failTask reschedules a failed task with backoff, or parks it for manual
// follow-up when the attempt budget is spent.
func (p *Pipeline) failTask(ctx context.Context, task model.AuditTask, cause error) {
	attempts := task.Attempts + 1
	manual := attempts >= task.MaxAttempts
	next := time.Now().UTC().Add(resilience.AuditBackoff(attempts))

	if manual {
		p.log.Error("audit task out of attempts, manual follow-up required",
			zap.String("task", task.ID),
			zap.String("payment", task.PaymentID),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
	} else {
		p.log.Warn("audit delivery failed, rescheduled",
			zap.String("task", task.ID),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt", next),
			zap.Error(cause),
		)
	}

	if err := p.store.RescheduleAuditTask(ctx, task.ID, next, cause.Error(), manual); err != nil {
		p.log.Error("audit task reschedule failed", zap.String("task", task.ID), zap.Error(err))
	}
}

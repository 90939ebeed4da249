package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/internal/payment"
	"github.com/govsniper/govsniper/internal/store"
	"github.com/govsniper/govsniper/pkg/mailer"
)

// Notify emails teaser summaries of analyzed tenders to every matching
// active client, then advances each tender to notified. The notification
// row is the send claim: inserting it wins the (tender, client) pair, and a
// failed send releases the claim so a later run retries.
func (p *Pipeline) Notify(ctx context.Context) (int, error) {
	tenders, err := p.store.ListTenders(ctx, store.TenderFilter{
		Status: model.TenderStatusAnalyzed,
		Limit:  p.batchLimit(),
	})
	if err != nil {
		return 0, eris.Wrap(err, "notify: list analyzed")
	}
	if len(tenders) == 0 {
		return 0, nil
	}

	clients, err := p.store.ListActiveClients(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "notify: list clients")
	}

	sent := 0
	for _, t := range tenders {
		n, err := p.notifyOne(ctx, t, clients)
		sent += n
		if err != nil {
			return sent, err
		}
	}

	p.log.Info("notify finished",
		zap.Int("tenders", len(tenders)),
		zap.Int("sent", sent),
	)
	return sent, nil
}

func (p *Pipeline) notifyOne(ctx context.Context, t model.Tender, clients []model.Client) (int, error) {
	sent, failed := 0, 0
	for _, c := range clients {
		if !c.Matches(t.Title, t.Category, t.Price) {
			continue
		}

		claimed, err := p.store.InsertNotification(ctx, t.ID, c.ID)
		if err != nil {
			return sent, eris.Wrapf(err, "notify: claim %s/%s", t.ID, c.ID)
		}
		if !claimed {
			// Another run or instance already notified this pair.
			continue
		}

		if err := p.mailer.Send(ctx, p.teaserMessage(t, c)); err != nil {
			p.log.Warn("teaser send failed",
				zap.String("tender", t.ID),
				zap.String("client", c.ID),
				zap.Error(err),
			)
			// Release the claim so the next run retries this pair.
			if delErr := p.store.DeleteNotification(ctx, t.ID, c.ID); delErr != nil {
				return sent, eris.Wrapf(delErr, "notify: release claim %s/%s", t.ID, c.ID)
			}
			failed++
			continue
		}
		sent++
	}

	// A failed send keeps the tender in analyzed; already-sent pairs stay
	// claimed, so the next run only retries the failures.
	if failed > 0 {
		return sent, nil
	}

	// The tender is done with matching whether or not anyone matched;
	// a CAS loss means another instance got here first.
	won, err := p.store.TransitionTender(ctx, t.ID, model.TenderStatusAnalyzed, model.TenderStatusNotified)
	if err != nil {
		return sent, eris.Wrapf(err, "notify: transition %s", t.ID)
	}
	if won {
		p.log.Info("tender notified", zap.String("tender", t.ID), zap.Int("clients", sent))
	}
	return sent, nil
}

func (p *Pipeline) teaserMessage(t model.Tender, c model.Client) mailer.Message {
	price := payment.PriceFor(t.Price, p.cfg.Payment)

	risk, margin := 0.0, 0.0
	if t.RiskScore != nil {
		risk = *t.RiskScore
	}
	if t.MarginEstimate != nil {
		margin = *t.MarginEstimate
	}

	html := fmt.Sprintf(`<h2>%s</h2>
<p>НМЦК: <b>%s ₽</b></p>
<p>Оценка риска: %.0f/100 &middot; Ожидаемая маржа: %.0f%%</p>
<p>%s</p>
<p><a href="%s">Карточка закупки</a></p>
<hr>
<p>Полный аудит тендера — %s ₽. Ответьте на это письмо, чтобы получить ссылку на оплату.</p>`,
		t.Title, t.Price.StringFixed(2), risk, margin, t.Summary, t.URL, price.String())

	return mailer.Message{
		To:      c.Email,
		Subject: "Новый тендер: " + t.Title,
		HTML:    html,
	}
}

package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/model"
)

// Enrich attaches document metadata to pending tenders that lack it.
// Enrichment is best effort: a per-tender fetch failure is logged and the
// tender stays in the missing-documents set for the next run; analysis never
// waits for it.
func (p *Pipeline) Enrich(ctx context.Context) (int, error) {
	tenders, err := p.store.ListTendersMissingDocuments(ctx, p.batchLimit())
	if err != nil {
		return 0, eris.Wrap(err, "enrich: list tenders")
	}

	enriched := 0
	for _, t := range tenders {
		docs, err := p.feed.FetchDocuments(ctx, t.ExternalID)
		if err != nil {
			p.log.Warn("document fetch failed",
				zap.String("tender", t.ID),
				zap.String("external_id", t.ExternalID),
				zap.Error(err),
			)
			continue
		}
		if len(docs) == 0 {
			// Nothing published yet; picked up again next run.
			continue
		}

		meta := make([]model.DocumentMeta, 0, len(docs))
		for _, d := range docs {
			meta = append(meta, model.DocumentMeta{Name: d.Name, URL: d.URL, Size: d.Size})
		}
		if err := p.store.SetTenderDocuments(ctx, t.ID, meta); err != nil {
			return enriched, eris.Wrapf(err, "enrich: set documents %s", t.ID)
		}
		enriched++
	}

	p.log.Info("enrich finished",
		zap.Int("candidates", len(tenders)),
		zap.Int("enriched", enriched),
	)
	return enriched, nil
}

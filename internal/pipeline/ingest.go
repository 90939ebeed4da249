package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/govsniper/govsniper/internal/model"
)

// Ingest pulls the current feed page, drops entries that can never sell
// (below the price floor or carrying a stop word), and inserts the rest as
// pending tenders. The external-id unique constraint absorbs re-reads of the
// same feed page, so the count reflects genuinely new tenders.
func (p *Pipeline) Ingest(ctx context.Context) (int, error) {
	entries, err := p.feed.FetchEntries(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: fetch entries")
	}

	minPrice := decimal.NewFromInt(p.cfg.Filter.MinTenderPrice)
	inserted := 0
	for _, e := range entries {
		title := norm.NFC.String(e.Title)
		description := norm.NFC.String(e.Description)

		if e.Price.LessThan(minPrice) {
			continue
		}
		if word := p.matchStopWord(title, description); word != "" {
			p.log.Debug("entry dropped by stop word",
				zap.String("external_id", e.ExternalID),
				zap.String("word", word),
			)
			continue
		}

		published := e.PublishedAt
		t := &model.Tender{
			ExternalID:  e.ExternalID,
			Title:       title,
			URL:         e.URL,
			Price:       e.Price,
			Category:    e.Category,
			Customer:    e.Customer,
			Status:      model.TenderStatusPending,
			PublishedAt: &published,
		}
		ok, err := p.store.InsertTender(ctx, t)
		if err != nil {
			return inserted, eris.Wrapf(err, "ingest: insert tender %s", e.ExternalID)
		}
		if ok {
			inserted++
		}
	}

	p.log.Info("ingest finished",
		zap.Int("fetched", len(entries)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

// matchStopWord returns the first configured stop word found in the title or
// description, or "" when the entry is clean. Matching is case-insensitive
// substring containment on NFC-normalized text.
func (p *Pipeline) matchStopWord(title, description string) string {
	haystack := strings.ToLower(title + " " + description)
	for _, word := range p.cfg.Filter.StopWords {
		w := strings.ToLower(strings.TrimSpace(norm.NFC.String(word)))
		if w != "" && strings.Contains(haystack, w) {
			return w
		}
	}
	return ""
}

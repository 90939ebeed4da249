package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/internal/resilience"
	"github.com/govsniper/govsniper/internal/store"
	"github.com/govsniper/govsniper/pkg/scoring"
)

// analyzeConcurrency bounds parallel scoring calls per run.
const analyzeConcurrency = 4

// Analyze scores pending tenders with the teaser model and moves each to
// analyzed or rejected. The write is a conditional update from pending, so
// when two instances race on the same tender exactly one verdict lands.
func (p *Pipeline) Analyze(ctx context.Context) (int, error) {
	tenders, err := p.store.ListTenders(ctx, store.TenderFilter{
		Status: model.TenderStatusPending,
		Limit:  p.batchLimit(),
	})
	if err != nil {
		return 0, eris.Wrap(err, "analyze: list pending")
	}

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeConcurrency)
	for _, t := range tenders {
		g.Go(func() error {
			ok, err := p.analyzeOne(gctx, t)
			if err != nil {
				return err
			}
			if ok {
				processed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(processed.Load()), err
	}

	p.log.Info("analyze finished",
		zap.Int("candidates", len(tenders)),
		zap.Int64("processed", processed.Load()),
	)
	return int(processed.Load()), nil
}

func (p *Pipeline) analyzeOne(ctx context.Context, t model.Tender) (bool, error) {
	// A lowered price floor re-admits old tenders at ingest, never here:
	// anything below the current floor is disqualified without spending a
	// scoring call.
	if t.Price.LessThan(decimal.NewFromInt(p.cfg.Filter.MinTenderPrice)) {
		return p.storeVerdict(ctx, t, 100, 0, "Цена ниже минимального порога", model.TenderStatusRejected)
	}

	docs := make([]string, 0, len(t.Documents))
	for _, d := range t.Documents {
		docs = append(docs, d.Name)
	}
	result, err := resilience.ExecuteVal(ctx, p.scoreGuard, func(ctx context.Context) (*scoring.Result, error) {
		return p.scoring.Score(ctx, scoring.Request{
			Mode:      scoring.ModeTeaser,
			Title:     t.Title,
			Category:  t.Category,
			Customer:  t.Customer,
			Price:     t.Price,
			Documents: docs,
		})
	})
	if err != nil {
		return false, eris.Wrapf(err, "analyze: score %s", t.ID)
	}

	to := model.TenderStatusAnalyzed
	if result.RiskScore >= p.cfg.Scoring.Disqualify {
		to = model.TenderStatusRejected
	}
	return p.storeVerdict(ctx, t, result.RiskScore, result.MarginEstimate, result.Summary, to)
}

func (p *Pipeline) storeVerdict(ctx context.Context, t model.Tender, risk, margin float64, summary string, to model.TenderStatus) (bool, error) {
	won, err := p.store.SetTenderAnalysis(ctx, t.ID, risk, margin, summary, to)
	if err != nil {
		return false, eris.Wrapf(err, "analyze: store verdict %s", t.ID)
	}
	if !won {
		p.log.Debug("tender already claimed", zap.String("tender", t.ID))
		return false, nil
	}
	p.log.Info("tender analyzed",
		zap.String("tender", t.ID),
		zap.String("status", string(to)),
		zap.Float64("risk", risk),
		zap.Float64("margin", margin),
	)
	return true, nil
}

// Package pipeline contains the scheduled stages that move tenders through
// their lifecycle: ingest → enrich → analyze → notify, plus the deep-audit
// delivery queue, lead generation from award records, and retention cleanup.
//
// Stages share no state beyond the store. Each stage claims work through
// conditional updates and unique constraints, so any stage may run on any
// instance at any time without double-processing.
package pipeline

import (
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/config"
	"github.com/govsniper/govsniper/internal/resilience"
	"github.com/govsniper/govsniper/internal/store"
	"github.com/govsniper/govsniper/pkg/feed"
	"github.com/govsniper/govsniper/pkg/mailer"
	"github.com/govsniper/govsniper/pkg/registry"
	"github.com/govsniper/govsniper/pkg/render"
	"github.com/govsniper/govsniper/pkg/scoring"
)

// Pipeline wires the collaborator clients to the store and exposes each
// stage as a scheduler job handler.
type Pipeline struct {
	store    store.Store
	feed     feed.Client
	scoring  scoring.Client
	render   render.Client
	mailer   mailer.Client
	registry registry.Client
	cfg      *config.Config
	log      *zap.Logger

	// scoreGuard trips on consecutive scoring outages so the analyze and
	// deep-audit stages back off instead of hammering a model that is down.
	scoreGuard *resilience.CircuitBreaker
}

// New assembles the pipeline. Collaborators a deployment does not use may be
// nil as long as the jobs that need them are never registered.
func New(st store.Store, fc feed.Client, sc scoring.Client, rc render.Client, mc mailer.Client, reg registry.Client, cfg *config.Config) *Pipeline {
	log := zap.L().With(zap.String("component", "pipeline"))
	return &Pipeline{
		store:    st,
		feed:     fc,
		scoring:  sc,
		render:   rc,
		mailer:   mc,
		registry: reg,
		cfg:      cfg,
		log:      log,
		scoreGuard: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			ShouldTrip: resilience.IsTransient,
			OnStateChange: func(from, to resilience.CircuitState) {
				log.Warn("scoring circuit state changed",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

func (p *Pipeline) batchLimit() int {
	if p.cfg.Jobs.BatchLimit > 0 {
		return p.cfg.Jobs.BatchLimit
	}
	return 20
}

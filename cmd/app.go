package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/govsniper/govsniper/internal/payment"
	"github.com/govsniper/govsniper/internal/pipeline"
	"github.com/govsniper/govsniper/internal/scheduler"
	"github.com/govsniper/govsniper/internal/store"
	"github.com/govsniper/govsniper/pkg/feed"
	"github.com/govsniper/govsniper/pkg/mailer"
	"github.com/govsniper/govsniper/pkg/registry"
	"github.com/govsniper/govsniper/pkg/render"
	"github.com/govsniper/govsniper/pkg/scoring"
)

// appEnv holds the wired store, pipeline, scheduler, and payment flow shared
// by the serve and run commands.
type appEnv struct {
	Store     store.Store
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	Payments  *payment.Orchestrator
}

// Close releases resources held by the environment.
func (ae *appEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "", "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// initApp sets up the store, collaborator clients, pipeline, scheduler, and
// payment orchestrator. Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	feedOpts := []feed.Option{}
	if cfg.Feed.ProxyURL != "" {
		feedOpts = append(feedOpts, feed.WithProxy(cfg.Feed.ProxyURL))
	}
	feedClient := feed.NewClient(cfg.Feed.URL, feedOpts...)

	scoringClient := scoring.NewClient(cfg.Scoring.Key, scoring.Config{
		TeaserModel: cfg.Scoring.TeaserModel,
		AuditModel:  cfg.Scoring.AuditModel,
	})

	renderClient := render.NewClient(cfg.Render.BaseURL,
		render.WithTimeout(time.Duration(cfg.Render.TimeoutSecs)*time.Second))

	mailerClient := mailer.NewClient(cfg.Mailer.Key, cfg.Mailer.From,
		mailer.WithBaseURL(cfg.Mailer.BaseURL))

	registryOpts := []registry.Option{registry.WithBaseURL(cfg.Registry.BaseURL)}
	if cfg.Registry.RequestsPerSec > 0 {
		registryOpts = append(registryOpts, registry.WithRateLimit(cfg.Registry.RequestsPerSec))
	}
	registryClient := registry.NewClient(cfg.Registry.Key, registryOpts...)

	pipe := pipeline.New(st, feedClient, scoringClient, renderClient, mailerClient, registryClient, cfg)

	gateway := payment.NewHTTPGateway(cfg.Payment.ShopID, cfg.Payment.SecretKey, cfg.Payment.ReturnURL)
	payments := payment.NewOrchestrator(st, gateway, cfg.Payment, cfg.Jobs.AuditMaxAttempts)

	sched := scheduler.New(st, cfg.Jobs.LeaseTTL())
	if err := registerJobs(sched, pipe); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &appEnv{Store: st, Pipeline: pipe, Scheduler: sched, Payments: payments}, nil
}

// registerJobs wires each pipeline stage into the scheduler. A job whose
// required credential is missing is skipped with one error log instead of
// failing the whole process; the rest of the system keeps running.
func registerJobs(sched *scheduler.Scheduler, pipe *pipeline.Pipeline) error {
	mins := func(n int) time.Duration { return time.Duration(n) * time.Minute }
	hours := func(n int) time.Duration { return time.Duration(n) * time.Hour }

	type jobSpec struct {
		id      string
		every   time.Duration
		handler scheduler.JobFunc
		// missing names the absent credential that disables the job.
		missing string
	}

	specs := []jobSpec{
		{"ingest", mins(cfg.Jobs.IngestIntervalMins), pipe.Ingest, requireValue("feed.url", cfg.Feed.URL)},
		{"enrich", mins(cfg.Jobs.EnrichIntervalMins), pipe.Enrich, requireValue("feed.url", cfg.Feed.URL)},
		{"analyze", mins(cfg.Jobs.AnalyzeIntervalMins), pipe.Analyze, requireValue("scoring.key", cfg.Scoring.Key)},
		{"notify", mins(cfg.Jobs.NotifyIntervalMins), pipe.Notify, requireValue("mailer.key", cfg.Mailer.Key)},
		{"deepaudit", mins(cfg.Jobs.AuditIntervalMins), pipe.DeepAudit, firstMissing(
			requireValue("scoring.key", cfg.Scoring.Key),
			requireValue("mailer.key", cfg.Mailer.Key),
			requireValue("render.base_url", cfg.Render.BaseURL),
		)},
		{"cleanup", hours(cfg.Jobs.CleanupIntervalHrs), pipe.Cleanup, ""},
	}
	if cfg.Leadgen.Enabled {
		specs = append(specs,
			jobSpec{"leadgen-extract", hours(cfg.Leadgen.IntervalHrs), pipe.LeadgenExtract, requireValue("feed.url", cfg.Feed.URL)},
			jobSpec{"leadgen-contacts", hours(cfg.Leadgen.IntervalHrs), pipe.LeadgenContacts, requireValue("registry.key", cfg.Registry.Key)},
			jobSpec{"leadgen-clients", hours(cfg.Leadgen.IntervalHrs), pipe.LeadgenClients, ""},
		)
	} else {
		zap.L().Info("leadgen disabled by config")
	}

	for _, spec := range specs {
		if spec.missing != "" {
			zap.L().Error("job disabled, credential missing",
				zap.String("job", spec.id),
				zap.String("setting", spec.missing),
			)
			continue
		}
		if err := sched.Register(spec.id, spec.every, spec.handler); err != nil {
			return err
		}
	}
	return nil
}

func requireValue(name, value string) string {
	if value == "" {
		return name
	}
	return ""
}

func firstMissing(names ...string) string {
	for _, n := range names {
		if n != "" {
			return n
		}
	}
	return ""
}

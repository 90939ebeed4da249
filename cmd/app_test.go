package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govsniper/govsniper/internal/config"
	"github.com/govsniper/govsniper/internal/pipeline"
	"github.com/govsniper/govsniper/internal/scheduler"
	"github.com/govsniper/govsniper/internal/store"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "app.db")},
		Feed:  config.FeedConfig{URL: "https://zakupki.test/feed"},
		Scoring: config.ScoringConfig{
			Key: "sk-test", Disqualify: 80,
		},
		Mailer:   config.MailerConfig{Key: "mk-test", From: "noreply@govsniper.ru"},
		Render:   config.RenderConfig{BaseURL: "https://render.test"},
		Registry: config.RegistryConfig{Key: "rk-test"},
		Jobs: config.JobsConfig{
			IngestIntervalMins: 15, EnrichIntervalMins: 3, AnalyzeIntervalMins: 5,
			NotifyIntervalMins: 10, AuditIntervalMins: 2, CleanupIntervalHrs: 6,
			BatchLimit: 20, LeaseTTLMins: 30, AuditMaxAttempts: 5,
		},
		Leadgen: config.LeadgenConfig{Enabled: true, IntervalHrs: 6, MinAgeDays: 7, MaxAgeDays: 30},
	}
}

func newSchedulerForTest(t *testing.T) (*scheduler.Scheduler, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return scheduler.New(st, 30*time.Minute), st
}

func TestRegisterJobsAll(t *testing.T) {
	cfg = testAppConfig(t)
	sched, st := newSchedulerForTest(t)
	pipe := pipeline.New(st, nil, nil, nil, nil, nil, cfg)

	require.NoError(t, registerJobs(sched, pipe))

	// All nine jobs registered: a duplicate registration proves presence.
	for _, id := range []string{
		"ingest", "enrich", "analyze", "notify", "deepaudit", "cleanup",
		"leadgen-extract", "leadgen-contacts", "leadgen-clients",
	} {
		err := sched.Register(id, time.Hour, pipe.Cleanup)
		require.Error(t, err, "job %s should already be registered", id)
	}
}

func TestRegisterJobsSkipsMissingCredentials(t *testing.T) {
	cfg = testAppConfig(t)
	cfg.Scoring.Key = ""
	cfg.Leadgen.Enabled = false
	sched, st := newSchedulerForTest(t)
	pipe := pipeline.New(st, nil, nil, nil, nil, nil, cfg)

	require.NoError(t, registerJobs(sched, pipe))

	// analyze and deepaudit need the scoring key; both skipped.
	require.NoError(t, sched.Register("analyze", time.Hour, pipe.Cleanup))
	require.NoError(t, sched.Register("deepaudit", time.Hour, pipe.Cleanup))
	// leadgen disabled entirely.
	require.NoError(t, sched.Register("leadgen-extract", time.Hour, pipe.Cleanup))
	// notify unaffected.
	require.Error(t, sched.Register("notify", time.Hour, pipe.Cleanup))
}

func TestInitStoreUnknownDriver(t *testing.T) {
	cfg = testAppConfig(t)
	cfg.Store.Driver = "oracle"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

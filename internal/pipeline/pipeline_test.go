package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/govsniper/govsniper/internal/config"
	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/internal/store"
	"github.com/govsniper/govsniper/pkg/feed"
	"github.com/govsniper/govsniper/pkg/mailer"
	"github.com/govsniper/govsniper/pkg/registry"
	"github.com/govsniper/govsniper/pkg/render"
	"github.com/govsniper/govsniper/pkg/scoring"
)

type fakeFeed struct {
	entries    []feed.Entry
	entriesErr error
	docs       map[string][]feed.Document
	docsErr    map[string]error
	awards     map[string][]feed.AwardParticipant
	awardErr   map[string]error
}

func (f *fakeFeed) FetchEntries(ctx context.Context) ([]feed.Entry, error) {
	return f.entries, f.entriesErr
}

func (f *fakeFeed) FetchDocuments(ctx context.Context, externalID string) ([]feed.Document, error) {
	if err, ok := f.docsErr[externalID]; ok {
		return nil, err
	}
	return f.docs[externalID], nil
}

func (f *fakeFeed) FetchAward(ctx context.Context, externalID string) ([]feed.AwardParticipant, error) {
	if err, ok := f.awardErr[externalID]; ok {
		return nil, err
	}
	return f.awards[externalID], nil
}

type fakeScoring struct {
	calls   int
	results map[string]*scoring.Result // keyed by title
	err     error
}

func (f *fakeScoring) Score(ctx context.Context, req scoring.Request) (*scoring.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[req.Title]; ok {
		return r, nil
	}
	return &scoring.Result{RiskScore: 20, MarginEstimate: 15, Summary: "ок", Analysis: "подробный разбор"}, nil
}

type fakeRender struct {
	calls int
	err   error
}

func (f *fakeRender) RenderPDF(ctx context.Context, report render.Report) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 " + report.TenderID), nil
}

type fakeMailer struct {
	sent   []mailer.Message
	failTo map[string]bool
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	if f.failTo[msg.To] {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeRegistry struct {
	calls    int
	contacts map[string]*registry.Contact
	err      error
}

func (f *fakeRegistry) Lookup(ctx context.Context, taxID string) (*registry.Contact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.contacts[taxID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return c, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scoring: config.ScoringConfig{Disqualify: 80},
		Payment: config.PaymentConfig{Currency: "RUB", PriceTier1: 990, PriceTier2: 1990, PriceTier3: 4990},
		Filter: config.FilterConfig{
			MinTenderPrice: 100000,
			StopWords:      []string{"ремонт", "уборка", "питание", "клининг", "охрана"},
		},
		Jobs:      config.JobsConfig{BatchLimit: 20, AuditMaxAttempts: 5},
		Leadgen:   config.LeadgenConfig{Enabled: true, MinAgeDays: 7, MaxAgeDays: 30, ContactLimit: 50},
		Registry:  config.RegistryConfig{FailureTTLHours: 24},
		Retention: config.RetentionConfig{Days: 90},
	}
}

type testEnv struct {
	store    store.Store
	feed     *fakeFeed
	scoring  *fakeScoring
	render   *fakeRender
	mailer   *fakeMailer
	registry *fakeRegistry
	cfg      *config.Config
	pipeline *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	env := &testEnv{
		store:    st,
		feed:     &fakeFeed{docs: map[string][]feed.Document{}, docsErr: map[string]error{}, awards: map[string][]feed.AwardParticipant{}, awardErr: map[string]error{}},
		scoring:  &fakeScoring{results: map[string]*scoring.Result{}},
		render:   &fakeRender{},
		mailer:   &fakeMailer{failTo: map[string]bool{}},
		registry: &fakeRegistry{contacts: map[string]*registry.Contact{}},
		cfg:      testConfig(),
	}
	env.pipeline = New(st, env.feed, env.scoring, env.render, env.mailer, env.registry, env.cfg)
	return env
}

func (e *testEnv) insertTender(t *testing.T, externalID, title, price string, status model.TenderStatus) *model.Tender {
	t.Helper()
	tender := &model.Tender{
		ExternalID: externalID,
		Title:      title,
		URL:        "https://zakupki.test/" + externalID,
		Price:      decimal.RequireFromString(price),
		Category:   "Поставка оборудования",
		Customer:   "ГБУЗ Городская больница №1",
		Status:     status,
	}
	ok, err := e.store.InsertTender(context.Background(), tender)
	require.NoError(t, err)
	require.True(t, ok)
	return tender
}

func (e *testEnv) insertClient(t *testing.T, email string, keywords []string) *model.Client {
	t.Helper()
	c := &model.Client{
		Email:    email,
		Active:   true,
		Keywords: keywords,
		Origin:   model.OriginManual,
	}
	ok, err := e.store.CreateClient(context.Background(), c)
	require.NoError(t, err)
	require.True(t, ok)
	return c
}

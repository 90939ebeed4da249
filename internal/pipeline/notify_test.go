package pipeline

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govsniper/govsniper/internal/model"
)

func analyzedTender(t *testing.T, env *testEnv, externalID, title, price string) *model.Tender {
	t.Helper()
	tender := env.insertTender(t, externalID, title, price, model.TenderStatusPending)
	won, err := env.store.SetTenderAnalysis(context.Background(), tender.ID, 30, 15, "Типовая поставка", model.TenderStatusAnalyzed)
	require.NoError(t, err)
	require.True(t, won)
	return tender
}

func TestNotifyMatchesAndSends(t *testing.T) {
	env := newTestEnv(t)
	tender := analyzedTender(t, env, "n-1", "Поставка серверов", "2500000")
	env.insertClient(t, "it@example.com", []string{"серверов"})
	env.insertClient(t, "food@example.com", []string{"питание"})

	n, err := env.pipeline.Notify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, env.mailer.sent, 1)
	msg := env.mailer.sent[0]
	assert.Equal(t, "it@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Поставка серверов")
	// Tier 2 price for a 2.5M tender.
	assert.Contains(t, msg.HTML, "1990")

	got, err := env.store.GetTender(context.Background(), tender.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TenderStatusNotified, got.Status)
	assert.NotNil(t, got.NotifiedAt)
}

func TestNotifyNoMatchStillAdvances(t *testing.T) {
	env := newTestEnv(t)
	tender := analyzedTender(t, env, "n-1", "Поставка серверов", "2500000")
	env.insertClient(t, "food@example.com", []string{"питание"})

	n, err := env.pipeline.Notify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.mailer.sent)

	got, err := env.store.GetTender(context.Background(), tender.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TenderStatusNotified, got.Status)
}

func TestNotifyPairSentAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	tender := analyzedTender(t, env, "n-1", "Поставка серверов", "2500000")
	client := env.insertClient(t, "it@example.com", []string{"серверов"})

	// The pair was already claimed by an earlier (or concurrent) run.
	claimed, err := env.store.InsertNotification(context.Background(), tender.ID, client.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := env.pipeline.Notify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.mailer.sent)
}

func TestNotifySendFailureReleasesClaim(t *testing.T) {
	env := newTestEnv(t)
	tender := analyzedTender(t, env, "n-1", "Поставка серверов", "2500000")
	env.insertClient(t, "broken@example.com", []string{"серверов"})
	env.mailer.failTo["broken@example.com"] = true

	n, err := env.pipeline.Notify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// The claim is released; nothing recorded for the pair.
	count, err := env.store.CountNotifications(context.Background(), tender.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The tender stays analyzed so the next run retries the send.
	got, err := env.store.GetTender(context.Background(), tender.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TenderStatusAnalyzed, got.Status)

	// Mailer recovers; the retry delivers and the tender advances.
	env.mailer.failTo = map[string]bool{}
	n, err = env.pipeline.Notify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = env.store.GetTender(context.Background(), tender.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TenderStatusNotified, got.Status)
}

func TestNotifyRespectsPriceBounds(t *testing.T) {
	env := newTestEnv(t)
	analyzedTender(t, env, "n-big", "Поставка серверов", "50000000")

	c := &model.Client{
		Email:    "small@example.com",
		Active:   true,
		Keywords: []string{"серверов"},
		Origin:   model.OriginManual,
	}
	max := decimal.NewFromInt(10_000_000)
	c.MaxPrice = &max
	ok, err := env.store.CreateClient(context.Background(), c)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := env.pipeline.Notify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.mailer.sent)
}

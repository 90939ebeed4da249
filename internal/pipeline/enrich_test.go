package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govsniper/govsniper/internal/model"
	"github.com/govsniper/govsniper/pkg/feed"
)

func TestEnrichAttachesDocuments(t *testing.T) {
	env := newTestEnv(t)
	tender := env.insertTender(t, "n-1", "Поставка серверов", "2500000", model.TenderStatusPending)
	env.feed.docs["n-1"] = []feed.Document{
		{Name: "Техническое задание.docx", URL: "https://zakupki.test/n-1/tz", Size: 120000},
		{Name: "Проект контракта.pdf", URL: "https://zakupki.test/n-1/contract", Size: 80000},
	}

	n, err := env.pipeline.Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.GetTender(context.Background(), tender.ID)
	require.NoError(t, err)
	require.Len(t, got.Documents, 2)
	assert.Equal(t, "Техническое задание.docx", got.Documents[0].Name)
}

func TestEnrichFailureDoesNotBlockOthers(t *testing.T) {
	env := newTestEnv(t)
	env.insertTender(t, "n-bad", "Поставка камер", "500000", model.TenderStatusPending)
	good := env.insertTender(t, "n-good", "Поставка серверов", "2500000", model.TenderStatusPending)
	env.feed.docsErr["n-bad"] = assert.AnError
	env.feed.docs["n-good"] = []feed.Document{{Name: "ТЗ.docx", URL: "https://zakupki.test/n-good/tz"}}

	n, err := env.pipeline.Enrich(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.GetTender(context.Background(), good.ID)
	require.NoError(t, err)
	assert.Len(t, got.Documents, 1)
}

func TestEnrichSkipsAlreadyEnriched(t *testing.T) {
	env := newTestEnv(t)
	tender := env.insertTender(t, "n-1", "Поставка серверов", "2500000", model.TenderStatusPending)
	require.NoError(t, env.store.SetTenderDocuments(context.Background(), tender.ID,
		[]model.DocumentMeta{{Name: "ТЗ.docx", URL: "u"}}))

	n, err := env.pipeline.Enrich(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govsniper/govsniper/internal/model"
)

func TestCleanupDeletesExpiredTerminalTenders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rejected := env.insertTender(t, "n-old", "Поставка серверов", "2500000", model.TenderStatusPending)
	won, err := env.store.SetTenderAnalysis(ctx, rejected.ID, 95, 0, "рискованно", model.TenderStatusRejected)
	require.NoError(t, err)
	require.True(t, won)

	env.insertTender(t, "n-live", "Поставка коммутаторов", "800000", model.TenderStatusPending)

	// Horizon in the future: everything terminal is past retention.
	env.cfg.Retention.Days = -1
	n, err := env.pipeline.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gone, err := env.store.GetTenderByExternalID(ctx, "n-old")
	require.NoError(t, err)
	assert.Nil(t, gone)

	live, err := env.store.GetTenderByExternalID(ctx, "n-live")
	require.NoError(t, err)
	assert.NotNil(t, live)
}

func TestCleanupKeepsRecentTerminalTenders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rejected := env.insertTender(t, "n-fresh", "Поставка серверов", "2500000", model.TenderStatusPending)
	won, err := env.store.SetTenderAnalysis(ctx, rejected.ID, 95, 0, "рискованно", model.TenderStatusRejected)
	require.NoError(t, err)
	require.True(t, won)

	n, err := env.pipeline.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

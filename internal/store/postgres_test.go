package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govsniper/govsniper/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetTender_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM tenders WHERE id = \$1`).
		WithArgs("missing-id").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetTender(context.Background(), "missing-id")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPaymentByExternalID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM payments WHERE external_id = \$1`).
		WithArgs("pay-unknown").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetPaymentByExternalID(context.Background(), "pay-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertNotification_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO notifications .+ ON CONFLICT \(tender_id, client_id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "tender-1", "client-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertNotification(context.Background(), "tender-1", "client-1")
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionPayment_CASMiss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE payments SET status = \$1, updated_at = \$2 WHERE external_id = \$3 AND status = \$4`).
		WithArgs("succeeded", pgxmock.AnyArg(), "pay-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.TransitionPayment(context.Background(), "pay-1", model.PaymentStatusPending, model.PaymentStatusSucceeded)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionPayment_InvalidEdge(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	// Illegal edges never reach the database.
	_, err := s.TransitionPayment(context.Background(), "pay-1", model.PaymentStatusRefunded, model.PaymentStatusPending)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payment transition")
}

func TestPostgresStore_TransitionTender_StampsTimestamp(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE tenders SET status = \$1, updated_at = \$2, sold_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("sold", pgxmock.AnyArg(), "tender-1", "notified").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.TransitionTender(context.Background(), "tender-1", model.TenderStatusNotified, model.TenderStatusSold)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueAuditTask_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO audit_tasks .+ ON CONFLICT \(payment_id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "pay-1", "tender-1", "client-1", "pending",
			0, 5, pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	enq, err := s.EnqueueAuditTask(context.Background(), model.AuditTask{
		PaymentID: "pay-1", TenderID: "tender-1", ClientID: "client-1",
	})
	require.NoError(t, err)
	assert.False(t, enq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartJobRun_LeaseHeld(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE job_runs SET status = \$1, error = 'lease expired'`).
		WithArgs("failed", pgxmock.AnyArg(), "ingest", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`INSERT INTO job_runs .+ ON CONFLICT \(job_id\) WHERE finished_at IS NULL DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "ingest", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	run, err := s.StartJobRun(context.Background(), "ingest", 30*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredTenders(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cutoff := time.Now().UTC().Add(-72 * time.Hour)
	mock.ExpectExec(`DELETE FROM tenders`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	deleted, err := s.DeleteExpiredTenders(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

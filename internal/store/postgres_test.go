package store_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marquee/internal/config"
	"marquee/internal/store"
)

func newPostgresMock(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.FromDB(db, config.DriverPostgres), mock
}

func TestPostgresCompleteCampaignUsesNumberedPlaceholders(t *testing.T) {
	st, mock := newPostgresMock(t)

	mock.ExpectExec(`UPDATE campaigns SET status = \$1, completed_at = \$2, updated_at = \$3 WHERE id = \$4 AND status = \$5`).
		WithArgs("completed", sqlmock.AnyArg(), sqlmock.AnyArg(), "campaign-1", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := st.CompleteCampaign(context.Background(), "campaign-1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimPayoutReportsExistingClaim(t *testing.T) {
	st, mock := newPostgresMock(t)

	mock.ExpectExec(`UPDATE payouts SET status = \$1, claim_token = \$2`).
		WithArgs("processing", "token-b", sqlmock.AnyArg(), sqlmock.AnyArg(), "payout-1", "pending", "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	columns := []string{"id", "host_id", "amount_cents", "currency", "status", "period_start", "period_end",
		"payout_method", "destination_account", "transfer_id", "attempts", "last_error", "failure_kind",
		"claim_token", "last_heartbeat", "completed_at", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT .+ FROM payouts WHERE id = \$1`).
		WithArgs("payout-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"payout-1", "host-1", int64(11500), "USD", "processing", "2026-03-02", "2026-03-15",
			"bank_transfer", "acct_1", nil, int64(0), "", "",
			"token-a", "2026-03-16T00:00:00.000000000Z", nil, "2026-03-16T00:00:00.000000000Z", "2026-03-16T00:00:00.000000000Z",
		))

	_, err := st.ClaimPayout(context.Background(), "payout-1", "token-b")
	assert.ErrorIs(t, err, store.ErrAlreadyClaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreatePayoutBatchRollsBackOnConflict(t *testing.T) {
	st, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO payouts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payout_statements`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE revenue_records SET payout_id = \$1, updated_at = \$2 WHERE id IN \(\$3,\$4\) AND payout_id IS NULL`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "rev-1", "rev-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	payout := store.Payout{HostID: "host-1", AmountCents: 500, Currency: "USD"}
	statements := []store.PayoutStatement{{KioskID: "kiosk-1", CommissionRateBP: 5000, CommissionCents: 500}}
	err := st.CreatePayoutBatch(context.Background(), &payout, statements, []string{"rev-1", "rev-2"})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

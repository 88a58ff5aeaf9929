package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
)

func newDisbursementRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func disbursementRows(t *testing.T) *sqlmock.Rows {
	t.Helper()
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "payroll_id", "batch_id", "amount", "bank_code", "account_number", "account_holder", "status", "external_reference", "failure_code", "completed_at", "created_at", "updated_at"}).
		AddRow("dsb-1", "pr-1", "batch-1", int64(2250000), "BCA", "1234567890", "Budi Santoso",
			string(models.DisbursementStatusProcessing), "BIMBEL-DSB-dsb-1", nil, nil, now, now).
		AddRow("dsb-2", "pr-2", "batch-1", int64(1800000), "BNI", "0987654321", "Siti Rahma",
			string(models.DisbursementStatusCompleted), "BIMBEL-DSB-dsb-2", nil, now, now, now)
}

func TestDisbursementListByBatchTx(t *testing.T) {
	db, mock, cleanup := newDisbursementRepoMock(t)
	defer cleanup()
	repo := NewDisbursementRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payroll_disbursements WHERE batch_id = $1 ORDER BY created_at, id")).
		WithArgs("batch-1").
		WillReturnRows(disbursementRows(t))

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	members, err := repo.ListByBatchTx(context.Background(), tx, "batch-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, models.DisbursementStatusProcessing, members[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementCreateBatchStampsMembers(t *testing.T) {
	db, mock, cleanup := newDisbursementRepoMock(t)
	defer cleanup()
	repo := NewDisbursementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO batch_disbursements").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payroll_disbursements SET batch_id = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("dsb-1", "batch-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payroll_disbursements SET batch_id = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("dsb-2", "batch-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch := &models.BatchDisbursement{
		ID:          "batch-1",
		Reference:   "BATCH-2026-01",
		TotalAmount: 4050000,
	}
	err := repo.CreateBatch(context.Background(), batch, []string{"dsb-1", "dsb-2"})
	require.NoError(t, err)
	assert.Equal(t, models.DisbursementStatusPending, batch.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementUpdateStatusTxStampsCompletion(t *testing.T) {
	db, mock, cleanup := newDisbursementRepoMock(t)
	defer cleanup()
	repo := NewDisbursementRepository(db)

	completedAt := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payroll_disbursements SET status").
		WithArgs("dsb-1", models.DisbursementStatusCompleted, nil, &completedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	err = repo.UpdateStatusTx(context.Background(), tx, "dsb-1", models.DisbursementStatusCompleted, nil, &completedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementUpdateBatchStatusTx(t *testing.T) {
	db, mock, cleanup := newDisbursementRepoMock(t)
	defer cleanup()
	repo := NewDisbursementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_disbursements SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("batch-1", models.DisbursementStatusCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	err = repo.UpdateBatchStatusTx(context.Background(), tx, "batch-1", models.DisbursementStatusCompleted)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

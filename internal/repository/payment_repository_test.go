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

func newPaymentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaymentCreatePersistsAllocationsInOneTransaction(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_allocations")).
		WithArgs(sqlmock.AnyArg(), "pay-1", "bp-1", int64(225000), 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_allocations")).
		WithArgs(sqlmock.AnyArg(), "pay-1", "bp-2", int64(225000), 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	payment := &models.Payment{
		ID:     "pay-1",
		Kind:   models.PaymentKindTuition,
		Method: models.PaymentMethodBankTransfer,
		Amount: 450000,
		Status: models.PaymentStatusUnpaid,
	}
	allocations := []models.PaymentAllocation{
		{BillingPeriodID: "bp-1", Amount: 225000, Position: 0},
		{BillingPeriodID: "bp-2", Amount: 225000, Position: 1},
	}
	err := repo.Create(context.Background(), payment, allocations)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", allocations[0].PaymentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentCreateRollsBackOnAllocationFailure(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_allocations")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	payment := &models.Payment{ID: "pay-1", Amount: 100000}
	err := repo.Create(context.Background(), payment, []models.PaymentAllocation{{BillingPeriodID: "bp-1", Amount: 100000}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentLockByID(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "kind", "method", "amount", "currency", "status", "external_reference", "enrollment_id", "payer_email", "description", "paid_at", "created_at", "updated_at"}).
		AddRow("pay-1", string(models.PaymentKindTuition), string(models.PaymentMethodBankTransfer), int64(225000), "IDR",
			string(models.PaymentStatusPending), "BIMBEL-pay-1", nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, kind, method, amount, currency, status, external_reference, enrollment_id, payer_email, description, paid_at, created_at, updated_at FROM payments WHERE id = $1 FOR UPDATE")).
		WithArgs("pay-1").
		WillReturnRows(rows)

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	payment, err := repo.LockByID(context.Background(), tx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentUpdateStatusTxKeepsExistingPaidAt(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = $2, paid_at = COALESCE($3, paid_at), updated_at = $4 WHERE id = $1")).
		WithArgs("pay-1", models.PaymentStatusSettled, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	err = repo.UpdateStatusTx(context.Background(), tx, "pay-1", models.PaymentStatusSettled, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentListDefaultsPagination(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "kind", "method", "amount", "currency", "status", "external_reference", "enrollment_id", "payer_email", "description", "paid_at", "created_at", "updated_at"}).
		AddRow("pay-1", string(models.PaymentKindTuition), string(models.PaymentMethodCash), int64(225000), "IDR",
			string(models.PaymentStatusSettled), "BIMBEL-pay-1", nil, nil, nil, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 20 OFFSET 0")).WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM payments")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	payments, total, err := repo.List(context.Background(), models.PaymentFilter{})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

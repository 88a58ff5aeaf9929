package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
)

func newGatewayInvoiceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestGatewayInvoiceFindMirrorByExternalReference(t *testing.T) {
	db, mock, cleanup := newGatewayInvoiceRepoMock(t)
	defer cleanup()
	repo := NewGatewayInvoiceRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "payment_id", "gateway_invoice_id", "external_reference", "checkout_url", "expires_at", "last_status", "created_at", "updated_at"}).
		AddRow("mir-1", "pay-1", "inv-abc", "BIMBEL-pay-1", "https://checkout.example/inv-abc", nil, "PENDING", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM gateway_invoice_mirrors WHERE external_reference = $1")).
		WithArgs("BIMBEL-pay-1").
		WillReturnRows(rows)

	mirror, err := repo.FindMirrorByExternalReference(context.Background(), "BIMBEL-pay-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", mirror.PaymentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayInvoiceCallbackSeen(t *testing.T) {
	db, mock, cleanup := newGatewayInvoiceRepoMock(t)
	defer cleanup()
	repo := NewGatewayInvoiceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM gateway_invoice_callbacks WHERE event_id = $1 LIMIT 1")).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	seen, err := repo.CallbackSeen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM gateway_invoice_callbacks WHERE event_id = $1 LIMIT 1")).
		WithArgs("evt-2").
		WillReturnError(sql.ErrNoRows)

	seen, err = repo.CallbackSeen(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayInvoiceInsertCallbackTx(t *testing.T) {
	db, mock, cleanup := newGatewayInvoiceRepoMock(t)
	defer cleanup()
	repo := NewGatewayInvoiceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO gateway_invoice_callbacks").
		WithArgs(sqlmock.AnyArg(), "mir-1", "evt-1", "invoice.paid", "PAID", int64(225000), []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	cb := &models.GatewayInvoiceCallback{
		MirrorID:   "mir-1",
		EventID:    "evt-1",
		EventType:  "invoice.paid",
		Status:     "PAID",
		Amount:     225000,
		RawPayload: []byte(`{}`),
	}
	err = repo.InsertCallbackTx(context.Background(), tx, cb)
	require.NoError(t, err)
	assert.NotEmpty(t, cb.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGatewayInvoiceUpdateMirrorStatusTx(t *testing.T) {
	db, mock, cleanup := newGatewayInvoiceRepoMock(t)
	defer cleanup()
	repo := NewGatewayInvoiceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE gateway_invoice_mirrors SET last_status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("mir-1", "SETTLED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	err = repo.UpdateMirrorStatusTx(context.Background(), tx, "mir-1", "SETTLED")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

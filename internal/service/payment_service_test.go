package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
)

func newServiceDBMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

type mockPaymentRepo struct {
	created       *models.Payment
	createdAllocs []models.PaymentAllocation
	createErr     error

	payment *models.Payment
	findErr error

	statusUpdates []models.PaymentStatus
	txUpdates     []models.PaymentStatus
	allocations   []models.PaymentAllocation
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation) error {
	if m.createErr != nil {
		return m.createErr
	}
	if payment.ID == "" {
		payment.ID = "pay-1"
	}
	m.created = payment
	m.createdAllocs = allocations
	return nil
}

func (m *mockPaymentRepo) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.payment == nil {
		return nil, sql.ErrNoRows
	}
	clone := *m.payment
	return &clone, nil
}

func (m *mockPaymentRepo) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Payment, error) {
	return m.FindByID(ctx, id)
}

func (m *mockPaymentRepo) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.PaymentStatus, paidAt *time.Time) error {
	m.txUpdates = append(m.txUpdates, status)
	return nil
}

func (m *mockPaymentRepo) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

func (m *mockPaymentRepo) AllocationsByPaymentTx(ctx context.Context, tx *sqlx.Tx, paymentID string) ([]models.PaymentAllocation, error) {
	return m.allocations, nil
}

func (m *mockPaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	if m.payment == nil {
		return nil, 0, nil
	}
	return []models.Payment{*m.payment}, 1, nil
}

type mockBillingStore struct {
	periods      []models.BillingPeriod
	findErr      error
	pendingMarks []string
	settled      []string
	settleResult map[string]bool
}

func (m *mockBillingStore) FindByIDs(ctx context.Context, ids []string) ([]models.BillingPeriod, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.periods, nil
}

func (m *mockBillingStore) MarkPendingPayment(ctx context.Context, id, paymentID string) error {
	m.pendingMarks = append(m.pendingMarks, id)
	return nil
}

func (m *mockBillingStore) SettleTx(ctx context.Context, tx *sqlx.Tx, id string, status models.BillingPeriodStatus, paymentID string) (bool, error) {
	m.settled = append(m.settled, id)
	if m.settleResult != nil {
		if ok, found := m.settleResult[id]; found {
			return ok, nil
		}
	}
	return true, nil
}

type mockInvoiceGateway struct {
	invoice *gatewayclient.Invoice
	err     error
	lastReq gatewayclient.CreateInvoiceRequest
	calls   int

	expired   []string
	expireErr error
}

func (m *mockInvoiceGateway) CreateInvoice(ctx context.Context, req gatewayclient.CreateInvoiceRequest) (*gatewayclient.Invoice, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.invoice, nil
}

func (m *mockInvoiceGateway) ExpireInvoice(ctx context.Context, invoiceID string) (*gatewayclient.Invoice, error) {
	m.expired = append(m.expired, invoiceID)
	if m.expireErr != nil {
		return nil, m.expireErr
	}
	return &gatewayclient.Invoice{ID: invoiceID, Status: "EXPIRED"}, nil
}

type mockMirrorWriter struct {
	mirror    *models.GatewayInvoiceMirror
	lookup    *models.GatewayInvoiceMirror
	lookupErr error
}

func (m *mockMirrorWriter) CreateMirror(ctx context.Context, mirror *models.GatewayInvoiceMirror) error {
	m.mirror = mirror
	return nil
}

func (m *mockMirrorWriter) FindMirrorByPayment(ctx context.Context, paymentID string) (*models.GatewayInvoiceMirror, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	if m.lookup == nil {
		return nil, sql.ErrNoRows
	}
	return m.lookup, nil
}

type mockAuditLogger struct {
	entries []*models.AuditLog
	err     error
}

func (m *mockAuditLogger) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, log)
	return nil
}

func TestPayPeriodsCashSettlesImmediately(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	period := testPeriod("bp-1", 225000, due)
	period.EnrollmentID = "enr-1"

	repo := &mockPaymentRepo{
		payment:     &models.Payment{ID: "pay-1", Status: models.PaymentStatusUnpaid, Amount: 225000},
		allocations: []models.PaymentAllocation{{PaymentID: "pay-1", BillingPeriodID: "bp-1", Amount: 225000}},
	}
	billing := &mockBillingStore{periods: []models.BillingPeriod{period}}
	audit := &mockAuditLogger{}

	svc := NewPaymentService(db, repo, billing, &mockInvoiceGateway{}, &mockMirrorWriter{}, audit, nil, nil, PaymentServiceConfig{})

	receipt, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-1"},
		Method:           models.PaymentMethodCash,
		Amount:           225000,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPaid, receipt.Payment.Status)
	require.NotNil(t, receipt.Payment.PaidAt)
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusPaid}, repo.txUpdates)
	assert.Equal(t, []string{"bp-1"}, billing.settled)
	assert.Empty(t, receipt.CheckoutURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPayPeriodsGatewayCreatesInvoice(t *testing.T) {
	db, mock := newServiceDBMock(t)
	// allocationsOf runs in its own transaction after the gateway call.
	mock.ExpectBegin()
	mock.ExpectCommit()

	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	jan := testPeriod("bp-jan", 225000, due)
	jan.EnrollmentID = "enr-1"
	feb := testPeriod("bp-feb", 225000, due.AddDate(0, 1, 0))
	feb.EnrollmentID = "enr-1"

	expires := time.Now().UTC().Add(24 * time.Hour)
	gateway := &mockInvoiceGateway{invoice: &gatewayclient.Invoice{
		ID:          "inv-123",
		Status:      "PENDING",
		CheckoutURL: "https://pay.example/inv-123",
		ExpiresAt:   expires,
	}}
	repo := &mockPaymentRepo{allocations: []models.PaymentAllocation{
		{PaymentID: "pay-1", BillingPeriodID: "bp-jan", Amount: 225000},
		{PaymentID: "pay-1", BillingPeriodID: "bp-feb", Amount: 225000},
	}}
	billing := &mockBillingStore{periods: []models.BillingPeriod{jan, feb}}
	mirrors := &mockMirrorWriter{}

	svc := NewPaymentService(db, repo, billing, gateway, mirrors, &mockAuditLogger{}, nil, nil, PaymentServiceConfig{})

	receipt, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-jan", "bp-feb"},
		Method:           models.PaymentMethodBankTransfer,
		Amount:           450000,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPending, receipt.Payment.Status)
	assert.Equal(t, "https://pay.example/inv-123", receipt.CheckoutURL)
	assert.Equal(t, "BIMBEL-pay-1", gateway.lastReq.ExternalReference)
	assert.Equal(t, int64(450000), gateway.lastReq.Amount)

	require.NotNil(t, mirrors.mirror)
	assert.Equal(t, "inv-123", mirrors.mirror.GatewayInvoiceID)
	assert.Equal(t, "BIMBEL-pay-1", mirrors.mirror.ExternalReference)

	assert.ElementsMatch(t, []string{"bp-jan", "bp-feb"}, billing.pendingMarks)
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusPending}, repo.statusUpdates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPayPeriodsAmountMismatchRejectedBeforeGateway(t *testing.T) {
	db, _ := newServiceDBMock(t)

	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	gateway := &mockInvoiceGateway{}
	repo := &mockPaymentRepo{}
	billing := &mockBillingStore{periods: []models.BillingPeriod{testPeriod("bp-1", 225000, due)}}

	svc := NewPaymentService(db, repo, billing, gateway, &mockMirrorWriter{}, nil, nil, nil, PaymentServiceConfig{})

	_, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-1"},
		Method:           models.PaymentMethodBankTransfer,
		Amount:           200000,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAmountMismatch.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
	assert.Zero(t, gateway.calls)
}

func TestPayPeriodsGatewayRejectionMarksFailedToCreate(t *testing.T) {
	db, _ := newServiceDBMock(t)

	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	gateway := &mockInvoiceGateway{err: &gatewayclient.APIError{StatusCode: 400, Code: "INVALID_BANK"}}
	repo := &mockPaymentRepo{}
	billing := &mockBillingStore{periods: []models.BillingPeriod{testPeriod("bp-1", 225000, due)}}

	svc := NewPaymentService(db, repo, billing, gateway, &mockMirrorWriter{}, nil, nil, nil, PaymentServiceConfig{})

	_, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-1"},
		Method:           models.PaymentMethodBankTransfer,
		Amount:           225000,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFailedToCreate.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusFailedToCreate}, repo.statusUpdates)
	assert.Empty(t, billing.pendingMarks)
}

func TestPayPeriodsGatewayOutageIsTransient(t *testing.T) {
	db, _ := newServiceDBMock(t)

	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	gateway := &mockInvoiceGateway{err: &gatewayclient.APIError{StatusCode: 503, Code: "SERVER_ERROR"}}
	repo := &mockPaymentRepo{}
	billing := &mockBillingStore{periods: []models.BillingPeriod{testPeriod("bp-1", 225000, due)}}

	svc := NewPaymentService(db, repo, billing, gateway, &mockMirrorWriter{}, nil, nil, nil, PaymentServiceConfig{})

	_, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-1"},
		Method:           models.PaymentMethodEWallet,
		Amount:           225000,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGatewayUnavailable.Code, appErrors.FromError(err).Code)
	// The payment stays retriable; no terminal status is written.
	assert.Empty(t, repo.statusUpdates)
	assert.Empty(t, billing.pendingMarks)
}

func TestPayPeriodsRebillExpiresPriorInvoice(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	period := testPeriod("bp-1", 225000, due)
	period.EnrollmentID = "enr-1"
	priorID := "pay-old"
	period.Status = models.BillingPeriodStatusPending
	period.PaymentID = &priorID

	gateway := &mockInvoiceGateway{invoice: &gatewayclient.Invoice{
		ID:          "inv-new",
		Status:      "PENDING",
		CheckoutURL: "https://pay.example/inv-new",
	}}
	repo := &mockPaymentRepo{
		payment:     &models.Payment{ID: "pay-old", Status: models.PaymentStatusPending, Amount: 225000},
		allocations: []models.PaymentAllocation{{PaymentID: "pay-1", BillingPeriodID: "bp-1", Amount: 225000}},
	}
	billing := &mockBillingStore{periods: []models.BillingPeriod{period}}
	mirrors := &mockMirrorWriter{lookup: &models.GatewayInvoiceMirror{PaymentID: "pay-old", GatewayInvoiceID: "inv-old"}}

	svc := NewPaymentService(db, repo, billing, gateway, mirrors, nil, nil, nil, PaymentServiceConfig{})

	receipt, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-1"},
		Method:           models.PaymentMethodBankTransfer,
		Amount:           225000,
	})
	require.NoError(t, err)

	// The stale checkout link is expired before the replacement is issued.
	assert.Equal(t, []string{"inv-old"}, gateway.expired)
	require.NotEmpty(t, repo.statusUpdates)
	assert.Equal(t, models.PaymentStatusExpired, repo.statusUpdates[0])
	assert.Equal(t, models.PaymentStatusPending, receipt.Payment.Status)
	assert.Equal(t, "https://pay.example/inv-new", receipt.CheckoutURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPayPeriodsRebillAbortsOnGatewayOutage(t *testing.T) {
	db, _ := newServiceDBMock(t)

	due := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	period := testPeriod("bp-1", 225000, due)
	priorID := "pay-old"
	period.Status = models.BillingPeriodStatusPending
	period.PaymentID = &priorID

	gateway := &mockInvoiceGateway{expireErr: &gatewayclient.APIError{StatusCode: 503, Code: "SERVER_ERROR"}}
	repo := &mockPaymentRepo{payment: &models.Payment{ID: "pay-old", Status: models.PaymentStatusPending, Amount: 225000}}
	billing := &mockBillingStore{periods: []models.BillingPeriod{period}}
	mirrors := &mockMirrorWriter{lookup: &models.GatewayInvoiceMirror{PaymentID: "pay-old", GatewayInvoiceID: "inv-old"}}

	svc := NewPaymentService(db, repo, billing, gateway, mirrors, nil, nil, nil, PaymentServiceConfig{})

	_, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-1"},
		Method:           models.PaymentMethodBankTransfer,
		Amount:           225000,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGatewayUnavailable.Code, appErrors.FromError(err).Code)
	// The prior payment keeps its live status and no new payment exists.
	assert.Empty(t, repo.statusUpdates)
	assert.Nil(t, repo.created)
	assert.Zero(t, gateway.calls)
}

func TestPayPeriodsMissingPeriod(t *testing.T) {
	db, _ := newServiceDBMock(t)

	billing := &mockBillingStore{periods: nil}
	svc := NewPaymentService(db, &mockPaymentRepo{}, billing, &mockInvoiceGateway{}, &mockMirrorWriter{}, nil, nil, nil, PaymentServiceConfig{})

	_, err := svc.PayPeriods(context.Background(), PayPeriodsRequest{
		BillingPeriodIDs: []string{"bp-missing"},
		Method:           models.PaymentMethodCash,
		Amount:           225000,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPayEnrollmentFeeCash(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &mockPaymentRepo{payment: &models.Payment{ID: "pay-1", Status: models.PaymentStatusUnpaid, Amount: 500000}}
	svc := NewPaymentService(db, repo, &mockBillingStore{}, &mockInvoiceGateway{}, &mockMirrorWriter{}, nil, nil, nil, PaymentServiceConfig{})

	receipt, err := svc.PayEnrollmentFee(context.Background(), CreateEnrollmentFeePaymentRequest{
		EnrollmentID: "enr-1",
		Method:       models.PaymentMethodCash,
		Amount:       500000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentKindEnrollmentFee, receipt.Payment.Kind)
	assert.Equal(t, models.PaymentStatusPaid, receipt.Payment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPaymentIncludesCheckoutURL(t *testing.T) {
	db, _ := newServiceDBMock(t)

	repo := &mockPaymentRepo{payment: &models.Payment{ID: "pay-1", Status: models.PaymentStatusPending}}
	mirrors := &mockMirrorWriter{lookup: &models.GatewayInvoiceMirror{PaymentID: "pay-1", CheckoutURL: "https://pay.example/inv-1"}}
	svc := NewPaymentService(db, repo, &mockBillingStore{}, &mockInvoiceGateway{}, mirrors, nil, nil, nil, PaymentServiceConfig{})

	receipt, err := svc.Get(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/inv-1", receipt.CheckoutURL)
}

func TestGetPaymentNotFound(t *testing.T) {
	db, _ := newServiceDBMock(t)

	svc := NewPaymentService(db, &mockPaymentRepo{}, &mockBillingStore{}, &mockInvoiceGateway{}, &mockMirrorWriter{}, nil, nil, nil, PaymentServiceConfig{})

	_, err := svc.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

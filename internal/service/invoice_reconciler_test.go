package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
)

const testCallbackSecret = "callback-secret"

type mockInvoiceMirrorStore struct {
	mirror         *models.GatewayInvoiceMirror
	mirrorErr      error
	ledgerSeen     bool
	ledgerErr      error
	txCallbacks    []*models.GatewayInvoiceCallback
	mirrorStatuses []string
}

func (m *mockInvoiceMirrorStore) FindMirrorByExternalReference(ctx context.Context, ref string) (*models.GatewayInvoiceMirror, error) {
	if m.mirrorErr != nil {
		return nil, m.mirrorErr
	}
	if m.mirror == nil {
		return nil, sql.ErrNoRows
	}
	return m.mirror, nil
}

func (m *mockInvoiceMirrorStore) UpdateMirrorStatusTx(ctx context.Context, tx *sqlx.Tx, id, lastStatus string) error {
	m.mirrorStatuses = append(m.mirrorStatuses, lastStatus)
	return nil
}

func (m *mockInvoiceMirrorStore) CallbackSeen(ctx context.Context, eventID string) (bool, error) {
	return m.ledgerSeen, m.ledgerErr
}

func (m *mockInvoiceMirrorStore) InsertCallbackTx(ctx context.Context, tx *sqlx.Tx, cb *models.GatewayInvoiceCallback) error {
	m.txCallbacks = append(m.txCallbacks, cb)
	return nil
}

type mockDeduper struct {
	seen bool
	err  error
}

func (m *mockDeduper) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return m.seen, m.err
}

func signedInvoiceBody(eventID, event, externalID string, paidAmount int64) ([]byte, string) {
	body := []byte(fmt.Sprintf(
		`{"event_id":%q,"event":%q,"invoice_id":"inv-1","external_id":%q,"status":"PAID","paid_amount":%d}`,
		eventID, event, externalID, paidAmount))
	return body, gatewayclient.Signature(testCallbackSecret, body)
}

func TestInvoiceReconcilerRejectsBadSignature(t *testing.T) {
	db, _ := newServiceDBMock(t)
	store := &mockInvoiceMirrorStore{}
	rec := NewInvoiceReconciler(db, &mockPaymentRepo{}, &mockBillingStore{}, store, nil, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, _ := signedInvoiceBody("evt-1", "invoice.paid", "BIMBEL-pay-1", 225000)
	err := rec.Process(context.Background(), body, "wrong-signature")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSignature.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.txCallbacks)
}

func TestInvoiceReconcilerRejectsMissingFields(t *testing.T) {
	db, _ := newServiceDBMock(t)
	rec := NewInvoiceReconciler(db, &mockPaymentRepo{}, &mockBillingStore{}, &mockInvoiceMirrorStore{}, nil, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body := []byte(`{"event":"invoice.paid"}`)
	err := rec.Process(context.Background(), body, gatewayclient.Signature(testCallbackSecret, body))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestInvoiceReconcilerIgnoresUnknownEventType(t *testing.T) {
	db, _ := newServiceDBMock(t)
	store := &mockInvoiceMirrorStore{}
	rec := NewInvoiceReconciler(db, &mockPaymentRepo{}, &mockBillingStore{}, store, nil, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-1", "invoice.refunded", "BIMBEL-pay-1", 0)
	require.NoError(t, rec.Process(context.Background(), body, sig))
	assert.Empty(t, store.txCallbacks)
}

func TestInvoiceReconcilerUnknownReference(t *testing.T) {
	db, _ := newServiceDBMock(t)
	store := &mockInvoiceMirrorStore{}
	rec := NewInvoiceReconciler(db, &mockPaymentRepo{}, &mockBillingStore{}, store, nil, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-1", "invoice.paid", "BIMBEL-unknown", 225000)
	err := rec.Process(context.Background(), body, sig)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnknownReference.Code, appErrors.FromError(err).Code)
}

func TestInvoiceReconcilerDuplicateEventIsNoOp(t *testing.T) {
	db, _ := newServiceDBMock(t)
	repo := &mockPaymentRepo{payment: &models.Payment{ID: "pay-1", Status: models.PaymentStatusPending, Amount: 225000}}
	store := &mockInvoiceMirrorStore{
		mirror:     &models.GatewayInvoiceMirror{ID: "mir-1", PaymentID: "pay-1"},
		ledgerSeen: true,
	}
	rec := NewInvoiceReconciler(db, repo, &mockBillingStore{}, store, nil, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-dup", "invoice.paid", "BIMBEL-pay-1", 225000)
	require.NoError(t, rec.Process(context.Background(), body, sig))

	assert.Empty(t, repo.txUpdates)
	assert.Empty(t, store.txCallbacks)
}

func TestInvoiceReconcilerCacheShortCircuit(t *testing.T) {
	db, _ := newServiceDBMock(t)
	store := &mockInvoiceMirrorStore{mirror: &models.GatewayInvoiceMirror{ID: "mir-1", PaymentID: "pay-1"}}
	rec := NewInvoiceReconciler(db, &mockPaymentRepo{}, &mockBillingStore{}, store, &mockDeduper{seen: true}, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-1", "invoice.paid", "BIMBEL-pay-1", 225000)
	require.NoError(t, rec.Process(context.Background(), body, sig))
	assert.Empty(t, store.txCallbacks)
}

func TestInvoiceReconcilerAppliesPaidAndSettlesAllocations(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &mockPaymentRepo{
		payment: &models.Payment{ID: "pay-1", Status: models.PaymentStatusPending, Amount: 450000},
		allocations: []models.PaymentAllocation{
			{PaymentID: "pay-1", BillingPeriodID: "bp-jan", Amount: 225000},
			{PaymentID: "pay-1", BillingPeriodID: "bp-feb", Amount: 225000},
		},
	}
	billing := &mockBillingStore{}
	store := &mockInvoiceMirrorStore{mirror: &models.GatewayInvoiceMirror{ID: "mir-1", PaymentID: "pay-1"}}
	audit := &mockAuditLogger{}
	rec := NewInvoiceReconciler(db, repo, billing, store, nil, audit, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-paid", "invoice.paid", "BIMBEL-pay-1", 450000)
	require.NoError(t, rec.Process(context.Background(), body, sig))

	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusPaid}, repo.txUpdates)
	assert.Equal(t, []string{"PAID"}, store.mirrorStatuses)
	require.Len(t, store.txCallbacks, 1)
	assert.Equal(t, "evt-paid", store.txCallbacks[0].EventID)
	assert.ElementsMatch(t, []string{"bp-jan", "bp-feb"}, billing.settled)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionPaymentReconcile, audit.entries[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceReconcilerStaleEventRecordedWithoutTransition(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &mockPaymentRepo{payment: &models.Payment{ID: "pay-1", Status: models.PaymentStatusPaid, Amount: 225000}}
	store := &mockInvoiceMirrorStore{mirror: &models.GatewayInvoiceMirror{ID: "mir-1", PaymentID: "pay-1"}}
	rec := NewInvoiceReconciler(db, repo, &mockBillingStore{}, store, nil, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-late", "invoice.pending", "BIMBEL-pay-1", 0)
	require.NoError(t, rec.Process(context.Background(), body, sig))

	assert.Empty(t, repo.txUpdates)
	assert.Empty(t, store.mirrorStatuses)
	require.Len(t, store.txCallbacks, 1)
	assert.Equal(t, "evt-late", store.txCallbacks[0].EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceReconcilerAmountMismatchStillSettles(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &mockPaymentRepo{
		payment:     &models.Payment{ID: "pay-1", Status: models.PaymentStatusPending, Amount: 225000},
		allocations: []models.PaymentAllocation{{PaymentID: "pay-1", BillingPeriodID: "bp-1", Amount: 225000}},
	}
	billing := &mockBillingStore{}
	store := &mockInvoiceMirrorStore{mirror: &models.GatewayInvoiceMirror{ID: "mir-1", PaymentID: "pay-1"}}
	audit := &mockAuditLogger{}
	rec := NewInvoiceReconciler(db, repo, billing, store, nil, audit, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-off", "invoice.paid", "BIMBEL-pay-1", 100000)
	require.NoError(t, rec.Process(context.Background(), body, sig))

	// The allocated amount wins; the reported figure only lands in the audit trail.
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusPaid}, repo.txUpdates)
	assert.Equal(t, []string{"bp-1"}, billing.settled)
	require.Len(t, store.txCallbacks, 1)
	assert.Equal(t, "evt-off", store.txCallbacks[0].EventID)

	var actions []string
	for _, e := range audit.entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, models.AuditActionPaymentAmountMismatch)
	assert.Contains(t, actions, models.AuditActionPaymentReconcile)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceReconcilerSettledAfterPaidUpgrades(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &mockPaymentRepo{
		payment:     &models.Payment{ID: "pay-1", Status: models.PaymentStatusPending, Amount: 225000},
		allocations: []models.PaymentAllocation{{PaymentID: "pay-1", BillingPeriodID: "bp-1", Amount: 225000}},
	}
	billing := &mockBillingStore{}
	store := &mockInvoiceMirrorStore{mirror: &models.GatewayInvoiceMirror{ID: "mir-1", PaymentID: "pay-1"}}
	rec := NewInvoiceReconciler(db, repo, billing, store, nil, nil, nil,
		InvoiceReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedInvoiceBody("evt-settled", "invoice.settled", "BIMBEL-pay-1", 225000)
	require.NoError(t, rec.Process(context.Background(), body, sig))

	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusSettled}, repo.txUpdates)
	assert.Equal(t, []string{"bp-1"}, billing.settled)
	require.NoError(t, mock.ExpectationsWereMet())
}

package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
)

func signedDisbursementBody(eventID, event, externalID string, amount int64, failureCode string) ([]byte, string) {
	body := []byte(fmt.Sprintf(
		`{"event_id":%q,"event":%q,"disbursement_id":"gw-dsb-1","external_id":%q,"status":"x","amount":%d,"failure_code":%q}`,
		eventID, event, externalID, amount, failureCode))
	return body, gatewayclient.Signature(testCallbackSecret, body)
}

func disbursementFixture(batchID *string) *mockDisbursementRepo {
	return &mockDisbursementRepo{
		disbursement: &models.PayrollDisbursement{
			ID:                "d-1",
			PayrollID:         "pr-1",
			BatchID:           batchID,
			Amount:            225000,
			Status:            models.DisbursementStatusProcessing,
			ExternalReference: "BIMBEL-DSB-d-1",
		},
		mirror: &models.GatewayDisbursementMirror{
			ID:                    "mir-1",
			DisbursementID:        "d-1",
			GatewayDisbursementID: "gw-dsb-1",
			ExternalReference:     "BIMBEL-DSB-d-1",
			LastStatus:            "PROCESSING",
		},
	}
}

func TestDisbursementReconcilerRejectsBadSignature(t *testing.T) {
	db, _ := newServiceDBMock(t)
	reconciler := NewDisbursementReconciler(db, &mockDisbursementRepo{}, newMockDisbursementPayrolls(), nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, _ := signedDisbursementBody("evt-1", "disbursement.completed", "BIMBEL-DSB-d-1", 225000, "")
	err := reconciler.Process(context.Background(), body, "bogus")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSignature.Code, appErrors.FromError(err).Code)
}

func TestDisbursementReconcilerRejectsMissingFields(t *testing.T) {
	db, _ := newServiceDBMock(t)
	reconciler := NewDisbursementReconciler(db, &mockDisbursementRepo{}, newMockDisbursementPayrolls(), nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body := []byte(`{"event":"disbursement.completed"}`)
	err := reconciler.Process(context.Background(), body, gatewayclient.Signature(testCallbackSecret, body))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDisbursementReconcilerIgnoresUnknownEventType(t *testing.T) {
	db, _ := newServiceDBMock(t)
	repo := disbursementFixture(nil)
	reconciler := NewDisbursementReconciler(db, repo, newMockDisbursementPayrolls(), nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-1", "disbursement.refunded", "BIMBEL-DSB-d-1", 225000, "")
	require.NoError(t, reconciler.Process(context.Background(), body, sig))
	assert.Empty(t, repo.statusUpdates)
	assert.Empty(t, repo.txCallbacks)
}

func TestDisbursementReconcilerUnknownReference(t *testing.T) {
	db, _ := newServiceDBMock(t)
	reconciler := NewDisbursementReconciler(db, &mockDisbursementRepo{}, newMockDisbursementPayrolls(), nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-1", "disbursement.completed", "BIMBEL-DSB-nope", 225000, "")
	err := reconciler.Process(context.Background(), body, sig)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnknownReference.Code, appErrors.FromError(err).Code)
}

func TestDisbursementReconcilerDuplicateEventIsNoOp(t *testing.T) {
	db, _ := newServiceDBMock(t)
	repo := disbursementFixture(nil)
	repo.ledgerSeen = true
	reconciler := NewDisbursementReconciler(db, repo, newMockDisbursementPayrolls(), nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-1", "disbursement.completed", "BIMBEL-DSB-d-1", 225000, "")
	require.NoError(t, reconciler.Process(context.Background(), body, sig))
	assert.Empty(t, repo.statusUpdates)
	assert.Empty(t, repo.txCallbacks)
}

func TestDisbursementReconcilerCacheShortCircuit(t *testing.T) {
	db, _ := newServiceDBMock(t)
	repo := disbursementFixture(nil)
	reconciler := NewDisbursementReconciler(db, repo, newMockDisbursementPayrolls(), &mockDeduper{seen: true}, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-1", "disbursement.completed", "BIMBEL-DSB-d-1", 225000, "")
	require.NoError(t, reconciler.Process(context.Background(), body, sig))
	assert.Empty(t, repo.txCallbacks)
}

func TestDisbursementReconcilerCompletedMarksPayrollDone(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := disbursementFixture(nil)
	payrolls := newMockDisbursementPayrolls()
	audit := &mockAuditLogger{}
	reconciler := NewDisbursementReconciler(db, repo, payrolls, nil, audit, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-1", "disbursement.completed", "BIMBEL-DSB-d-1", 225000, "")
	require.NoError(t, reconciler.Process(context.Background(), body, sig))

	require.Equal(t, []models.DisbursementStatus{models.DisbursementStatusCompleted}, repo.statusUpdates)
	assert.Equal(t, []string{"COMPLETED"}, repo.mirrorStatuses)
	require.Len(t, repo.txCallbacks, 1)
	assert.Equal(t, "evt-1", repo.txCallbacks[0].EventID)
	assert.Equal(t, models.PayrollStatusDone, payrolls.txUpdates["pr-1"])
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionDisbursementRecheck, audit.entries[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementReconcilerFailedCarriesFailureCode(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := disbursementFixture(nil)
	payrolls := newMockDisbursementPayrolls()
	reconciler := NewDisbursementReconciler(db, repo, payrolls, nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-1", "disbursement.failed", "BIMBEL-DSB-d-1", 225000, "INSUFFICIENT_BALANCE")
	require.NoError(t, reconciler.Process(context.Background(), body, sig))

	require.Equal(t, []models.DisbursementStatus{models.DisbursementStatusFailed}, repo.statusUpdates)
	require.Len(t, repo.failureCodes, 1)
	require.NotNil(t, repo.failureCodes[0])
	assert.Equal(t, "INSUFFICIENT_BALANCE", *repo.failureCodes[0])
	assert.Equal(t, models.PayrollStatusFailed, payrolls.txUpdates["pr-1"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementReconcilerRecomputesBatchStatus(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	batchID := "batch-1"
	repo := disbursementFixture(&batchID)
	repo.batchMembers = []models.PayrollDisbursement{
		{ID: "d-1", Status: models.DisbursementStatusCompleted},
		{ID: "d-2", Status: models.DisbursementStatusCompleted},
	}
	reconciler := NewDisbursementReconciler(db, repo, newMockDisbursementPayrolls(), nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-1", "disbursement.completed", "BIMBEL-DSB-d-1", 225000, "")
	require.NoError(t, reconciler.Process(context.Background(), body, sig))

	assert.Equal(t, []models.DisbursementStatus{models.DisbursementStatusCompleted}, repo.batchStatuses)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisbursementReconcilerStaleEventRecordedWithoutTransition(t *testing.T) {
	db, mock := newServiceDBMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := disbursementFixture(nil)
	repo.disbursement.Status = models.DisbursementStatusCompleted
	payrolls := newMockDisbursementPayrolls()
	reconciler := NewDisbursementReconciler(db, repo, payrolls, nil, nil, nil, DisbursementReconcilerConfig{CallbackSecret: testCallbackSecret})

	body, sig := signedDisbursementBody("evt-2", "disbursement.processing", "BIMBEL-DSB-d-1", 225000, "")
	require.NoError(t, reconciler.Process(context.Background(), body, sig))

	assert.Empty(t, repo.statusUpdates)
	assert.Empty(t, repo.mirrorStatuses)
	require.Len(t, repo.txCallbacks, 1)
	assert.Empty(t, payrolls.txUpdates)
	require.NoError(t, mock.ExpectationsWereMet())
}

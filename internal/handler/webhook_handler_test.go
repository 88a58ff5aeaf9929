package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
)

type callbackProcessorMock struct {
	err    error
	bodies [][]byte
	sigs   []string
}

func (m *callbackProcessorMock) Process(ctx context.Context, rawBody []byte, signature string) error {
	m.bodies = append(m.bodies, rawBody)
	m.sigs = append(m.sigs, signature)
	return m.err
}

func postCallback(t *testing.T, handler gin.HandlerFunc, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodPost, "/webhooks/invoice", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(CallbackTokenHeader, signature)
	}
	c.Request = req
	handler(c)
	return w
}

func TestWebhookInvoiceAcksAppliedEvent(t *testing.T) {
	invoices := &callbackProcessorMock{}
	handler := NewWebhookHandler(invoices, &callbackProcessorMock{}, nil, nil)

	w := postCallback(t, handler.Invoice, `{"event_id":"evt-1"}`, "sig-1")

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, invoices.bodies, 1)
	assert.JSONEq(t, `{"event_id":"evt-1"}`, string(invoices.bodies[0]))
	assert.Equal(t, []string{"sig-1"}, invoices.sigs)
}

func TestWebhookInvoiceRejectsInvalidSignature(t *testing.T) {
	invoices := &callbackProcessorMock{err: appErrors.Clone(appErrors.ErrInvalidSignature, "")}
	handler := NewWebhookHandler(invoices, &callbackProcessorMock{}, nil, nil)

	w := postCallback(t, handler.Invoice, `{"event_id":"evt-1"}`, "bogus")

	assert.Equal(t, appErrors.ErrInvalidSignature.Status, w.Code)
}

func TestWebhookInvoiceRefusesUnknownReference(t *testing.T) {
	// The callback may arrive before the invoice mirror is persisted;
	// a non-2xx makes the gateway redeliver once the row exists.
	invoices := &callbackProcessorMock{err: appErrors.Clone(appErrors.ErrUnknownReference, "no payment for reference")}
	handler := NewWebhookHandler(invoices, &callbackProcessorMock{}, nil, nil)

	w := postCallback(t, handler.Invoice, `{"event_id":"evt-1"}`, "sig-1")

	assert.Equal(t, appErrors.ErrUnknownReference.Status, w.Code)
}

func TestWebhookInvoiceRefusesInternalFailure(t *testing.T) {
	invoices := &callbackProcessorMock{err: appErrors.Clone(appErrors.ErrInternal, "ledger unavailable")}
	handler := NewWebhookHandler(invoices, &callbackProcessorMock{}, nil, nil)

	w := postCallback(t, handler.Invoice, `{"event_id":"evt-1"}`, "sig-1")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookInvoiceAcksMalformedVerifiedEvent(t *testing.T) {
	// Redelivery of a malformed verified payload would fail identically,
	// so the gateway still gets a 200.
	invoices := &callbackProcessorMock{err: appErrors.Clone(appErrors.ErrValidation, "callback missing event_id")}
	handler := NewWebhookHandler(invoices, &callbackProcessorMock{}, nil, nil)

	w := postCallback(t, handler.Invoice, `{"event":"invoice.paid"}`, "sig-1")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookDisbursementRoutesToDisbursementProcessor(t *testing.T) {
	invoices := &callbackProcessorMock{}
	disbursements := &callbackProcessorMock{}
	handler := NewWebhookHandler(invoices, disbursements, nil, nil)

	w := postCallback(t, handler.Disbursement, `{"event_id":"evt-9"}`, "sig-9")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, invoices.bodies)
	require.Len(t, disbursements.bodies, 1)
}

package gatewayclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateInvoiceSendsAuthAndParsesResponse(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"inv-1","external_id":"pay-abc","status":"PENDING","amount":225000,"invoice_url":"https://checkout/inv-1"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "key-123"})
	inv, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{
		ExternalReference: "pay-abc",
		Amount:            225000,
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer key-123", gotAuth)
	require.Equal(t, "/v1/invoices", gotPath)
	require.Equal(t, "inv-1", inv.ID)
	require.Equal(t, "https://checkout/inv-1", inv.CheckoutURL)
	require.Equal(t, "PENDING", inv.Status)
}

func TestCreateInvoiceRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"inv-2","status":"PENDING"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k", MaxRetries: 3, RetryBackoff: time.Millisecond})
	inv, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{ExternalReference: "pay-x", Amount: 1000})
	require.NoError(t, err)
	require.Equal(t, "inv-2", inv.ID)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCreateInvoicePermanentErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"INVALID_AMOUNT","message":"amount must be positive"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k", MaxRetries: 3, RetryBackoff: time.Millisecond})
	_, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{ExternalReference: "pay-y", Amount: -1})
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	require.Equal(t, "INVALID_AMOUNT", apiErr.Code)
	require.False(t, IsTransient(err))
}

func TestCreateBatchDisbursement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/batch_disbursements", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"batch-1","reference":"bd-ref","status":"UPLOADED","total_uploaded_amount":450000,"total_uploaded_count":2}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"})
	batch, err := client.CreateBatchDisbursement(context.Background(), CreateBatchDisbursementRequest{
		Reference: "bd-ref",
		Items: []BatchDisbursementItem{
			{Reference: "disb-1", Amount: 225000, BankCode: "BCA", AccountNumber: "123", AccountHolder: "A"},
			{Reference: "disb-2", Amount: 225000, BankCode: "BNI", AccountNumber: "456", AccountHolder: "B"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "batch-1", batch.ID)
	require.Equal(t, 2, batch.TotalCount)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	sig := Signature("secret", body)

	require.True(t, VerifySignature("secret", body, sig))
	require.True(t, VerifySignature("secret", body, "secret"), "static token mode")
	require.False(t, VerifySignature("secret", body, "tampered"))
	require.False(t, VerifySignature("secret", []byte(`{"id":"evt-2"}`), sig))
	require.False(t, VerifySignature("secret", body, ""))
}

package gatewayclient

import (
	"context"
	"net/http"
)

// CreateDisbursementRequest is the outbound single-transfer payload.
type CreateDisbursementRequest struct {
	ExternalReference string `json:"external_id"`
	Amount            int64  `json:"amount"`
	BankCode          string `json:"bank_code"`
	AccountNumber     string `json:"account_number"`
	AccountHolder     string `json:"account_holder_name"`
	Description       string `json:"description,omitempty"`
}

// Disbursement is the gateway's view of an outbound transfer.
type Disbursement struct {
	ID          string `json:"id"`
	ExternalID  string `json:"external_id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	FailureCode string `json:"failure_code,omitempty"`
}

// CreateDisbursement submits one transfer.
func (c *Client) CreateDisbursement(ctx context.Context, req CreateDisbursementRequest) (*Disbursement, error) {
	var d Disbursement
	if err := c.do(ctx, http.MethodPost, "/v1/disbursements", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// BatchDisbursementItem is one transfer inside a batch call.
type BatchDisbursementItem struct {
	Reference     string `json:"external_id"`
	Amount        int64  `json:"amount"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder_name"`
}

// CreateBatchDisbursementRequest groups several transfers into one call.
type CreateBatchDisbursementRequest struct {
	Reference string                  `json:"reference"`
	Items     []BatchDisbursementItem `json:"disbursements"`
}

// BatchDisbursement is the gateway's acknowledgment of a batch.
type BatchDisbursement struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_uploaded_amount"`
	TotalCount  int    `json:"total_uploaded_count"`
}

// CreateBatchDisbursement submits a batch of transfers. The gateway reports
// per-item outcomes asynchronously via disbursement callbacks carrying the
// per-item external references.
func (c *Client) CreateBatchDisbursement(ctx context.Context, req CreateBatchDisbursementRequest) (*BatchDisbursement, error) {
	var b BatchDisbursement
	if err := c.do(ctx, http.MethodPost, "/v1/batch_disbursements", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

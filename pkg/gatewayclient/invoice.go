package gatewayclient

import (
	"context"
	"net/http"
	"time"
)

// CreateInvoiceRequest is the outbound invoice-creation payload.
type CreateInvoiceRequest struct {
	ExternalReference string   `json:"external_id"`
	Amount            int64    `json:"amount"`
	Description       string   `json:"description,omitempty"`
	PayerEmail        string   `json:"payer_email,omitempty"`
	PaymentMethods    []string `json:"payment_methods,omitempty"`
	InvoiceDuration   int64    `json:"invoice_duration,omitempty"` // seconds
}

// Invoice is the gateway's view of a created invoice.
type Invoice struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	CheckoutURL string    `json:"invoice_url"`
	ExpiresAt   time.Time `json:"expiry_date"`
}

// CreateInvoice registers an invoice with the gateway.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", req, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ExpireInvoice asks the gateway to expire an open invoice, used when a
// billing period is re-billed before the old checkout link lapses.
func (c *Client) ExpireInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, http.MethodPost, "/v1/invoices/"+invoiceID+"/expire", struct{}{}, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/service"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/response"
)

// CallbackTokenHeader carries the gateway's HMAC signature (or static
// callback token) on webhook deliveries.
const CallbackTokenHeader = "X-Callback-Token"

type callbackProcessor interface {
	Process(ctx context.Context, rawBody []byte, signature string) error
}

// WebhookHandler receives payment-gateway callbacks. Verified events are
// acknowledged with 200 when they are applied, already processed or
// malformed beyond repair. Invalid signatures, unknown references and
// internal failures are refused so the gateway redelivers; a callback can
// race the mirror insert that follows invoice creation, and the retry is
// what closes that window.
type WebhookHandler struct {
	invoices      callbackProcessor
	disbursements callbackProcessor
	metrics       *service.MetricsService
	logger        *zap.Logger
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(invoices, disbursements callbackProcessor, metrics *service.MetricsService, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		invoices:      invoices,
		disbursements: disbursements,
		metrics:       metrics,
		logger:        logger,
	}
}

// Invoice godoc
// @Summary Invoice status callback
// @Description Receives invoice webhook events from the payment gateway
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Callback-Token header string true "HMAC signature"
// @Success 200 {object} map[string]string
// @Failure 401 {object} response.Envelope
// @Router /webhooks/invoice [post]
func (h *WebhookHandler) Invoice(c *gin.Context) {
	h.handle(c, "invoice", h.invoices.Process)
}

// Disbursement godoc
// @Summary Disbursement status callback
// @Description Receives disbursement webhook events from the payment gateway
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Callback-Token header string true "HMAC signature"
// @Success 200 {object} map[string]string
// @Failure 401 {object} response.Envelope
// @Router /webhooks/disbursement [post]
func (h *WebhookHandler) Disbursement(c *gin.Context) {
	h.handle(c, "disbursement", h.disbursements.Process)
}

func (h *WebhookHandler) handle(c *gin.Context, channel string, process func(ctx context.Context, body []byte, signature string) error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.logger.Warn("failed to read callback body",
			zap.String("channel", channel),
			zap.Error(err))
		h.record(channel, "error")
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read callback body"))
		return
	}

	signature := c.GetHeader(CallbackTokenHeader)
	if err := process(c.Request.Context(), body, signature); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			switch appErr.Code {
			case appErrors.ErrInvalidSignature.Code:
				h.logger.Warn("rejected callback with invalid signature",
					zap.String("channel", channel),
					zap.String("ip", c.ClientIP()))
				h.record(channel, "rejected")
				response.Error(c, err)
				return
			case appErrors.ErrValidation.Code:
				// Verified but malformed. Redelivery would fail the same
				// way, so acknowledge and leave it to the operator.
				h.logger.Error("unprocessable callback acknowledged",
					zap.String("channel", channel),
					zap.Error(err))
				h.record(channel, "error")
				response.Ack(c)
				return
			}
		}
		// Unknown reference or internal failure. Refuse so the gateway
		// redelivers; the event may land before its mirror row exists.
		h.logger.Error("callback processing failed",
			zap.String("channel", channel),
			zap.Error(err))
		h.record(channel, "error")
		response.Error(c, err)
		return
	}

	h.record(channel, "applied")
	response.Ack(c)
}

func (h *WebhookHandler) record(channel, result string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(channel, result)
	}
}

// maxCallbackBody guards against oversized webhook payloads.
const maxCallbackBody = 1 << 20

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/internal/service"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/response"
)

// PaymentHandler exposes payment creation and lookup endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// payPeriodBody is the single-period payment payload; the period comes
// from the URL.
type payPeriodBody struct {
	Method     models.PaymentMethod `json:"method" binding:"required"`
	Amount     int64                `json:"amount" binding:"required,gt=0"`
	PayerEmail string               `json:"payer_email"`
}

// Create godoc
// @Summary Collect a one-off enrollment fee
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.CreateEnrollmentFeePaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Create(c *gin.Context) {
	var req service.CreateEnrollmentFeePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	receipt, err := h.payments.PayEnrollmentFee(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// PayPeriod godoc
// @Summary Pay a single billing period
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Billing period ID"
// @Param payload body payPeriodBody true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /billing-periods/{id}/pay [post]
func (h *PaymentHandler) PayPeriod(c *gin.Context) {
	var body payPeriodBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	receipt, err := h.payments.PayPeriods(c.Request.Context(), service.PayPeriodsRequest{
		BillingPeriodIDs: []string{c.Param("id")},
		Method:           body.Method,
		Amount:           body.Amount,
		PayerEmail:       body.PayerEmail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// BatchPay godoc
// @Summary Pay several billing periods with one payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.PayPeriodsRequest true "Batch payment payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /billing-periods/batch-pay [post]
func (h *PaymentHandler) BatchPay(c *gin.Context) {
	var req service.PayPeriodsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	receipt, err := h.payments.PayPeriods(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// Get godoc
// @Summary Get payment detail
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	receipt, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, receipt, nil)
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param kind query string false "Filter by kind"
// @Param method query string false "Filter by method"
// @Param status query string false "Filter by status"
// @Param enrollmentId query string false "Filter by enrollment"
// @Param from query string false "Created from (2006-01-02)"
// @Param to query string false "Created to (2006-01-02)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	filter := paymentFilterFromQuery(c)
	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

func paymentFilterFromQuery(c *gin.Context) models.PaymentFilter {
	var filter models.PaymentFilter
	filter.Kind = models.PaymentKind(c.Query("kind"))
	filter.Method = models.PaymentMethod(c.Query("method"))
	filter.Status = models.PaymentStatus(c.Query("status"))
	filter.EnrollmentID = c.Query("enrollmentId")
	if from := c.Query("from"); from != "" {
		if ts, err := time.ParseInLocation("2006-01-02", from, time.UTC); err == nil {
			filter.From = &ts
		}
	}
	if to := c.Query("to"); to != "" {
		if ts, err := time.ParseInLocation("2006-01-02", to, time.UTC); err == nil {
			filter.To = &ts
		}
	}
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}

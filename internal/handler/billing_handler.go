package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/internal/service"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/response"
)

// BillingHandler exposes billing-period endpoints.
type BillingHandler struct {
	billing *service.BillingService
}

// NewBillingHandler constructs BillingHandler.
func NewBillingHandler(billing *service.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// List godoc
// @Summary List billing periods
// @Tags Billing
// @Produce json
// @Param enrollmentId query string false "Filter by enrollment"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param month query int false "Period month"
// @Param year query int false "Period year"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /billing-periods [get]
func (h *BillingHandler) List(c *gin.Context) {
	var filter models.BillingPeriodFilter
	filter.EnrollmentID = c.Query("enrollmentId")
	filter.StudentID = c.Query("studentId")
	filter.Status = models.BillingPeriodStatus(c.Query("status"))
	if month, err := strconv.Atoi(c.Query("month")); err == nil {
		filter.Month = month
	}
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	periods, pagination, err := h.billing.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, periods, pagination)
}

// Generate godoc
// @Summary Generate billing periods for an enrollment
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.GeneratePeriodsRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Router /billing-periods/generate [post]
func (h *BillingHandler) Generate(c *gin.Context) {
	var req service.GeneratePeriodsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	periods, err := h.billing.GeneratePeriods(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, periods)
}

// ApplyVoucher godoc
// @Summary Apply a voucher to an unpaid billing period
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Billing period ID"
// @Param payload body service.ApplyVoucherRequest true "Voucher payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /billing-periods/{id}/voucher [post]
func (h *BillingHandler) ApplyVoucher(c *gin.Context) {
	var req service.ApplyVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	period, err := h.billing.ApplyVoucher(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, period, nil)
}

// Summary godoc
// @Summary Outstanding billing summary for a student
// @Tags Billing
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/billing-summary [get]
func (h *BillingHandler) Summary(c *gin.Context) {
	summary, err := h.billing.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

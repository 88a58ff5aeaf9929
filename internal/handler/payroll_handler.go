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

// PayrollHandler exposes payroll generation and lookup endpoints.
type PayrollHandler struct {
	payrolls *service.PayrollService
}

// NewPayrollHandler constructs PayrollHandler.
func NewPayrollHandler(payrolls *service.PayrollService) *PayrollHandler {
	return &PayrollHandler{payrolls: payrolls}
}

// Generate godoc
// @Summary Generate payroll for one teacher and period
// @Tags Payroll
// @Accept json
// @Produce json
// @Param payload body service.GeneratePayrollRequest true "Payroll payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payrolls/generate [post]
func (h *PayrollHandler) Generate(c *gin.Context) {
	var req service.GeneratePayrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.payrolls.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// GeneratePeriod godoc
// @Summary Generate payroll drafts for every active teacher
// @Tags Payroll
// @Accept json
// @Produce json
// @Param payload body service.GeneratePeriodPayrollRequest true "Period payload"
// @Success 201 {object} response.Envelope
// @Router /payrolls/generate-period [post]
func (h *PayrollHandler) GeneratePeriod(c *gin.Context) {
	var req service.GeneratePeriodPayrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	records, err := h.payrolls.GeneratePeriod(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, records)
}

// Preview godoc
// @Summary Compute payroll without persisting
// @Tags Payroll
// @Accept json
// @Produce json
// @Param payload body service.GeneratePayrollRequest true "Payroll payload"
// @Success 200 {object} response.Envelope
// @Router /payrolls/preview [post]
func (h *PayrollHandler) Preview(c *gin.Context) {
	var req service.GeneratePayrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.payrolls.Compute(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Get godoc
// @Summary Get payroll record detail
// @Tags Payroll
// @Produce json
// @Param id path string true "Payroll ID"
// @Success 200 {object} response.Envelope
// @Router /payrolls/{id} [get]
func (h *PayrollHandler) Get(c *gin.Context) {
	record, err := h.payrolls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// List godoc
// @Summary List payroll records
// @Tags Payroll
// @Produce json
// @Param teacherId query string false "Filter by teacher"
// @Param month query int false "Period month"
// @Param year query int false "Period year"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payrolls [get]
func (h *PayrollHandler) List(c *gin.Context) {
	var filter models.PayrollFilter
	filter.TeacherID = c.Query("teacherId")
	if month, err := strconv.Atoi(c.Query("month")); err == nil {
		filter.Month = month
	}
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	filter.Status = models.PayrollStatus(c.Query("status"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	records, pagination, err := h.payrolls.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

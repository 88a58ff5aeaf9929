package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/internal/service"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/response"
)

// DisbursementHandler exposes outbound transfer endpoints.
type DisbursementHandler struct {
	disbursements *service.DisbursementService
}

// NewDisbursementHandler constructs DisbursementHandler.
func NewDisbursementHandler(disbursements *service.DisbursementService) *DisbursementHandler {
	return &DisbursementHandler{disbursements: disbursements}
}

// Create godoc
// @Summary Disburse one payroll record
// @Tags Disbursements
// @Accept json
// @Produce json
// @Param payload body service.CreateDisbursementRequest true "Disbursement payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /disbursements [post]
func (h *DisbursementHandler) Create(c *gin.Context) {
	var req service.CreateDisbursementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	disbursement, err := h.disbursements.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, disbursement)
}

// CreateBatch godoc
// @Summary Disburse several payroll records in one gateway batch
// @Tags Disbursements
// @Accept json
// @Produce json
// @Param payload body service.CreateBatchDisbursementRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /disbursements/batch [post]
func (h *DisbursementHandler) CreateBatch(c *gin.Context) {
	var req service.CreateBatchDisbursementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.disbursements.CreateBatch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Get godoc
// @Summary Get disbursement detail
// @Tags Disbursements
// @Produce json
// @Param id path string true "Disbursement ID"
// @Success 200 {object} response.Envelope
// @Router /disbursements/{id} [get]
func (h *DisbursementHandler) Get(c *gin.Context) {
	disbursement, err := h.disbursements.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, disbursement, nil)
}

// GetBatch godoc
// @Summary Get batch disbursement detail
// @Tags Disbursements
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /disbursements/batches/{id} [get]
func (h *DisbursementHandler) GetBatch(c *gin.Context) {
	detail, err := h.disbursements.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// List godoc
// @Summary List disbursements
// @Tags Disbursements
// @Produce json
// @Param payrollId query string false "Filter by payroll"
// @Param batchId query string false "Filter by batch"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /disbursements [get]
func (h *DisbursementHandler) List(c *gin.Context) {
	var filter models.DisbursementFilter
	filter.PayrollID = c.Query("payrollId")
	filter.BatchID = c.Query("batchId")
	filter.Status = models.DisbursementStatus(c.Query("status"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	disbursements, pagination, err := h.disbursements.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, disbursements, pagination)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/pkg/database"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
	"github.com/noah-isme/bimbel-adp-api/pkg/jobs"
)

type disbursementRepository interface {
	Create(ctx context.Context, d *models.PayrollDisbursement) error
	FindByID(ctx context.Context, id string) (*models.PayrollDisbursement, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.PayrollDisbursement, error)
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.DisbursementStatus, failureCode *string, completedAt *time.Time) error
	ListByBatchTx(ctx context.Context, tx *sqlx.Tx, batchID string) ([]models.PayrollDisbursement, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.PayrollDisbursement, error)
	List(ctx context.Context, filter models.DisbursementFilter) ([]models.PayrollDisbursement, int, error)
	CreateBatch(ctx context.Context, batch *models.BatchDisbursement, memberIDs []string) error
	FindBatchByID(ctx context.Context, id string) (*models.BatchDisbursement, error)
	SetBatchGatewayID(ctx context.Context, id, gatewayBatchID string, status models.DisbursementStatus) error
	UpdateBatchStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.DisbursementStatus) error
	CreateMirror(ctx context.Context, mirror *models.GatewayDisbursementMirror) error
	FindMirrorByExternalReference(ctx context.Context, ref string) (*models.GatewayDisbursementMirror, error)
	UpdateMirrorStatusTx(ctx context.Context, tx *sqlx.Tx, id, lastStatus string) error
	CallbackSeen(ctx context.Context, eventID string) (bool, error)
	InsertCallbackTx(ctx context.Context, tx *sqlx.Tx, cb *models.GatewayDisbursementCallback) error
}

type disbursementPayrollStore interface {
	FindByID(ctx context.Context, id string) (*models.PayrollRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.PayrollStatus) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.PayrollStatus) error
}

type disbursementGateway interface {
	CreateDisbursement(ctx context.Context, req gatewayclient.CreateDisbursementRequest) (*gatewayclient.Disbursement, error)
	CreateBatchDisbursement(ctx context.Context, req gatewayclient.CreateBatchDisbursementRequest) (*gatewayclient.BatchDisbursement, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// JobTypeSubmitBatch tags queued batch-disbursement submissions.
const JobTypeSubmitBatch = "disbursement.batch.submit"

// DeriveBatchStatus folds member statuses into the batch status. The rule
// is pure so the stored column can always be recomputed: COMPLETED only
// when every member completed, FAILED only when every member failed,
// PENDING while nothing has been submitted, PROCESSING otherwise.
func DeriveBatchStatus(members []models.PayrollDisbursement) models.DisbursementStatus {
	if len(members) == 0 {
		return models.DisbursementStatusPending
	}
	allCompleted, allFailed, allPending := true, true, true
	for _, m := range members {
		if m.Status != models.DisbursementStatusCompleted {
			allCompleted = false
		}
		if m.Status != models.DisbursementStatusFailed {
			allFailed = false
		}
		if m.Status != models.DisbursementStatusPending {
			allPending = false
		}
	}
	switch {
	case allCompleted:
		return models.DisbursementStatusCompleted
	case allFailed:
		return models.DisbursementStatusFailed
	case allPending:
		return models.DisbursementStatusPending
	default:
		return models.DisbursementStatusProcessing
	}
}

// CreateDisbursementRequest pays out one payroll record.
type CreateDisbursementRequest struct {
	PayrollID string `json:"payroll_id" validate:"required"`
}

// CreateBatchDisbursementRequest pays out several payroll records in one
// gateway call.
type CreateBatchDisbursementRequest struct {
	PayrollIDs []string `json:"payroll_ids" validate:"required,min=1,dive,required"`
}

// DisbursementService creates outbound transfers for payroll records.
// Gateway submission happens outside any transaction; batch submission is
// deferred to the jobs queue so the creating request returns quickly.
type DisbursementService struct {
	db        *sqlx.DB
	repo      disbursementRepository
	payrolls  disbursementPayrollStore
	teachers  payrollTeacherReader
	gateway   disbursementGateway
	queue     jobEnqueuer
	audit     paymentAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDisbursementService constructs a DisbursementService.
func NewDisbursementService(db *sqlx.DB, repo disbursementRepository, payrolls disbursementPayrollStore, teachers payrollTeacherReader, gateway disbursementGateway, queue jobEnqueuer, audit paymentAuditLogger, validate *validator.Validate, logger *zap.Logger) *DisbursementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisbursementService{
		db:        db,
		repo:      repo,
		payrolls:  payrolls,
		teachers:  teachers,
		gateway:   gateway,
		queue:     queue,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

func disbursementReference(id string) string {
	return "BIMBEL-DSB-" + id
}

// buildDisbursement validates the payroll record and prepares the local row.
func (s *DisbursementService) buildDisbursement(ctx context.Context, payrollID string) (*models.PayrollDisbursement, error) {
	record, err := s.payrolls.FindByID(ctx, payrollID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payroll record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payroll record")
	}
	if record.Status != models.PayrollStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payroll record already disbursed or in flight")
	}
	if record.NetTotal <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payroll net total must be positive")
	}

	teacher, err := s.teachers.FindByID(ctx, record.TeacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.BankCode == "" || teacher.AccountNumber == "" || teacher.AccountHolder == "" {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "teacher payout account is incomplete")
	}

	id := uuid.NewString()
	return &models.PayrollDisbursement{
		ID:                id,
		PayrollID:         record.ID,
		Amount:            record.NetTotal,
		BankCode:          teacher.BankCode,
		AccountNumber:     teacher.AccountNumber,
		AccountHolder:     teacher.AccountHolder,
		Status:            models.DisbursementStatusPending,
		ExternalReference: disbursementReference(id),
	}, nil
}

// Create pays out one payroll record with a synchronous gateway call.
func (s *DisbursementService) Create(ctx context.Context, req CreateDisbursementRequest) (*models.PayrollDisbursement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid disbursement payload")
	}

	disbursement, err := s.buildDisbursement(ctx, req.PayrollID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, disbursement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create disbursement")
	}
	if err := s.payrolls.UpdateStatus(ctx, disbursement.PayrollID, models.PayrollStatusProcessing); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark payroll processing")
	}

	result, err := s.gateway.CreateDisbursement(ctx, gatewayclient.CreateDisbursementRequest{
		ExternalReference: disbursement.ExternalReference,
		Amount:            disbursement.Amount,
		BankCode:          disbursement.BankCode,
		AccountNumber:     disbursement.AccountNumber,
		AccountHolder:     disbursement.AccountHolder,
		Description:       fmt.Sprintf("Payroll %s", disbursement.PayrollID),
	})
	if err != nil {
		s.logger.Error("gateway disbursement submission failed",
			zap.String("disbursement_id", disbursement.ID),
			zap.Error(err))
		if gatewayclient.IsTransient(err) {
			// The local row stays PENDING; a retry resubmits with the same
			// external reference, which the gateway deduplicates.
			return nil, appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, appErrors.ErrGatewayUnavailable.Message)
		}
		s.markSubmissionFailed(ctx, disbursement, err)
		return nil, appErrors.Wrap(err, appErrors.ErrFailedToCreate.Code, appErrors.ErrFailedToCreate.Status, appErrors.ErrFailedToCreate.Message)
	}

	if err := s.repo.CreateMirror(ctx, &models.GatewayDisbursementMirror{
		DisbursementID:        disbursement.ID,
		GatewayDisbursementID: result.ID,
		ExternalReference:     disbursement.ExternalReference,
		LastStatus:            result.Status,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record disbursement mirror")
	}

	s.logAudit(ctx, models.AuditActionDisbursementCreate, disbursement.ID)
	return disbursement, nil
}

// CreateBatch groups payroll records into one batch and defers the gateway
// call to the jobs queue, so submission happens strictly after the local
// rows are committed.
func (s *DisbursementService) CreateBatch(ctx context.Context, req CreateBatchDisbursementRequest) (*models.BatchDisbursementDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}

	members := make([]models.PayrollDisbursement, 0, len(req.PayrollIDs))
	memberIDs := make([]string, 0, len(req.PayrollIDs))
	var total int64
	for _, payrollID := range req.PayrollIDs {
		disbursement, err := s.buildDisbursement(ctx, payrollID)
		if err != nil {
			return nil, err
		}
		if err := s.repo.Create(ctx, disbursement); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create disbursement")
		}
		if err := s.payrolls.UpdateStatus(ctx, payrollID, models.PayrollStatusProcessing); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark payroll processing")
		}
		members = append(members, *disbursement)
		memberIDs = append(memberIDs, disbursement.ID)
		total += disbursement.Amount
	}

	batch := &models.BatchDisbursement{
		ID:          uuid.NewString(),
		TotalAmount: total,
		Status:      models.DisbursementStatusPending,
	}
	batch.Reference = "BIMBEL-BATCH-" + batch.ID
	if err := s.repo.CreateBatch(ctx, batch, memberIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{
			ID:      batch.ID,
			Type:    JobTypeSubmitBatch,
			Payload: batch.ID,
		}); err != nil {
			s.logger.Error("failed to enqueue batch submission",
				zap.String("batch_id", batch.ID),
				zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule batch submission")
		}
	} else if err := s.SubmitBatch(ctx, batch.ID); err != nil {
		return nil, err
	}

	s.logAudit(ctx, models.AuditActionDisbursementCreate, batch.ID)
	batchID := batch.ID
	for i := range members {
		members[i].BatchID = &batchID
	}
	detail := models.BatchDisbursementDetail{BatchDisbursement: *batch, Members: members}
	return &detail, nil
}

// SubmitBatch sends a created batch to the gateway. Invoked by the jobs
// queue handler; the queue retries transient failures with backoff.
func (s *DisbursementService) SubmitBatch(ctx context.Context, batchID string) error {
	batch, err := s.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch %s: %w", batchID, err)
	}
	if batch.GatewayBatchID != nil {
		s.logger.Info("batch already submitted", zap.String("batch_id", batchID))
		return nil
	}

	members, err := s.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch members: %w", err)
	}

	items := make([]gatewayclient.BatchDisbursementItem, 0, len(members))
	for _, m := range members {
		items = append(items, gatewayclient.BatchDisbursementItem{
			Reference:     m.ExternalReference,
			Amount:        m.Amount,
			BankCode:      m.BankCode,
			AccountNumber: m.AccountNumber,
			AccountHolder: m.AccountHolder,
		})
	}

	result, err := s.gateway.CreateBatchDisbursement(ctx, gatewayclient.CreateBatchDisbursementRequest{
		Reference: batch.Reference,
		Items:     items,
	})
	if err != nil {
		if gatewayclient.IsTransient(err) {
			return fmt.Errorf("submit batch %s: %w", batchID, err)
		}
		for i := range members {
			s.markSubmissionFailed(ctx, &members[i], err)
		}
		if setErr := s.repo.SetBatchGatewayID(ctx, batchID, "", models.DisbursementStatusFailed); setErr != nil {
			s.logger.Error("failed to mark batch failed", zap.String("batch_id", batchID), zap.Error(setErr))
		}
		s.logger.Error("gateway rejected batch submission",
			zap.String("batch_id", batchID),
			zap.Error(err))
		return nil
	}

	if err := s.repo.SetBatchGatewayID(ctx, batchID, result.ID, models.DisbursementStatusProcessing); err != nil {
		return fmt.Errorf("record gateway batch id: %w", err)
	}
	for _, m := range members {
		if err := s.repo.CreateMirror(ctx, &models.GatewayDisbursementMirror{
			DisbursementID:    m.ID,
			ExternalReference: m.ExternalReference,
			LastStatus:        result.Status,
		}); err != nil {
			s.logger.Error("failed to record disbursement mirror",
				zap.String("disbursement_id", m.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("batch submitted",
		zap.String("batch_id", batchID),
		zap.String("gateway_batch_id", result.ID),
		zap.Int("members", len(members)))
	return nil
}

// markSubmissionFailed records a permanent gateway rejection.
func (s *DisbursementService) markSubmissionFailed(ctx context.Context, d *models.PayrollDisbursement, cause error) {
	code := "SUBMISSION_REJECTED"
	var apiErr *gatewayclient.APIError
	if errors.As(cause, &apiErr) && apiErr.Code != "" {
		code = apiErr.Code
	}
	err := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.repo.UpdateStatusTx(ctx, tx, d.ID, models.DisbursementStatusFailed, &code, nil); err != nil {
			return err
		}
		return s.payrolls.UpdateStatusTx(ctx, tx, d.PayrollID, models.PayrollStatusFailed)
	})
	if err != nil {
		s.logger.Error("failed to mark disbursement failed",
			zap.String("disbursement_id", d.ID),
			zap.Error(err))
	}
}

// Get returns one disbursement.
func (s *DisbursementService) Get(ctx context.Context, id string) (*models.PayrollDisbursement, error) {
	disbursement, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "disbursement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load disbursement")
	}
	return disbursement, nil
}

// GetBatch returns a batch with its members and freshly derived status.
func (s *DisbursementService) GetBatch(ctx context.Context, id string) (*models.BatchDisbursementDetail, error) {
	batch, err := s.repo.FindBatchByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	members, err := s.repo.ListByBatch(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch members")
	}
	batch.Status = DeriveBatchStatus(members)
	detail := models.BatchDisbursementDetail{BatchDisbursement: *batch, Members: members}
	return &detail, nil
}

// List returns disbursements with pagination metadata.
func (s *DisbursementService) List(ctx context.Context, filter models.DisbursementFilter) ([]models.PayrollDisbursement, *models.Pagination, error) {
	disbursements, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list disbursements")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return disbursements, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *DisbursementService) logAudit(ctx context.Context, action, resourceID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "disbursement",
		ResourceID: &resourceID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write disbursement audit log", zap.Error(err))
	}
}

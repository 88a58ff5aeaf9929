package service

import (
	"context"
	"database/sql"
	"math"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/pkg/config"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
)

type payrollRepository interface {
	Upsert(ctx context.Context, record *models.PayrollRecord) error
	FindByID(ctx context.Context, id string) (*models.PayrollRecord, error)
	FindByTeacherPeriod(ctx context.Context, teacherID string, month, year int) (*models.PayrollRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.PayrollStatus) error
	SumPresentCreditUnits(ctx context.Context, teacherID string, month, year int) (float64, error)
	List(ctx context.Context, filter models.PayrollFilter) ([]models.PayrollDetail, int, error)
}

type payrollTeacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	ListActive(ctx context.Context) ([]models.Teacher, error)
}

// GeneratePayrollRequest asks for one teacher/period computation.
type GeneratePayrollRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
	Month     int    `json:"month" validate:"required,min=1,max=12"`
	Year      int    `json:"year" validate:"required,min=2000"`
	Incentive int64  `json:"incentive" validate:"min=0"`
	Deduction int64  `json:"deduction" validate:"min=0"`
}

// GeneratePeriodPayrollRequest runs payroll for every active teacher.
type GeneratePeriodPayrollRequest struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000"`
}

// PayrollServiceConfig tunes salary computation.
type PayrollServiceConfig struct {
	DefaultRatePerUnit int64
	Rounding           config.RoundingPolicy
	BillPartialUnits   bool
}

// PayrollService computes teacher salaries from attendance. Base pay derives
// only from sessions marked PRESENT; a session can never reduce pay.
type PayrollService struct {
	repo      payrollRepository
	teachers  payrollTeacherReader
	audit     paymentAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PayrollServiceConfig
}

// NewPayrollService constructs a PayrollService.
func NewPayrollService(repo payrollRepository, teachers payrollTeacherReader, audit paymentAuditLogger, validate *validator.Validate, logger *zap.Logger, cfg PayrollServiceConfig) *PayrollService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Rounding == "" {
		cfg.Rounding = config.RoundHalfUp
	}
	return &PayrollService{repo: repo, teachers: teachers, audit: audit, validator: validate, logger: logger, cfg: cfg}
}

// billableUnits converts summed credit units into the units actually paid.
// With partial billing on, fractional units are paid exactly; otherwise the
// configured rounding policy applies.
func (s *PayrollService) billableUnits(units float64) float64 {
	if s.cfg.BillPartialUnits {
		return units
	}
	switch s.cfg.Rounding {
	case config.RoundFloor:
		return math.Floor(units)
	case config.RoundCeil:
		return math.Ceil(units)
	default:
		return math.Floor(units + 0.5)
	}
}

// Compute previews the salary for one teacher and period without persisting.
func (s *PayrollService) Compute(ctx context.Context, req GeneratePayrollRequest) (*models.PayrollRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payroll payload")
	}

	teacher, err := s.teachers.FindByID(ctx, req.TeacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	units, err := s.repo.SumPresentCreditUnits(ctx, req.TeacherID, req.Month, req.Year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum credit units")
	}

	rate := teacher.RatePerUnit
	if rate <= 0 {
		rate = s.cfg.DefaultRatePerUnit
	}

	billable := s.billableUnits(units)
	basePay := int64(math.Round(billable * float64(rate)))
	record := &models.PayrollRecord{
		TeacherID:   req.TeacherID,
		Month:       req.Month,
		Year:        req.Year,
		CreditUnits: units,
		RatePerUnit: rate,
		BasePay:     basePay,
		Incentive:   req.Incentive,
		Deduction:   req.Deduction,
		NetTotal:    basePay + req.Incentive - req.Deduction,
		Status:      models.PayrollStatusDraft,
	}
	if record.NetTotal < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "deduction exceeds gross pay")
	}
	return record, nil
}

// Generate computes and persists a draft payroll record. Re-running for the
// same period overwrites the draft; records past DRAFT stay untouched.
func (s *PayrollService) Generate(ctx context.Context, req GeneratePayrollRequest) (*models.PayrollRecord, error) {
	record, err := s.Compute(ctx, req)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByTeacherPeriod(ctx, req.TeacherID, req.Month, req.Year)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payroll record")
	}
	if existing != nil {
		if existing.Status != models.PayrollStatusDraft {
			return nil, appErrors.Clone(appErrors.ErrFinalized, "payroll for this period is already processing")
		}
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist payroll record")
	}

	s.logAudit(ctx, record.ID)
	s.logger.Info("payroll generated",
		zap.String("teacher_id", record.TeacherID),
		zap.Int("month", record.Month),
		zap.Int("year", record.Year),
		zap.Float64("credit_units", record.CreditUnits),
		zap.Int64("net_total", record.NetTotal))
	return record, nil
}

// GeneratePeriod runs payroll for every active teacher in one period.
// Teachers with zero present units still get a zero-value draft so the
// period roster is complete.
func (s *PayrollService) GeneratePeriod(ctx context.Context, req GeneratePeriodPayrollRequest) ([]models.PayrollRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payroll payload")
	}

	teachers, err := s.teachers.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}

	records := make([]models.PayrollRecord, 0, len(teachers))
	for _, teacher := range teachers {
		record, err := s.Generate(ctx, GeneratePayrollRequest{
			TeacherID: teacher.ID,
			Month:     req.Month,
			Year:      req.Year,
		})
		if err != nil {
			appErr := appErrors.FromError(err)
			if appErr.Code == appErrors.ErrFinalized.Code {
				s.logger.Info("skipping finalized payroll",
					zap.String("teacher_id", teacher.ID))
				continue
			}
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// Get returns one payroll record.
func (s *PayrollService) Get(ctx context.Context, id string) (*models.PayrollRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payroll record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payroll record")
	}
	return record, nil
}

// List returns payroll records with pagination metadata.
func (s *PayrollService) List(ctx context.Context, filter models.PayrollFilter) ([]models.PayrollDetail, *models.Pagination, error) {
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payroll records")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *PayrollService) logAudit(ctx context.Context, recordID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     models.AuditActionPayrollGenerate,
		Resource:   "payroll_record",
		ResourceID: &recordID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write payroll audit log", zap.Error(err))
	}
}

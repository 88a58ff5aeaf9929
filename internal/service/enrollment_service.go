package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
)

type enrollmentRepository interface {
	Create(ctx context.Context, e *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type enrollmentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type periodGenerator interface {
	GeneratePeriods(ctx context.Context, req GeneratePeriodsRequest) ([]models.BillingPeriod, error)
}

// CreateEnrollmentRequest registers a student into a program.
type CreateEnrollmentRequest struct {
	StudentID     string  `json:"student_id" validate:"required"`
	Program       string  `json:"program" validate:"required"`
	MonthlyFee    int64   `json:"monthly_fee" validate:"required,gt=0"`
	EnrollmentFee int64   `json:"enrollment_fee" validate:"min=0"`
	VoucherID     *string `json:"voucher_id,omitempty"`
}

// ActivateEnrollmentRequest flips a pending enrollment to active and seeds
// its billing periods.
type ActivateEnrollmentRequest struct {
	StartMonth   int `json:"start_month" validate:"required,min=1,max=12"`
	StartYear    int `json:"start_year" validate:"required,min=2000"`
	PeriodsAhead int `json:"periods_ahead" validate:"min=0,max=12"`
}

// EnrollmentService owns the enrollment lifecycle.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  enrollmentStudentReader
	billing   periodGenerator
	audit     paymentAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students enrollmentStudentReader, billing periodGenerator, audit paymentAuditLogger, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		students:  students,
		billing:   billing,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// Create registers a new enrollment in PENDING state. Activation, and with
// it billing, waits until the enrollment fee is settled.
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	enrollment := models.Enrollment{
		StudentID:     req.StudentID,
		Program:       req.Program,
		MonthlyFee:    req.MonthlyFee,
		EnrollmentFee: req.EnrollmentFee,
		VoucherID:     req.VoucherID,
		Status:        models.EnrollmentStatusPending,
		JoinedAt:      time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, &enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if s.audit != nil {
		resourceID := enrollment.ID
		_ = s.audit.CreateAuditLog(ctx, &models.AuditLog{
			Action:     "ENROLLMENT_CREATE",
			Resource:   "enrollment",
			ResourceID: &resourceID,
		})
	}
	return &enrollment, nil
}

// Activate moves a pending or paused enrollment to ACTIVE and generates its
// billing periods from the given start month.
func (s *EnrollmentService) Activate(ctx context.Context, id string, req ActivateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid activation payload")
	}

	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	switch enrollment.Status {
	case models.EnrollmentStatusPending, models.EnrollmentStatusPaused:
	case models.EnrollmentStatusActive:
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is already active")
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment has left the program")
	}

	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusActive); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate enrollment")
	}
	enrollment.Status = models.EnrollmentStatusActive

	count := req.PeriodsAhead
	if count == 0 {
		count = 1
	}
	if s.billing != nil {
		if _, err := s.billing.GeneratePeriods(ctx, GeneratePeriodsRequest{
			EnrollmentID: id,
			StartMonth:   req.StartMonth,
			StartYear:    req.StartYear,
			Count:        count,
		}); err != nil {
			// The enrollment stays active; billing can be re-run since
			// generation skips months that already exist.
			s.logger.Error("failed to generate billing periods on activation",
				zap.String("enrollment_id", id), zap.Error(err))
			return nil, err
		}
	}

	if s.audit != nil {
		resourceID := id
		_ = s.audit.CreateAuditLog(ctx, &models.AuditLog{
			Action:     "ENROLLMENT_ACTIVATE",
			Resource:   "enrollment",
			ResourceID: &resourceID,
		})
	}
	return enrollment, nil
}

// Pause suspends billing for an active enrollment.
func (s *EnrollmentService) Pause(ctx context.Context, id string) (*models.Enrollment, error) {
	return s.transition(ctx, id, models.EnrollmentStatusActive, models.EnrollmentStatusPaused)
}

// Leave marks the enrollment as departed. Outstanding periods stay payable.
func (s *EnrollmentService) Leave(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusLeft {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already left")
	}
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusLeft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	enrollment.Status = models.EnrollmentStatusLeft
	now := time.Now().UTC()
	enrollment.LeftAt = &now
	return enrollment, nil
}

func (s *EnrollmentService) transition(ctx context.Context, id string, from, to models.EnrollmentStatus) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != from {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment cannot transition from "+string(enrollment.Status))
	}
	if err := s.repo.UpdateStatus(ctx, id, to); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	enrollment.Status = to
	return enrollment, nil
}

// Get returns one enrollment.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

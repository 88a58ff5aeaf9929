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

type billingPeriodRepository interface {
	Create(ctx context.Context, period *models.BillingPeriod) error
	FindByID(ctx context.Context, id string) (*models.BillingPeriod, error)
	ExistsForEnrollmentPeriod(ctx context.Context, enrollmentID string, month, year int) (bool, error)
	ApplyDiscount(ctx context.Context, id string, voucherID *string, discount, netTotal int64) error
	List(ctx context.Context, filter models.BillingPeriodFilter) ([]models.BillingPeriodDetail, int, error)
	OutstandingByStudent(ctx context.Context, studentID string, asOf time.Time) (*models.BillingSummary, error)
}

type voucherReader interface {
	FindByID(ctx context.Context, id string) (*models.Voucher, error)
	FindByCode(ctx context.Context, code string) (*models.Voucher, error)
}

type billingEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// GeneratePeriodsRequest creates the billing periods an active enrollment
// owes, starting at the given month.
type GeneratePeriodsRequest struct {
	EnrollmentID string `json:"enrollment_id" validate:"required"`
	StartMonth   int    `json:"start_month" validate:"required,min=1,max=12"`
	StartYear    int    `json:"start_year" validate:"required,min=2000"`
	Count        int    `json:"count" validate:"required,min=1,max=12"`
}

// ApplyVoucherRequest attaches a voucher to an unpaid billing period.
type ApplyVoucherRequest struct {
	Code string `json:"code" validate:"required"`
}

// BillingServiceConfig tunes period generation and summary caching.
type BillingServiceConfig struct {
	Currency        string
	DueDay          int
	SummaryCacheTTL time.Duration
}

// BillingService owns billing periods and voucher application. A discount
// is computed once, when it is attached, and persisted on the period; it is
// never recomputed afterwards.
type BillingService struct {
	repo        billingPeriodRepository
	vouchers    voucherReader
	enrollments billingEnrollmentReader
	cache       summaryCache
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         BillingServiceConfig
}

// NewBillingService constructs a BillingService.
func NewBillingService(repo billingPeriodRepository, vouchers voucherReader, enrollments billingEnrollmentReader, cache summaryCache, validate *validator.Validate, logger *zap.Logger, cfg BillingServiceConfig) *BillingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DueDay < 1 || cfg.DueDay > 28 {
		cfg.DueDay = 10
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 5 * time.Minute
	}
	return &BillingService{
		repo:        repo,
		vouchers:    vouchers,
		enrollments: enrollments,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// GeneratePeriods writes one period per month for the enrollment. Months
// that already have a period are skipped, so the call is idempotent. The
// enrollment's voucher, if still usable, is applied at creation.
func (s *BillingService) GeneratePeriods(ctx context.Context, req GeneratePeriodsRequest) ([]models.BillingPeriod, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period generation payload")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not active")
	}
	if enrollment.MonthlyFee <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment has no monthly fee")
	}

	var voucher *models.Voucher
	if enrollment.VoucherID != nil {
		voucher, err = s.vouchers.FindByID(ctx, *enrollment.VoucherID)
		if err != nil && err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load voucher")
		}
	}

	now := time.Now().UTC()
	month, year := req.StartMonth, req.StartYear
	created := make([]models.BillingPeriod, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		exists, err := s.repo.ExistsForEnrollmentPeriod(ctx, req.EnrollmentID, month, year)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing period")
		}
		if !exists {
			discount := ComputeDiscount(voucher, enrollment.MonthlyFee, now)
			period := models.BillingPeriod{
				EnrollmentID: req.EnrollmentID,
				Month:        month,
				Year:         year,
				Amount:       enrollment.MonthlyFee,
				Discount:     discount,
				NetTotal:     enrollment.MonthlyFee - discount,
				Status:       models.BillingPeriodStatusUnpaid,
				DueDate:      time.Date(year, time.Month(month), s.cfg.DueDay, 0, 0, 0, 0, time.UTC),
			}
			if discount > 0 && voucher != nil {
				voucherID := voucher.ID
				period.VoucherID = &voucherID
			}
			if err := s.repo.Create(ctx, &period); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create billing period")
			}
			created = append(created, period)
		}
		month++
		if month > 12 {
			month = 1
			year++
		}
	}

	s.logger.Info("billing periods generated",
		zap.String("enrollment_id", req.EnrollmentID),
		zap.Int("created", len(created)))
	return created, nil
}

// ApplyVoucher attaches a voucher to an unpaid period and fixes its
// discount. Periods past UNPAID refuse new vouchers.
func (s *BillingService) ApplyVoucher(ctx context.Context, periodID string, req ApplyVoucherRequest) (*models.BillingPeriod, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid voucher payload")
	}

	period, err := s.repo.FindByID(ctx, periodID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "billing period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billing period")
	}

	voucher, err := s.vouchers.FindByCode(ctx, req.Code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "voucher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load voucher")
	}

	now := time.Now().UTC()
	if !voucher.Usable(now) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "voucher is inactive or expired")
	}
	if voucher.Type == models.VoucherTypePercentage && (voucher.Value < 0 || voucher.Value > 100) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "percentage voucher value must be between 0 and 100")
	}

	discount := ComputeDiscount(voucher, period.Amount, now)
	netTotal := period.Amount - discount
	voucherID := voucher.ID
	if err := s.repo.ApplyDiscount(ctx, periodID, &voucherID, discount, netTotal); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "billing period is no longer unpaid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply voucher")
	}

	period.VoucherID = &voucherID
	period.Discount = discount
	period.NetTotal = netTotal
	return period, nil
}

// List returns billing periods with pagination metadata.
func (s *BillingService) List(ctx context.Context, filter models.BillingPeriodFilter) ([]models.BillingPeriodDetail, *models.Pagination, error) {
	periods, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list billing periods")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return periods, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Summary returns the outstanding balance for a student, served from cache
// when fresh.
func (s *BillingService) Summary(ctx context.Context, studentID string) (*models.BillingSummary, error) {
	key := "billing:summary:" + studentID
	if s.cache != nil {
		var cached models.BillingSummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	summary, err := s.repo.OutstandingByStudent(ctx, studentID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute billing summary")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.cfg.SummaryCacheTTL); err != nil {
			s.logger.Warn("failed to cache billing summary", zap.Error(err))
		}
	}
	return summary, nil
}

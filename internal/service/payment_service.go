package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/pkg/database"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
)

type paymentRepository interface {
	Create(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Payment, error)
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.PaymentStatus, paidAt *time.Time) error
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error
	AllocationsByPaymentTx(ctx context.Context, tx *sqlx.Tx, paymentID string) ([]models.PaymentAllocation, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type billingPeriodStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.BillingPeriod, error)
	MarkPendingPayment(ctx context.Context, id, paymentID string) error
	SettleTx(ctx context.Context, tx *sqlx.Tx, id string, status models.BillingPeriodStatus, paymentID string) (bool, error)
}

type invoiceGateway interface {
	CreateInvoice(ctx context.Context, req gatewayclient.CreateInvoiceRequest) (*gatewayclient.Invoice, error)
	ExpireInvoice(ctx context.Context, invoiceID string) (*gatewayclient.Invoice, error)
}

type invoiceMirrorWriter interface {
	CreateMirror(ctx context.Context, mirror *models.GatewayInvoiceMirror) error
	FindMirrorByPayment(ctx context.Context, paymentID string) (*models.GatewayInvoiceMirror, error)
}

type paymentAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PayPeriodsRequest asks to collect one or more billing periods in a single
// payment. Amount must equal the sum of the periods' net totals exactly.
type PayPeriodsRequest struct {
	BillingPeriodIDs []string             `json:"billing_period_ids" validate:"required,min=1,dive,required"`
	Method           models.PaymentMethod `json:"method" validate:"required"`
	Amount           int64                `json:"amount" validate:"required,gt=0"`
	PayerEmail       string               `json:"payer_email" validate:"omitempty,email"`
	Description      string               `json:"description" validate:"omitempty,max=255"`
}

// CreateEnrollmentFeePaymentRequest collects a one-off enrollment fee.
type CreateEnrollmentFeePaymentRequest struct {
	EnrollmentID string               `json:"enrollment_id" validate:"required"`
	Method       models.PaymentMethod `json:"method" validate:"required"`
	Amount       int64                `json:"amount" validate:"required,gt=0"`
	PayerEmail   string               `json:"payer_email" validate:"omitempty,email"`
}

// PaymentReceipt is the creation result handed back to the caller. For
// gateway methods CheckoutURL points at the hosted invoice page.
type PaymentReceipt struct {
	Payment     *models.Payment `json:"payment"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

// PaymentServiceConfig tunes payment creation.
type PaymentServiceConfig struct {
	Currency      string
	InvoiceExpiry time.Duration
}

// PaymentService orchestrates collection attempts. Gateway calls always
// happen outside database transactions; only local state changes are
// transactional.
type PaymentService struct {
	db        *sqlx.DB
	payments  paymentRepository
	billing   billingPeriodStore
	gateway   invoiceGateway
	mirrors   invoiceMirrorWriter
	audit     paymentAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PaymentServiceConfig
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(db *sqlx.DB, payments paymentRepository, billing billingPeriodStore, gateway invoiceGateway, mirrors invoiceMirrorWriter, audit paymentAuditLogger, validate *validator.Validate, logger *zap.Logger, cfg PaymentServiceConfig) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = 24 * time.Hour
	}
	return &PaymentService{
		db:        db,
		payments:  payments,
		billing:   billing,
		gateway:   gateway,
		mirrors:   mirrors,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// externalReference derives the gateway-facing id for a payment.
func externalReference(paymentID string) string {
	return "BIMBEL-" + paymentID
}

// PayPeriods creates one payment covering the given billing periods. The
// allocation split is computed oldest-first and persisted together with the
// payment, so webhook processing only ever reads it back.
func (s *PaymentService) PayPeriods(ctx context.Context, req PayPeriodsRequest) (*PaymentReceipt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported payment method")
	}

	periods, err := s.billing.FindByIDs(ctx, req.BillingPeriodIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billing periods")
	}
	if len(periods) != len(req.BillingPeriodIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more billing periods not found")
	}

	allocations, err := AllocateExact(req.Amount, periods)
	if err != nil {
		return nil, err
	}

	// A period can carry at most one live collection attempt. Re-billing
	// retires the previous one before the new payment exists.
	for _, period := range periods {
		if period.Status == models.BillingPeriodStatusPending && period.PaymentID != nil {
			if err := s.expirePrior(ctx, *period.PaymentID); err != nil {
				return nil, err
			}
		}
	}

	payment := &models.Payment{
		Kind:     models.PaymentKindTuition,
		Method:   req.Method,
		Amount:   req.Amount,
		Currency: s.cfg.Currency,
		Status:   models.PaymentStatusUnpaid,
	}
	if req.PayerEmail != "" {
		payment.PayerEmail = &req.PayerEmail
	}
	if req.Description != "" {
		payment.Description = &req.Description
	}
	if len(periods) > 0 {
		enrollmentID := periods[0].EnrollmentID
		payment.EnrollmentID = &enrollmentID
	}

	return s.collect(ctx, payment, allocations)
}

// PayEnrollmentFee creates an ENROLLMENT_FEE payment. It has no billing
// period allocation; success only flips the payment itself.
func (s *PaymentService) PayEnrollmentFee(ctx context.Context, req CreateEnrollmentFeePaymentRequest) (*PaymentReceipt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported payment method")
	}

	payment := &models.Payment{
		Kind:         models.PaymentKindEnrollmentFee,
		Method:       req.Method,
		Amount:       req.Amount,
		Currency:     s.cfg.Currency,
		Status:       models.PaymentStatusUnpaid,
		EnrollmentID: &req.EnrollmentID,
	}
	if req.PayerEmail != "" {
		payment.PayerEmail = &req.PayerEmail
	}

	return s.collect(ctx, payment, nil)
}

// expirePrior expires the gateway invoice of a superseded payment and marks
// the payment EXPIRED. The gateway call happens first so the old checkout
// link cannot collect after the replacement exists.
func (s *PaymentService) expirePrior(ctx context.Context, paymentID string) error {
	prior, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prior payment")
	}
	if prior.Status.Terminal() {
		return nil
	}

	mirror, err := s.mirrors.FindMirrorByPayment(ctx, paymentID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No gateway invoice was ever created; only the local row expires.
	case err != nil:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prior invoice mirror")
	default:
		if _, err := s.gateway.ExpireInvoice(ctx, mirror.GatewayInvoiceID); err != nil {
			if gatewayclient.IsTransient(err) {
				return appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, appErrors.ErrGatewayUnavailable.Message)
			}
			// A permanent rejection means the invoice already lapsed on
			// the gateway side.
			s.logger.Warn("gateway refused invoice expiry",
				zap.String("payment_id", paymentID),
				zap.String("invoice_id", mirror.GatewayInvoiceID),
				zap.Error(err))
		}
	}

	if err := s.payments.UpdateStatus(ctx, paymentID, models.PaymentStatusExpired); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire prior payment")
	}
	s.logger.Info("superseded payment expired for re-billing",
		zap.String("payment_id", paymentID))
	return nil
}

// collect persists the payment and routes it to the matching channel.
func (s *PaymentService) collect(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation) (*PaymentReceipt, error) {
	if err := s.payments.Create(ctx, payment, allocations); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}
	payment.ExternalReference = externalReference(payment.ID)

	if payment.Method == models.PaymentMethodCash {
		return s.settleCash(ctx, payment)
	}
	return s.createInvoice(ctx, payment)
}

// settleCash marks a cash payment paid immediately. The row lock plus
// allocation settle run in one transaction, the same path webhook settlement
// takes.
func (s *PaymentService) settleCash(ctx context.Context, payment *models.Payment) (*PaymentReceipt, error) {
	now := time.Now().UTC()
	err := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		locked, err := s.payments.LockByID(ctx, tx, payment.ID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if !locked.Status.CanAdvanceTo(models.PaymentStatusPaid) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "payment cannot be settled")
		}
		if err := s.payments.UpdateStatusTx(ctx, tx, payment.ID, models.PaymentStatusPaid, &now); err != nil {
			return err
		}
		return settleAllocations(ctx, tx, s.payments, s.billing, s.audit, s.logger, payment.ID, models.BillingPeriodStatusPaid)
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	payment.Status = models.PaymentStatusPaid
	payment.PaidAt = &now
	s.logAudit(ctx, models.AuditActionPaymentCreate, payment.ID)
	return &PaymentReceipt{Payment: payment}, nil
}

// createInvoice registers the payment with the gateway. The call happens
// after the local row exists so a crash never loses money, and never inside
// a transaction so a slow gateway cannot hold locks.
func (s *PaymentService) createInvoice(ctx context.Context, payment *models.Payment) (*PaymentReceipt, error) {
	req := gatewayclient.CreateInvoiceRequest{
		ExternalReference: payment.ExternalReference,
		Amount:            payment.Amount,
		InvoiceDuration:   int64(s.cfg.InvoiceExpiry.Seconds()),
		PaymentMethods:    []string{string(payment.Method)},
	}
	if payment.PayerEmail != nil {
		req.PayerEmail = *payment.PayerEmail
	}
	if payment.Description != nil {
		req.Description = *payment.Description
	}

	invoice, err := s.gateway.CreateInvoice(ctx, req)
	if err != nil {
		s.logger.Error("gateway invoice creation failed",
			zap.String("payment_id", payment.ID),
			zap.Error(err))
		if gatewayclient.IsTransient(err) {
			// Leave the row UNPAID so the next attempt can retry the
			// same payment once the gateway recovers.
			return nil, appErrors.Wrap(err, appErrors.ErrGatewayUnavailable.Code, appErrors.ErrGatewayUnavailable.Status, appErrors.ErrGatewayUnavailable.Message)
		}
		if updateErr := s.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusFailedToCreate); updateErr != nil {
			s.logger.Error("failed to mark payment FAILED_TO_CREATE",
				zap.String("payment_id", payment.ID),
				zap.Error(updateErr))
		}
		payment.Status = models.PaymentStatusFailedToCreate
		return nil, appErrors.Wrap(err, appErrors.ErrFailedToCreate.Code, appErrors.ErrFailedToCreate.Status, appErrors.ErrFailedToCreate.Message)
	}

	mirror := &models.GatewayInvoiceMirror{
		PaymentID:         payment.ID,
		GatewayInvoiceID:  invoice.ID,
		ExternalReference: payment.ExternalReference,
		CheckoutURL:       invoice.CheckoutURL,
		LastStatus:        invoice.Status,
	}
	if !invoice.ExpiresAt.IsZero() {
		expiry := invoice.ExpiresAt
		mirror.ExpiresAt = &expiry
	}
	if err := s.mirrors.CreateMirror(ctx, mirror); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record invoice mirror")
	}

	if err := s.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusPending); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark payment pending")
	}
	payment.Status = models.PaymentStatusPending

	allocations, err := s.allocationsOf(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	for _, alloc := range allocations {
		if err := s.billing.MarkPendingPayment(ctx, alloc.BillingPeriodID, payment.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark billing period pending")
		}
	}

	s.logAudit(ctx, models.AuditActionPaymentCreate, payment.ID)

	receipt := &PaymentReceipt{Payment: payment, CheckoutURL: invoice.CheckoutURL}
	receipt.ExpiresAt = mirror.ExpiresAt
	return receipt, nil
}

func (s *PaymentService) allocationsOf(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	var allocations []models.PaymentAllocation
	err := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		allocations, err = s.payments.AllocationsByPaymentTx(ctx, tx, paymentID)
		return err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocations")
	}
	return allocations, nil
}

// Get returns one payment with its checkout URL if a mirror exists.
func (s *PaymentService) Get(ctx context.Context, id string) (*PaymentReceipt, error) {
	payment, err := s.payments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	receipt := &PaymentReceipt{Payment: payment}
	if mirror, err := s.mirrors.FindMirrorByPayment(ctx, id); err == nil && mirror != nil {
		receipt.CheckoutURL = mirror.CheckoutURL
		receipt.ExpiresAt = mirror.ExpiresAt
	}
	return receipt, nil
}

// List returns payments with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *PaymentService) logAudit(ctx context.Context, action, paymentID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "payment",
		ResourceID: &paymentID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// settleAllocations applies a successful payment to its persisted split.
// Periods already settled by another payment are skipped and flagged for
// manual review rather than reassigned.
func settleAllocations(ctx context.Context, tx *sqlx.Tx, payments paymentRepository, billing billingPeriodStore, audit paymentAuditLogger, logger *zap.Logger, paymentID string, status models.BillingPeriodStatus) error {
	allocations, err := payments.AllocationsByPaymentTx(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	for _, alloc := range allocations {
		settled, err := billing.SettleTx(ctx, tx, alloc.BillingPeriodID, status, paymentID)
		if err != nil {
			return err
		}
		if !settled {
			logger.Warn("billing period already settled by another payment",
				zap.String("payment_id", paymentID),
				zap.String("billing_period_id", alloc.BillingPeriodID))
			if audit != nil {
				periodID := alloc.BillingPeriodID
				entry := &models.AuditLog{
					Action:     models.AuditActionAllocationConflict,
					Resource:   "billing_period",
					ResourceID: &periodID,
				}
				if auditErr := audit.CreateAuditLog(ctx, entry); auditErr != nil {
					logger.Warn("failed to write allocation conflict audit", zap.Error(auditErr))
				}
			}
		}
	}
	return nil
}

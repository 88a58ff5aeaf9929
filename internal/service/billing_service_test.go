package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
)

type mockBillingPeriodRepo struct {
	period  *models.BillingPeriod
	applied bool

	appliedDiscount int64
	appliedNetTotal int64
}

func (m *mockBillingPeriodRepo) Create(ctx context.Context, period *models.BillingPeriod) error {
	return nil
}

func (m *mockBillingPeriodRepo) FindByID(ctx context.Context, id string) (*models.BillingPeriod, error) {
	if m.period == nil || m.period.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *m.period
	return &clone, nil
}

func (m *mockBillingPeriodRepo) ExistsForEnrollmentPeriod(ctx context.Context, enrollmentID string, month, year int) (bool, error) {
	return false, nil
}

func (m *mockBillingPeriodRepo) ApplyDiscount(ctx context.Context, id string, voucherID *string, discount, netTotal int64) error {
	m.applied = true
	m.appliedDiscount = discount
	m.appliedNetTotal = netTotal
	return nil
}

func (m *mockBillingPeriodRepo) List(ctx context.Context, filter models.BillingPeriodFilter) ([]models.BillingPeriodDetail, int, error) {
	return nil, 0, nil
}

func (m *mockBillingPeriodRepo) OutstandingByStudent(ctx context.Context, studentID string, asOf time.Time) (*models.BillingSummary, error) {
	return &models.BillingSummary{StudentID: studentID}, nil
}

type mockVoucherReader struct {
	voucher *models.Voucher
}

func (m *mockVoucherReader) FindByID(ctx context.Context, id string) (*models.Voucher, error) {
	if m.voucher == nil {
		return nil, sql.ErrNoRows
	}
	return m.voucher, nil
}

func (m *mockVoucherReader) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	if m.voucher == nil || m.voucher.Code != code {
		return nil, sql.ErrNoRows
	}
	return m.voucher, nil
}

func unpaidPeriod(amount int64) *models.BillingPeriod {
	return &models.BillingPeriod{
		ID:       "bp-1",
		Amount:   amount,
		NetTotal: amount,
		Status:   models.BillingPeriodStatusUnpaid,
	}
}

func TestApplyVoucherPercentage(t *testing.T) {
	repo := &mockBillingPeriodRepo{period: unpaidPeriod(225000)}
	vouchers := &mockVoucherReader{voucher: &models.Voucher{
		ID: "v-1", Code: "HEMAT10", Type: models.VoucherTypePercentage, Value: 10, Active: true,
	}}
	svc := NewBillingService(repo, vouchers, nil, nil, nil, nil, BillingServiceConfig{})

	period, err := svc.ApplyVoucher(context.Background(), "bp-1", ApplyVoucherRequest{Code: "HEMAT10"})
	require.NoError(t, err)

	assert.True(t, repo.applied)
	assert.Equal(t, int64(22500), period.Discount)
	assert.Equal(t, int64(202500), period.NetTotal)
}

func TestApplyVoucherRejectsOutOfRangePercentage(t *testing.T) {
	repo := &mockBillingPeriodRepo{period: unpaidPeriod(225000)}
	vouchers := &mockVoucherReader{voucher: &models.Voucher{
		ID: "v-2", Code: "BOGUS150", Type: models.VoucherTypePercentage, Value: 150, Active: true,
	}}
	svc := NewBillingService(repo, vouchers, nil, nil, nil, nil, BillingServiceConfig{})

	_, err := svc.ApplyVoucher(context.Background(), "bp-1", ApplyVoucherRequest{Code: "BOGUS150"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.applied)
}

func TestApplyVoucherRejectsExpired(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	repo := &mockBillingPeriodRepo{period: unpaidPeriod(225000)}
	vouchers := &mockVoucherReader{voucher: &models.Voucher{
		ID: "v-3", Code: "LAMA", Type: models.VoucherTypeFixedAmount, Value: 50000, Active: true, ValidUntil: &past,
	}}
	svc := NewBillingService(repo, vouchers, nil, nil, nil, nil, BillingServiceConfig{})

	_, err := svc.ApplyVoucher(context.Background(), "bp-1", ApplyVoucherRequest{Code: "LAMA"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.applied)
}

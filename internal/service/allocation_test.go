package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
)

func testPeriod(id string, netTotal int64, due time.Time) models.BillingPeriod {
	return models.BillingPeriod{
		ID:       id,
		Amount:   netTotal,
		NetTotal: netTotal,
		Status:   models.BillingPeriodStatusUnpaid,
		DueDate:  due,
	}
}

func TestComputeDiscountPercentage(t *testing.T) {
	now := time.Now()
	voucher := &models.Voucher{Type: models.VoucherTypePercentage, Value: 10, Active: true}

	assert.Equal(t, int64(25000), ComputeDiscount(voucher, 250000, now))
}

func TestComputeDiscountClampedToAmount(t *testing.T) {
	now := time.Now()
	fixed := &models.Voucher{Type: models.VoucherTypeFixedAmount, Value: 500000, Active: true}
	assert.Equal(t, int64(250000), ComputeDiscount(fixed, 250000, now))

	overPct := &models.Voucher{Type: models.VoucherTypePercentage, Value: 150, Active: true}
	assert.Equal(t, int64(250000), ComputeDiscount(overPct, 250000, now))

	negative := &models.Voucher{Type: models.VoucherTypeFixedAmount, Value: -100, Active: true}
	assert.Equal(t, int64(0), ComputeDiscount(negative, 250000, now))
}

func TestComputeDiscountExpiredVoucher(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	voucher := &models.Voucher{Type: models.VoucherTypePercentage, Value: 10, Active: true, ValidUntil: &past}

	assert.Equal(t, int64(0), ComputeDiscount(voucher, 250000, now))
}

func TestAllocateExactOldestFirst(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	periods := []models.BillingPeriod{
		testPeriod("bp-feb", 225000, base.AddDate(0, 1, 0)),
		testPeriod("bp-jan", 225000, base),
	}

	allocations, err := AllocateExact(450000, periods)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	assert.Equal(t, "bp-jan", allocations[0].BillingPeriodID)
	assert.Equal(t, 0, allocations[0].Position)
	assert.Equal(t, "bp-feb", allocations[1].BillingPeriodID)
	assert.Equal(t, int64(225000), allocations[0].Amount)
	assert.Equal(t, int64(225000), allocations[1].Amount)
}

func TestAllocateExactOrderInsensitive(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	forward := []models.BillingPeriod{
		testPeriod("bp-1", 225000, base),
		testPeriod("bp-2", 225000, base.AddDate(0, 1, 0)),
		testPeriod("bp-3", 225000, base.AddDate(0, 2, 0)),
	}
	reversed := []models.BillingPeriod{forward[2], forward[0], forward[1]}

	a, err := AllocateExact(675000, forward)
	require.NoError(t, err)
	b, err := AllocateExact(675000, reversed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAllocateExactRejectsMismatch(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	periods := []models.BillingPeriod{testPeriod("bp-1", 225000, base)}

	_, err := AllocateExact(200000, periods)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAmountMismatch.Code, appErr.Code)

	_, err = AllocateExact(300000, periods)
	require.Error(t, err)
	appErr = appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAmountMismatch.Code, appErr.Code)
}

func TestAllocateExactRejectsSettledPeriod(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	settled := testPeriod("bp-1", 225000, base)
	settled.Status = models.BillingPeriodStatusSettled

	_, err := AllocateExact(225000, []models.BillingPeriod{settled})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAlreadySettled.Code, appErr.Code)
}

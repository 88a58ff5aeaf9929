package service

import (
	"sort"
	"time"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
)

// ComputeDiscount returns the discount a voucher grants on the given amount.
// The result is clamped to [0, amount]; a percentage voucher outside 0-100
// is treated as the nearest bound.
func ComputeDiscount(voucher *models.Voucher, amount int64, now time.Time) int64 {
	if voucher == nil || amount <= 0 || !voucher.Usable(now) {
		return 0
	}
	var discount int64
	switch voucher.Type {
	case models.VoucherTypePercentage:
		pct := voucher.Value
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		discount = amount * pct / 100
	case models.VoucherTypeFixedAmount:
		discount = voucher.Value
	}
	if discount < 0 {
		discount = 0
	}
	if discount > amount {
		discount = amount
	}
	return discount
}

// AllocateExact splits a paid amount across billing periods, oldest due date
// first. Every period must be covered in full by its net total and the
// amounts must sum to exactly the paid amount; a shortfall or surplus is an
// AMOUNT_MISMATCH. Input order does not matter, since the split is sorted
// before assignment.
func AllocateExact(amount int64, periods []models.BillingPeriod) ([]models.PaymentAllocation, error) {
	if len(periods) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no billing periods to allocate against")
	}

	sorted := make([]models.BillingPeriod, len(periods))
	copy(sorted, periods)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueDate.Equal(sorted[j].DueDate) {
			return sorted[i].DueDate.Before(sorted[j].DueDate)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var total int64
	allocations := make([]models.PaymentAllocation, 0, len(sorted))
	for i, period := range sorted {
		if period.Status.Settled() {
			return nil, appErrors.Clone(appErrors.ErrAlreadySettled, "billing period "+period.ID+" already settled")
		}
		if period.NetTotal <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "billing period "+period.ID+" has no payable amount")
		}
		total += period.NetTotal
		allocations = append(allocations, models.PaymentAllocation{
			BillingPeriodID: period.ID,
			Amount:          period.NetTotal,
			Position:        i,
		})
	}

	if total != amount {
		return nil, appErrors.Clone(appErrors.ErrAmountMismatch, "")
	}
	return allocations, nil
}

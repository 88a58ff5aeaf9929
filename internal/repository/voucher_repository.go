package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
)

// VoucherRepository handles persistence of discount vouchers.
type VoucherRepository struct {
	db *sqlx.DB
}

// NewVoucherRepository constructs the repository.
func NewVoucherRepository(db *sqlx.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

const voucherColumns = `id, code, type, value, active, valid_until, created_at`

// FindByID returns a voucher by its ID.
func (r *VoucherRepository) FindByID(ctx context.Context, id string) (*models.Voucher, error) {
	const query = `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`
	var voucher models.Voucher
	if err := r.db.GetContext(ctx, &voucher, query, id); err != nil {
		return nil, err
	}
	return &voucher, nil
}

// FindByCode returns a voucher by its code.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	const query = `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1`
	var voucher models.Voucher
	if err := r.db.GetContext(ctx, &voucher, query, code); err != nil {
		return nil, err
	}
	return &voucher, nil
}

// Create persists a new voucher.
func (r *VoucherRepository) Create(ctx context.Context, voucher *models.Voucher) error {
	if voucher.ID == "" {
		voucher.ID = uuid.NewString()
	}
	if voucher.CreatedAt.IsZero() {
		voucher.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO vouchers (` + voucherColumns + `)
        VALUES (:id, :code, :type, :value, :active, :valid_until, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, voucher); err != nil {
		return fmt.Errorf("create voucher: %w", err)
	}
	return nil
}

// Deactivate flips a voucher inactive.
func (r *VoucherRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE vouchers SET active = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deactivate voucher: %w", err)
	}
	return nil
}

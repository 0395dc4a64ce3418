package repository

import (
	"context"
	"errors"
	"time"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type registerRepo struct{ db *gorm.DB }

func NewRegisterRepository(db *gorm.DB) RegisterRepository { return &registerRepo{db: db} }

func (r *registerRepo) Create(ctx context.Context, reg *model.Register) error {
	return r.db.WithContext(ctx).Create(reg).Error
}

func (r *registerRepo) FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Register, error) {
	var reg model.Register
	err := r.db.WithContext(ctx).Where("id = ? AND business_id = ?", id, businessID).First(&reg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

func (r *registerRepo) List(ctx context.Context, businessID uuid.UUID, filter RegisterFilter) ([]model.Register, error) {
	q := r.db.WithContext(ctx).Where("business_id = ?", businessID)
	if filter.AdminStatus != nil {
		q = q.Where("admin_status = ?", *filter.AdminStatus)
	}
	var list []model.Register
	err := q.Order("name ASC").Find(&list).Error
	return list, err
}

func (r *registerRepo) UpdateAdmin(ctx context.Context, reg *model.Register) error {
	res := r.db.WithContext(ctx).Model(&model.Register{}).
		Where("id = ? AND business_id = ?", reg.ID, reg.BusinessID).
		Updates(map[string]any{
			"name":          reg.Name,
			"location":      reg.Location,
			"admin_status":  reg.AdminStatus,
			"last_activity": reg.LastActivity,
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return translate(r.db.WithContext(ctx).Where("id = ?", reg.ID).First(reg).Error)
}

// Delete removes the register in one statement guarded by NOT EXISTS, so a
// session claimed concurrently either blocks the delete or loses its claim.
func (r *registerRepo) Delete(ctx context.Context, businessID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Exec(`
		DELETE FROM registers
		WHERE id = ? AND business_id = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM register_sessions
		    WHERE register_id = ? AND status = 'active')`,
		id, businessID, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, businessID, id); err != nil {
		return err
	}
	return ErrRegisterHasActiveSession
}

func (r *registerRepo) ListClaimedBefore(ctx context.Context, cutoff time.Time) ([]model.Register, error) {
	var list []model.Register
	err := r.db.WithContext(ctx).
		Where("claim_session_id IS NOT NULL AND claimed_at < ?", cutoff).
		Order("claimed_at ASC").
		Find(&list).Error
	return list, err
}

// translate maps gorm sentinel errors to the store-wide ones.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

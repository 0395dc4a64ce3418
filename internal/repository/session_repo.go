package repository

import (
	"context"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type sessionRepo struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &sessionRepo{db: db} }

func (r *sessionRepo) FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Session, error) {
	var s model.Session
	err := r.db.WithContext(ctx).Where("id = ? AND business_id = ?", id, businessID).First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *sessionRepo) FindActiveByUser(ctx context.Context, businessID, userID uuid.UUID) (*model.Session, error) {
	var s model.Session
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND user_id = ? AND status = ?", businessID, userID, model.SessionActive).
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *sessionRepo) FindActiveByRegister(ctx context.Context, businessID, registerID uuid.UUID) (*model.Session, error) {
	var s model.Session
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND register_id = ? AND status = ?", businessID, registerID, model.SessionActive).
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *sessionRepo) List(ctx context.Context, businessID uuid.UUID, filter SessionFilter, page, limit int) ([]model.Session, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Session{}).Where("business_id = ?", businessID)
	if filter.RegisterID != nil {
		q = q.Where("register_id = ?", *filter.RegisterID)
	}
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []model.Session
	err := q.Order("start_time DESC").Offset((page - 1) * limit).Limit(limit).Find(&list).Error
	return list, total, err
}

// AddSale touches only the sales aggregates and the version.
func (r *sessionRepo) AddSale(ctx context.Context, businessID, id uuid.UUID, amount decimal.Decimal) (*model.Session, error) {
	res := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND business_id = ? AND status = ?", id, businessID, model.SessionActive).
		Updates(map[string]any{
			"total_sales":        gorm.Expr("total_sales + ?", amount),
			"total_transactions": gorm.Expr("total_transactions + 1"),
			"version":            gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, businessID, id); err != nil {
			return nil, err
		}
		return nil, ErrConditionFailed
	}
	return r.FindByID(ctx, businessID, id)
}

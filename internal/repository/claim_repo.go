package repository

import (
	"context"
	"errors"
	"time"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// errClaimRejected aborts the claim transaction when the conditional update
// matched no row. It never leaves this file.
var errClaimRejected = errors.New("claim rejected")

type claimRepo struct{ db *gorm.DB }

func NewClaimRepository(db *gorm.DB) ClaimRepository { return &claimRepo{db: db} }

// Claim inserts the session and flips the register claim in one transaction.
// The partial unique indexes on register_sessions reject a second active
// session for the same register or user; the UPDATE ... WHERE claim_session_id
// IS NULL is the compare-and-swap on the register row.
func (r *claimRepo) Claim(ctx context.Context, s *model.Session) (*model.Register, error) {
	var reg model.Register
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}

		res := tx.Model(&model.Register{}).
			Where("id = ? AND business_id = ? AND claim_session_id IS NULL AND admin_status = ?",
				s.RegisterID, s.BusinessID, model.AdminStatusActive).
			Updates(map[string]any{
				"claim_user_id":    s.UserID,
				"claim_session_id": s.ID,
				"claimed_at":       s.StartTime,
				"last_activity":    s.StartTime,
				"version":          gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errClaimRejected
		}
		return tx.Where("id = ?", s.RegisterID).First(&reg).Error
	})

	switch {
	case err == nil:
		return &reg, nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, r.classifyDuplicate(ctx, s)
	case errors.Is(err, errClaimRejected):
		return nil, r.classifyRejected(ctx, s)
	default:
		return nil, err
	}
}

// classifyDuplicate runs after rollback: an aborted Postgres transaction cannot
// be queried, and the violated index name is not surfaced by gorm.
func (r *claimRepo) classifyDuplicate(ctx context.Context, s *model.Session) error {
	sessions := &sessionRepo{db: r.db}
	if _, err := sessions.FindActiveByUser(ctx, s.BusinessID, s.UserID); err == nil {
		if held, err := sessions.FindActiveByRegister(ctx, s.BusinessID, s.RegisterID); err == nil && held.UserID == s.UserID {
			return ErrRegisterHasActiveSession
		}
		return ErrUserHasActiveSession
	}
	return ErrRegisterHasActiveSession
}

func (r *claimRepo) classifyRejected(ctx context.Context, s *model.Session) error {
	reg, err := (&registerRepo{db: r.db}).FindByID(ctx, s.BusinessID, s.RegisterID)
	if err != nil {
		return err
	}
	if reg.Claim() != nil {
		return ErrRegisterHasActiveSession
	}
	return ErrConditionFailed
}

// Release closes the session and clears the claim in one transaction. Only the
// closing fields are written, so sales aggregates survive.
func (r *claimRepo) Release(ctx context.Context, businessID, sessionID uuid.UUID, endTime time.Time, endingAmount decimal.Decimal) (*model.Session, bool, error) {
	var (
		sess    model.Session
		cleared bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Session{}).
			Where("id = ? AND business_id = ? AND status = ?", sessionID, businessID, model.SessionActive).
			Updates(map[string]any{
				"status":        model.SessionClosed,
				"end_time":      endTime,
				"ending_amount": endingAmount,
				"version":       gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("id = ? AND business_id = ?", sessionID, businessID).First(&sess).Error; err != nil {
				return translate(err)
			}
			return ErrConditionFailed
		}
		if err := tx.Where("id = ?", sessionID).First(&sess).Error; err != nil {
			return err
		}

		res = tx.Model(&model.Register{}).
			Where("id = ? AND business_id = ? AND claim_session_id = ?", sess.RegisterID, businessID, sessionID).
			Updates(map[string]any{
				"claim_user_id":    nil,
				"claim_session_id": nil,
				"claimed_at":       nil,
				"last_activity":    endTime,
				"version":          gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		cleared = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &sess, cleared, nil
}

// ClearOrphan is a single conditional UPDATE: the claim must still point at
// sessionID and no active row for that session may exist.
func (r *claimRepo) ClearOrphan(ctx context.Context, businessID, registerID, sessionID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Register{}).
		Where("id = ? AND business_id = ? AND claim_session_id = ?", registerID, businessID, sessionID).
		Where("NOT EXISTS (SELECT 1 FROM register_sessions WHERE id = ? AND status = ?)", sessionID, model.SessionActive).
		Updates(map[string]any{
			"claim_user_id":    nil,
			"claim_session_id": nil,
			"claimed_at":       nil,
			"last_activity":    at,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

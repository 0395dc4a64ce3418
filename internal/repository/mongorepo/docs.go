package mongorepo

import (
	"fmt"
	"time"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Documents keep ids as canonical uuid strings and money as Decimal128 so the
// collections stay readable from the mongo shell and $inc stays exact.

type registerDoc struct {
	ID             string     `bson:"_id"`
	BusinessID     string     `bson:"business_id"`
	Name           string     `bson:"name"`
	Location       string     `bson:"location"`
	AdminStatus    string     `bson:"admin_status"`
	ClaimUserID    *string    `bson:"claim_user_id"`
	ClaimSessionID *string    `bson:"claim_session_id"`
	ClaimedAt      *time.Time `bson:"claimed_at"`
	LastActivity   time.Time  `bson:"last_activity"`
	Version        int64      `bson:"version"`
	CreatedAt      time.Time  `bson:"created_at"`
}

type sessionDoc struct {
	ID                string                `bson:"_id"`
	RegisterID        string                `bson:"register_id"`
	BusinessID        string                `bson:"business_id"`
	UserID            string                `bson:"user_id"`
	UserDisplayName   string                `bson:"user_display_name"`
	StartTime         time.Time             `bson:"start_time"`
	EndTime           *time.Time            `bson:"end_time"`
	StartingAmount    primitive.Decimal128  `bson:"starting_amount"`
	EndingAmount      *primitive.Decimal128 `bson:"ending_amount"`
	TotalSales        primitive.Decimal128  `bson:"total_sales"`
	TotalTransactions int                   `bson:"total_transactions"`
	Status            string                `bson:"status"`
	Version           int64                 `bson:"version"`
}

type userDoc struct {
	ID           string    `bson:"_id"`
	BusinessID   string    `bson:"business_id"`
	Username     string    `bson:"username"`
	UsernameKey  string    `bson:"username_key"`
	DisplayName  string    `bson:"display_name"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// idParser keeps the first parse failure so conversions read straight through.
type idParser struct{ err error }

func (p *idParser) id(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse id %q: %w", s, err)
	}
	return id
}

func (p *idParser) optID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id := p.id(*s)
	return &id
}

func (p *idParser) dec(d primitive.Decimal128) decimal.Decimal {
	v, err := decimal.NewFromString(d.String())
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse decimal %q: %w", d.String(), err)
	}
	return v
}

func optString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("decimal128 %s: %w", d.String(), err)
	}
	return v, nil
}

func fromRegister(r *model.Register) registerDoc {
	return registerDoc{
		ID:             r.ID.String(),
		BusinessID:     r.BusinessID.String(),
		Name:           r.Name,
		Location:       r.Location,
		AdminStatus:    string(r.AdminStatus),
		ClaimUserID:    optString(r.ClaimUserID),
		ClaimSessionID: optString(r.ClaimSessionID),
		ClaimedAt:      r.ClaimedAt,
		LastActivity:   r.LastActivity,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
	}
}

func (d registerDoc) toModel() (*model.Register, error) {
	var p idParser
	r := &model.Register{
		ID:             p.id(d.ID),
		BusinessID:     p.id(d.BusinessID),
		Name:           d.Name,
		Location:       d.Location,
		AdminStatus:    model.AdminStatus(d.AdminStatus),
		ClaimUserID:    p.optID(d.ClaimUserID),
		ClaimSessionID: p.optID(d.ClaimSessionID),
		ClaimedAt:      d.ClaimedAt,
		LastActivity:   d.LastActivity,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt,
	}
	return r, p.err
}

func fromSession(s *model.Session) (sessionDoc, error) {
	starting, err := toDecimal128(s.StartingAmount)
	if err != nil {
		return sessionDoc{}, err
	}
	total, err := toDecimal128(s.TotalSales)
	if err != nil {
		return sessionDoc{}, err
	}
	doc := sessionDoc{
		ID:                s.ID.String(),
		RegisterID:        s.RegisterID.String(),
		BusinessID:        s.BusinessID.String(),
		UserID:            s.UserID.String(),
		UserDisplayName:   s.UserDisplayName,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		StartingAmount:    starting,
		TotalSales:        total,
		TotalTransactions: s.TotalTransactions,
		Status:            string(s.Status),
		Version:           s.Version,
	}
	if s.EndingAmount != nil {
		v, err := toDecimal128(*s.EndingAmount)
		if err != nil {
			return sessionDoc{}, err
		}
		doc.EndingAmount = &v
	}
	return doc, nil
}

func (d sessionDoc) toModel() (*model.Session, error) {
	var p idParser
	s := &model.Session{
		ID:                p.id(d.ID),
		RegisterID:        p.id(d.RegisterID),
		BusinessID:        p.id(d.BusinessID),
		UserID:            p.id(d.UserID),
		UserDisplayName:   d.UserDisplayName,
		StartTime:         d.StartTime,
		EndTime:           d.EndTime,
		StartingAmount:    p.dec(d.StartingAmount),
		TotalSales:        p.dec(d.TotalSales),
		TotalTransactions: d.TotalTransactions,
		Status:            model.SessionStatus(d.Status),
		Version:           d.Version,
	}
	if d.EndingAmount != nil {
		v := p.dec(*d.EndingAmount)
		s.EndingAmount = &v
	}
	return s, p.err
}

func (d userDoc) toModel() (*model.User, error) {
	var p idParser
	u := &model.User{
		ID:           p.id(d.ID),
		BusinessID:   p.id(d.BusinessID),
		Username:     d.Username,
		DisplayName:  d.DisplayName,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		Active:       d.Active,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	return u, p.err
}

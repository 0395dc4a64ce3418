package dto

import (
	"time"

	"registerhub/internal/model"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type StartSessionRequest struct {
	RegisterID     string           `json:"register_id"     validate:"required,uuid"`
	StartingAmount *decimal.Decimal `json:"starting_amount" validate:"omitempty,min=0"`
}

type EndSessionRequest struct {
	EndingAmount decimal.Decimal `json:"ending_amount" validate:"min=0"`
}

type SwitchRegisterRequest struct {
	RegisterID string `json:"register_id" validate:"required,uuid"`
}

type RecordSaleRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type ListSessionsQuery struct {
	RegisterID string `form:"register_id" validate:"omitempty,uuid"`
	UserID     string `form:"user_id"     validate:"omitempty,uuid"`
	Status     string `form:"status"      validate:"omitempty,oneof=active closed"`
	Page       int    `form:"page"        validate:"omitempty,min=1"`
	Limit      int    `form:"limit"       validate:"omitempty,min=1,max=200"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SessionResponse struct {
	ID                string              `json:"id"`
	RegisterID        string              `json:"register_id"`
	BusinessID        string              `json:"business_id"`
	UserID            string              `json:"user_id"`
	UserDisplayName   string              `json:"user_display_name"`
	StartTime         time.Time           `json:"start_time"`
	EndTime           *time.Time          `json:"end_time"`
	StartingAmount    decimal.Decimal     `json:"starting_amount"`
	EndingAmount      *decimal.Decimal    `json:"ending_amount"`
	TotalSales        decimal.Decimal     `json:"total_sales"`
	TotalTransactions int                 `json:"total_transactions"`
	Status            model.SessionStatus `json:"status"`
	Version           int64               `json:"version"`
}

type SessionListResponse struct {
	Data  []SessionResponse `json:"data"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func NewSessionResponse(s *model.Session) SessionResponse {
	return SessionResponse{
		ID:                s.ID.String(),
		RegisterID:        s.RegisterID.String(),
		BusinessID:        s.BusinessID.String(),
		UserID:            s.UserID.String(),
		UserDisplayName:   s.UserDisplayName,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		StartingAmount:    s.StartingAmount,
		EndingAmount:      s.EndingAmount,
		TotalSales:        s.TotalSales,
		TotalTransactions: s.TotalTransactions,
		Status:            s.Status,
		Version:           s.Version,
	}
}

package dto

import (
	"time"

	"registerhub/internal/model"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type CreateRegisterRequest struct {
	Name     string `json:"name"     validate:"required,min=1,max=100"`
	Location string `json:"location" validate:"max=200"`
}

// UpdateRegisterRequest is a patch: nil fields are left untouched.
type UpdateRegisterRequest struct {
	Name        *string            `json:"name"         validate:"omitempty,min=1,max=100"`
	Location    *string            `json:"location"     validate:"omitempty,max=200"`
	AdminStatus *model.AdminStatus `json:"admin_status" validate:"omitempty,oneof=active inactive maintenance"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type ClaimResponse struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

type RegisterResponse struct {
	ID           string               `json:"id"`
	BusinessID   string               `json:"business_id"`
	Name         string               `json:"name"`
	Location     string               `json:"location"`
	AdminStatus  model.AdminStatus    `json:"admin_status"`
	Status       model.RegisterStatus `json:"status"`
	Claim        *ClaimResponse       `json:"claim"`
	LastActivity time.Time            `json:"last_activity"`
	Version      int64                `json:"version"`
	CreatedAt    time.Time            `json:"created_at"`
}

type RegisterStatusResponse struct {
	RegisterID string               `json:"register_id"`
	Status     model.RegisterStatus `json:"status"`
}

// NewRegisterResponse derives the status at conversion time.
func NewRegisterResponse(r *model.Register) RegisterResponse {
	resp := RegisterResponse{
		ID:           r.ID.String(),
		BusinessID:   r.BusinessID.String(),
		Name:         r.Name,
		Location:     r.Location,
		AdminStatus:  r.AdminStatus,
		Status:       r.Status(),
		LastActivity: r.LastActivity,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
	}
	if c := r.Claim(); c != nil {
		resp.Claim = &ClaimResponse{
			UserID:    c.UserID.String(),
			SessionID: c.SessionID.String(),
			ClaimedAt: c.ClaimedAt,
		}
	}
	return resp
}

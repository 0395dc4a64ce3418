package model

import (
	"time"

	"github.com/google/uuid"
)

// AdminStatus is set by administrators and is independent of claim state.
type AdminStatus string

const (
	AdminStatusActive      AdminStatus = "active"
	AdminStatusInactive    AdminStatus = "inactive"
	AdminStatusMaintenance AdminStatus = "maintenance"
)

// Valid reports whether s is one of the known administrative states.
func (s AdminStatus) Valid() bool {
	switch s {
	case AdminStatusActive, AdminStatusInactive, AdminStatusMaintenance:
		return true
	}
	return false
}

// Register is a physical terminal belonging to exactly one business.
//
// The claim columns are written only by the session claim/release primitives.
// ClaimUserID and ClaimSessionID are either both nil or both set.
type Register struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey"`
	BusinessID  uuid.UUID   `gorm:"type:uuid;not null;index"`
	Name        string      `gorm:"not null"`
	Location    string      `gorm:"not null;default:''"`
	AdminStatus AdminStatus `gorm:"type:varchar(20);not null;default:'active'"`

	ClaimUserID    *uuid.UUID `gorm:"type:uuid"`
	ClaimSessionID *uuid.UUID `gorm:"type:uuid"`
	ClaimedAt      *time.Time

	LastActivity time.Time `gorm:"not null"`
	// Version grows by one on every mutation; change-feed consumers use it to drop stale events.
	Version   int64 `gorm:"not null;default:1"`
	CreatedAt time.Time
}

func (Register) TableName() string { return "registers" }

// Claim marks a register as occupied by one session.
type Claim struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID uuid.UUID `json:"session_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Claim returns the current claim, or nil when the register is free.
func (r *Register) Claim() *Claim {
	if r.ClaimUserID == nil || r.ClaimSessionID == nil {
		return nil
	}
	c := &Claim{UserID: *r.ClaimUserID, SessionID: *r.ClaimSessionID}
	if r.ClaimedAt != nil {
		c.ClaimedAt = *r.ClaimedAt
	}
	return c
}

// SetClaim writes the claim columns. A nil claim frees the register.
func (r *Register) SetClaim(c *Claim) {
	if c == nil {
		r.ClaimUserID, r.ClaimSessionID, r.ClaimedAt = nil, nil, nil
		return
	}
	uid, sid, at := c.UserID, c.SessionID, c.ClaimedAt
	r.ClaimUserID, r.ClaimSessionID, r.ClaimedAt = &uid, &sid, &at
}

// Status derives the presence status from admin status and claim.
func (r *Register) Status() RegisterStatus {
	return DeriveStatus(r.AdminStatus, r.Claim())
}

package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus: "active" | "closed"
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session records one operator's custody of one register.
// Sessions are append-only: they are closed, never deleted.
type Session struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	RegisterID      uuid.UUID `gorm:"type:uuid;not null;index"`
	BusinessID      uuid.UUID `gorm:"type:uuid;not null;index"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index"`
	UserDisplayName string    `gorm:"not null"`
	StartTime       time.Time `gorm:"not null"`
	EndTime         *time.Time

	StartingAmount decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	EndingAmount   *decimal.Decimal `gorm:"type:decimal(12,2)"`

	// TotalSales and TotalTransactions belong to the sales subsystem.
	// Session writes here never include them.
	TotalSales        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	TotalTransactions int             `gorm:"not null;default:0"`

	Status  SessionStatus `gorm:"type:varchar(20);not null;default:'active'"`
	Version int64         `gorm:"not null;default:1"`
}

func (Session) TableName() string { return "register_sessions" }

// IsActive reports whether the session still holds its register.
func (s *Session) IsActive() bool { return s.Status == SessionActive }

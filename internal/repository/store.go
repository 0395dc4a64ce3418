package repository

import (
	"context"
	"errors"
	"time"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Errors shared by every store backend. Callers match them with errors.Is.
var (
	ErrNotFound                 = errors.New("record not found")
	ErrConditionFailed          = errors.New("conditional write rejected")
	ErrRegisterHasActiveSession = errors.New("register already has an active session")
	ErrUserHasActiveSession     = errors.New("user already has an active session")
	ErrFeedClosed               = errors.New("change feed closed")
)

// Store is the durable, multi-tenant document store. Every read and write is
// scoped by business id.
type Store interface {
	Registers() RegisterRepository
	Sessions() SessionRepository
	Claims() ClaimRepository
	Users() UserRepository
	Feed() ChangeFeed
	Ping(ctx context.Context) error
	Close() error
}

type RegisterFilter struct {
	AdminStatus *model.AdminStatus
}

type RegisterRepository interface {
	Create(ctx context.Context, r *model.Register) error
	FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Register, error)
	List(ctx context.Context, businessID uuid.UUID, filter RegisterFilter) ([]model.Register, error)
	// UpdateAdmin writes name, location, admin_status and last_activity only,
	// bumps the version and reloads r.
	UpdateAdmin(ctx context.Context, r *model.Register) error
	// Delete fails with ErrRegisterHasActiveSession while an active session
	// references the register. The check and the delete are one write.
	Delete(ctx context.Context, businessID, id uuid.UUID) error
	// ListClaimedBefore spans every business. Only the stale claim monitor
	// uses it.
	ListClaimedBefore(ctx context.Context, cutoff time.Time) ([]model.Register, error)
}

type SessionFilter struct {
	RegisterID *uuid.UUID
	UserID     *uuid.UUID
	Status     *model.SessionStatus
}

type SessionRepository interface {
	FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Session, error)
	FindActiveByUser(ctx context.Context, businessID, userID uuid.UUID) (*model.Session, error)
	FindActiveByRegister(ctx context.Context, businessID, registerID uuid.UUID) (*model.Session, error)
	// List returns one page ordered by start_time descending, plus the total count.
	List(ctx context.Context, businessID uuid.UUID, filter SessionFilter, page, limit int) ([]model.Session, int64, error)
	// AddSale increments total_sales and total_transactions on an active
	// session. ErrConditionFailed if the session is closed.
	AddSale(ctx context.Context, businessID, id uuid.UUID, amount decimal.Decimal) (*model.Session, error)
}

// ClaimRepository holds the two conditional primitives that own the claim
// fields of a register. Nothing else writes them.
type ClaimRepository interface {
	// Claim persists s (status active) and sets the claim on s.RegisterID,
	// only if the register exists, is unclaimed and its admin status is
	// active. Either both writes land or neither does.
	//
	// Errors: ErrNotFound, ErrRegisterHasActiveSession (someone holds it),
	// ErrUserHasActiveSession, ErrConditionFailed (register not active).
	Claim(ctx context.Context, s *model.Session) (*model.Register, error)

	// Release closes the session if it is still active and clears the
	// register claim only if it still references this session. cleared is
	// false when the claim had already moved on.
	//
	// Errors: ErrNotFound, ErrConditionFailed (already closed).
	Release(ctx context.Context, businessID, sessionID uuid.UUID, endTime time.Time, endingAmount decimal.Decimal) (s *model.Session, cleared bool, err error)

	// ClearOrphan clears the claim on registerID only if it still references
	// sessionID and that session is missing or no longer active. cleared is
	// false when either condition no longer holds.
	ClearOrphan(ctx context.Context, businessID, registerID, sessionID uuid.UUID, at time.Time) (cleared bool, err error)
}

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// ChangeFeed pushes every committed change of a business to its subscribers,
// in commit order per document. The channel closes when ctx is done or the
// feed shuts down.
type ChangeFeed interface {
	Subscribe(ctx context.Context, businessID uuid.UUID) (<-chan model.ChangeEvent, error)
}

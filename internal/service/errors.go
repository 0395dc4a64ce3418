package service

import "errors"

// Domain errors returned by the services. Handlers map them to HTTP statuses
// and stable codes; anything else is an internal error.
var (
	ErrRegisterNotFound    = errors.New("register not found")
	ErrRegisterUnavailable = errors.New("register is not active")
	ErrRegisterOccupied    = errors.New("register is occupied")
	ErrRegisterInUse       = errors.New("register has an active session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrNotSessionOwner     = errors.New("session belongs to another user")
	ErrAlreadyClosed       = errors.New("session is already closed")
	ErrUserAlreadyActive   = errors.New("user already has an active session on another register")

	// ErrClaimInconsistency is logged and counted when a claim and its session
	// disagree. It is never returned to callers.
	ErrClaimInconsistency = errors.New("register claim and session disagree")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// ErrorCode returns the stable client-facing code of a domain error, or ""
// for anything that should surface as an internal error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRegisterNotFound):
		return "register_not_found"
	case errors.Is(err, ErrRegisterUnavailable):
		return "register_unavailable"
	case errors.Is(err, ErrRegisterOccupied):
		return "register_occupied"
	case errors.Is(err, ErrRegisterInUse):
		return "register_in_use"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrNotSessionOwner):
		return "not_session_owner"
	case errors.Is(err, ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, ErrUserAlreadyActive):
		return "user_already_active"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	}
	return ""
}

package service

import (
	"time"

	"github.com/google/uuid"
)

// Caller identifies the authenticated user a request acts for. It comes from
// the verified access token, never from the request body.
type Caller struct {
	UserID      uuid.UUID
	BusinessID  uuid.UUID
	DisplayName string
	Role        string
}

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

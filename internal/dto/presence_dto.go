package dto

import "time"

// PresenceSnapshot is what every client renders: all registers of the
// business with their derived status, the subset that can be claimed now, and
// the caller's own active session if any.
type PresenceSnapshot struct {
	Registers     []RegisterResponse `json:"registers"`
	Available     []RegisterResponse `json:"available"`
	ActiveSession *SessionResponse   `json:"active_session"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

package model

// RegisterStatus is never stored; it is recomputed on every read.
type RegisterStatus string

const (
	StatusAvailable RegisterStatus = "available"
	StatusOccupied  RegisterStatus = "occupied"
	StatusOffline   RegisterStatus = "offline"
)

// DeriveStatus is a pure function of (adminStatus, claim).
//
//	offline   if adminStatus != active
//	occupied  if claim != nil
//	available otherwise
func DeriveStatus(adminStatus AdminStatus, claim *Claim) RegisterStatus {
	switch {
	case adminStatus != AdminStatusActive:
		return StatusOffline
	case claim != nil:
		return StatusOccupied
	default:
		return StatusAvailable
	}
}

package model

import "github.com/google/uuid"

type Collection string

const (
	CollectionRegisters Collection = "registers"
	CollectionSessions  Collection = "sessions"
)

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	// OpResync tells subscribers that events may have been lost and state must be reloaded.
	OpResync ChangeOp = "resync"
)

// ChangeEvent is one committed change pushed to subscribers of a business.
// Register or Session carries the document after the change; both are nil for deletes and resyncs.
type ChangeEvent struct {
	Collection Collection
	Op         ChangeOp
	BusinessID uuid.UUID
	ID         uuid.UUID
	Version    int64
	Register   *Register
	Session    *Session
}

// RegisterChanged builds the event for a register write.
func RegisterChanged(op ChangeOp, r *Register) ChangeEvent {
	cp := *r
	return ChangeEvent{
		Collection: CollectionRegisters,
		Op:         op,
		BusinessID: r.BusinessID,
		ID:         r.ID,
		Version:    r.Version,
		Register:   &cp,
	}
}

// SessionChanged builds the event for a session write.
func SessionChanged(op ChangeOp, s *Session) ChangeEvent {
	cp := *s
	return ChangeEvent{
		Collection: CollectionSessions,
		Op:         op,
		BusinessID: s.BusinessID,
		ID:         s.ID,
		Version:    s.Version,
		Session:    &cp,
	}
}

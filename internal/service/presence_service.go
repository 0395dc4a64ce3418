package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"registerhub/internal/dto"
	"registerhub/internal/model"
	"registerhub/internal/observability/metrics"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PresenceService is the read-only projection every client renders. It never
// writes to the store.
type PresenceService interface {
	Snapshot(ctx context.Context, caller Caller) (*dto.PresenceSnapshot, error)
	// Watch emits a snapshot on every relevant change until ctx is done or
	// the feed ends. A slow reader only ever sees the latest snapshot.
	Watch(ctx context.Context, caller Caller) (<-chan dto.PresenceSnapshot, error)
}

type presenceService struct {
	registers repository.RegisterRepository
	sessions  repository.SessionRepository
	feed      repository.ChangeFeed
	now       Clock
}

func NewPresenceService(registers repository.RegisterRepository, sessions repository.SessionRepository, feed repository.ChangeFeed, now Clock) PresenceService {
	if now == nil {
		now = systemClock
	}
	return &presenceService{registers: registers, sessions: sessions, feed: feed, now: now}
}

func (p *presenceService) Snapshot(ctx context.Context, caller Caller) (*dto.PresenceSnapshot, error) {
	st := newPresenceState(caller.UserID)
	if err := p.load(ctx, caller, st); err != nil {
		return nil, err
	}
	snap := st.snapshot(p.now())
	return &snap, nil
}

func (p *presenceService) Watch(ctx context.Context, caller Caller) (<-chan dto.PresenceSnapshot, error) {
	// Subscribe before loading: anything committed after the load is already
	// queued, and anything older is dropped by version.
	events, err := p.feed.Subscribe(ctx, caller.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	st := newPresenceState(caller.UserID)
	if err := p.load(ctx, caller, st); err != nil {
		return nil, err
	}

	out := make(chan dto.PresenceSnapshot, 1)
	metrics.IncPresenceWatchers()
	go func() {
		defer metrics.DecPresenceWatchers()
		defer close(out)

		offer(out, st.snapshot(p.now()))
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				changed := false
				if evt.Op == model.OpResync || st.stale {
					if err := p.load(ctx, caller, st); err != nil {
						if ctx.Err() != nil {
							return
						}
						st.stale = true
						log.Warn().Err(err).
							Str("business_id", caller.BusinessID.String()).
							Msg("presence: reload failed; retrying on next event")
						continue
					}
					changed = true
				}
				if st.apply(evt) {
					changed = true
				}
				if changed {
					offer(out, st.snapshot(p.now()))
				}
			}
		}
	}()
	return out, nil
}

func (p *presenceService) load(ctx context.Context, caller Caller, st *presenceState) error {
	list, err := p.registers.List(ctx, caller.BusinessID, repository.RegisterFilter{})
	if err != nil {
		return fmt.Errorf("load registers: %w", err)
	}
	active, err := p.sessions.FindActiveByUser(ctx, caller.BusinessID, caller.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load active session: %w", err)
	}
	st.reset(list, active)
	return nil
}

// offer replaces whatever snapshot is still pending in out. Only one goroutine
// sends on out, so the loop ends after at most one drain.
func offer(out chan dto.PresenceSnapshot, snap dto.PresenceSnapshot) {
	for {
		select {
		case out <- snap:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}

// ── presenceState ─────────────────────────────────────────────────────────────

// presenceState is the in-memory projection of one watcher. Not safe for
// concurrent use; it is owned by the Watch goroutine.
type presenceState struct {
	userID    uuid.UUID
	registers map[uuid.UUID]model.Register
	active    *model.Session
	// versions of the caller's sessions seen so far
	sessionVersions map[uuid.UUID]int64
	stale           bool
}

func newPresenceState(userID uuid.UUID) *presenceState {
	return &presenceState{
		userID:          userID,
		registers:       make(map[uuid.UUID]model.Register),
		sessionVersions: make(map[uuid.UUID]int64),
	}
}

func (st *presenceState) reset(list []model.Register, active *model.Session) {
	st.registers = make(map[uuid.UUID]model.Register, len(list))
	for _, r := range list {
		st.registers[r.ID] = r
	}
	st.sessionVersions = make(map[uuid.UUID]int64)
	st.active = nil
	if active != nil {
		cp := *active
		st.active = &cp
		st.sessionVersions[cp.ID] = cp.Version
	}
	st.stale = false
}

// apply folds one event into the state and reports whether anything visible
// changed. Events at or below the held version are ignored.
func (st *presenceState) apply(evt model.ChangeEvent) bool {
	switch evt.Collection {
	case model.CollectionRegisters:
		if evt.Op == model.OpDelete {
			if _, ok := st.registers[evt.ID]; !ok {
				return false
			}
			delete(st.registers, evt.ID)
			return true
		}
		if evt.Register == nil {
			return false
		}
		if cur, ok := st.registers[evt.ID]; ok && evt.Register.Version <= cur.Version {
			return false
		}
		st.registers[evt.ID] = *evt.Register
		return true

	case model.CollectionSessions:
		if evt.Op == model.OpDelete {
			if st.active != nil && st.active.ID == evt.ID {
				st.active = nil
				return true
			}
			return false
		}
		s := evt.Session
		if s == nil || s.UserID != st.userID {
			return false
		}
		if v, ok := st.sessionVersions[s.ID]; ok && s.Version <= v {
			return false
		}
		st.sessionVersions[s.ID] = s.Version
		if s.IsActive() {
			cp := *s
			st.active = &cp
			return true
		}
		if st.active != nil && st.active.ID == s.ID {
			st.active = nil
			return true
		}
	}
	return false
}

func (st *presenceState) snapshot(now time.Time) dto.PresenceSnapshot {
	list := make([]model.Register, 0, len(st.registers))
	for _, r := range st.registers {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID.String() < list[j].ID.String()
	})

	snap := dto.PresenceSnapshot{
		Registers:   make([]dto.RegisterResponse, 0, len(list)),
		Available:   make([]dto.RegisterResponse, 0),
		GeneratedAt: now,
	}
	for i := range list {
		r := dto.NewRegisterResponse(&list[i])
		snap.Registers = append(snap.Registers, r)
		if r.Status == model.StatusAvailable {
			snap.Available = append(snap.Available, r)
		}
	}
	if st.active != nil {
		a := dto.NewSessionResponse(st.active)
		snap.ActiveSession = &a
	}
	return snap
}

// Package memory is an in-process Store. Each primitive runs inside one
// critical section, which gives it the same conditional-write semantics as the
// database backends. It backs the unit tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"registerhub/internal/model"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu        sync.RWMutex
	registers map[uuid.UUID]*model.Register
	sessions  map[uuid.UUID]*model.Session
	users     map[uuid.UUID]*model.User
	hub       *repository.Hub
}

func New() *Store {
	return &Store{
		registers: make(map[uuid.UUID]*model.Register),
		sessions:  make(map[uuid.UUID]*model.Session),
		users:     make(map[uuid.UUID]*model.User),
		hub:       repository.NewHub(),
	}
}

func (s *Store) Registers() repository.RegisterRepository { return registerRepo{s} }
func (s *Store) Sessions() repository.SessionRepository   { return sessionRepo{s} }
func (s *Store) Claims() repository.ClaimRepository       { return claimRepo{s} }
func (s *Store) Users() repository.UserRepository         { return userRepo{s} }
func (s *Store) Feed() repository.ChangeFeed              { return s.hub }
func (s *Store) Ping(context.Context) error               { return nil }

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

// Hub exposes the fan-out so tests can inject events.
func (s *Store) Hub() *repository.Hub { return s.hub }

// PutSession stores a session as-is, bypassing the claim protocol. Tests use
// it to model external writers and broken states.
func (s *Store) PutSession(sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.hub.Publish(model.SessionChanged(model.OpInsert, &cp))
}

// ForceClaim overwrites a register claim, bypassing the protocol. Tests use it
// to simulate an administrative override.
func (s *Store) ForceClaim(registerID uuid.UUID, c *model.Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registers[registerID]
	if !ok {
		return
	}
	reg.SetClaim(c)
	reg.Version++
	s.hub.Publish(model.RegisterChanged(model.OpUpdate, reg))
}

// ── registers ────────────────────────────────────────────────────────────────

type registerRepo struct{ s *Store }

func (r registerRepo) Create(_ context.Context, reg *model.Register) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	if reg.Version == 0 {
		reg.Version = 1
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now()
	}
	cp := *reg
	r.s.registers[reg.ID] = &cp
	r.s.hub.Publish(model.RegisterChanged(model.OpInsert, &cp))
	return nil
}

func (r registerRepo) FindByID(_ context.Context, businessID, id uuid.UUID) (*model.Register, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	reg, ok := r.s.registers[id]
	if !ok || reg.BusinessID != businessID {
		return nil, repository.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (r registerRepo) List(_ context.Context, businessID uuid.UUID, filter repository.RegisterFilter) ([]model.Register, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Register, 0)
	for _, reg := range r.s.registers {
		if reg.BusinessID != businessID {
			continue
		}
		if filter.AdminStatus != nil && reg.AdminStatus != *filter.AdminStatus {
			continue
		}
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r registerRepo) ListClaimedBefore(_ context.Context, cutoff time.Time) ([]model.Register, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Register, 0)
	for _, reg := range r.s.registers {
		if c := reg.Claim(); c != nil && c.ClaimedAt.Before(cutoff) {
			out = append(out, *reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Claim().ClaimedAt.Before(out[j].Claim().ClaimedAt) })
	return out, nil
}

func (r registerRepo) UpdateAdmin(_ context.Context, reg *model.Register) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.registers[reg.ID]
	if !ok || cur.BusinessID != reg.BusinessID {
		return repository.ErrNotFound
	}
	cur.Name = reg.Name
	cur.Location = reg.Location
	cur.AdminStatus = reg.AdminStatus
	cur.LastActivity = reg.LastActivity
	cur.Version++
	*reg = *cur
	r.s.hub.Publish(model.RegisterChanged(model.OpUpdate, cur))
	return nil
}

func (r registerRepo) Delete(_ context.Context, businessID, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.registers[id]
	if !ok || reg.BusinessID != businessID {
		return repository.ErrNotFound
	}
	if r.s.activeByRegister(id) != nil {
		return repository.ErrRegisterHasActiveSession
	}
	delete(r.s.registers, id)
	r.s.hub.Publish(model.ChangeEvent{
		Collection: model.CollectionRegisters,
		Op:         model.OpDelete,
		BusinessID: businessID,
		ID:         id,
		Version:    reg.Version + 1,
	})
	return nil
}

// ── sessions ─────────────────────────────────────────────────────────────────

type sessionRepo struct{ s *Store }

func (r sessionRepo) FindByID(_ context.Context, businessID, id uuid.UUID) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.BusinessID != businessID {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r sessionRepo) FindActiveByUser(_ context.Context, businessID, userID uuid.UUID) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess := r.s.activeByUser(userID)
	if sess == nil || sess.BusinessID != businessID {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r sessionRepo) FindActiveByRegister(_ context.Context, businessID, registerID uuid.UUID) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess := r.s.activeByRegister(registerID)
	if sess == nil || sess.BusinessID != businessID {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r sessionRepo) List(_ context.Context, businessID uuid.UUID, filter repository.SessionFilter, page, limit int) ([]model.Session, int64, error) {
	r.s.mu.RLock()
	all := make([]model.Session, 0)
	for _, sess := range r.s.sessions {
		if sess.BusinessID != businessID {
			continue
		}
		if filter.RegisterID != nil && sess.RegisterID != *filter.RegisterID {
			continue
		}
		if filter.UserID != nil && sess.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && sess.Status != *filter.Status {
			continue
		}
		all = append(all, *sess)
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return []model.Session{}, total, nil
	}
	end := min(start+limit, len(all))
	return all[start:end], total, nil
}

func (r sessionRepo) AddSale(_ context.Context, businessID, id uuid.UUID, amount decimal.Decimal) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.BusinessID != businessID {
		return nil, repository.ErrNotFound
	}
	if !sess.IsActive() {
		return nil, repository.ErrConditionFailed
	}
	sess.TotalSales = sess.TotalSales.Add(amount)
	sess.TotalTransactions++
	sess.Version++
	r.s.hub.Publish(model.SessionChanged(model.OpUpdate, sess))
	cp := *sess
	return &cp, nil
}

// ── claims ───────────────────────────────────────────────────────────────────

type claimRepo struct{ s *Store }

func (r claimRepo) Claim(_ context.Context, sess *model.Session) (*model.Register, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	reg, ok := r.s.registers[sess.RegisterID]
	if !ok || reg.BusinessID != sess.BusinessID {
		return nil, repository.ErrNotFound
	}
	if r.s.activeByRegister(sess.RegisterID) != nil || reg.Claim() != nil {
		return nil, repository.ErrRegisterHasActiveSession
	}
	if r.s.activeByUser(sess.UserID) != nil {
		return nil, repository.ErrUserHasActiveSession
	}
	if reg.AdminStatus != model.AdminStatusActive {
		return nil, repository.ErrConditionFailed
	}

	if sess.Version == 0 {
		sess.Version = 1
	}
	stored := *sess
	r.s.sessions[sess.ID] = &stored
	r.s.hub.Publish(model.SessionChanged(model.OpInsert, &stored))

	reg.SetClaim(&model.Claim{UserID: sess.UserID, SessionID: sess.ID, ClaimedAt: sess.StartTime})
	reg.LastActivity = sess.StartTime
	reg.Version++
	r.s.hub.Publish(model.RegisterChanged(model.OpUpdate, reg))

	cp := *reg
	return &cp, nil
}

func (r claimRepo) Release(_ context.Context, businessID, sessionID uuid.UUID, endTime time.Time, endingAmount decimal.Decimal) (*model.Session, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[sessionID]
	if !ok || sess.BusinessID != businessID {
		return nil, false, repository.ErrNotFound
	}
	if !sess.IsActive() {
		return nil, false, repository.ErrConditionFailed
	}
	end, amount := endTime, endingAmount
	sess.Status = model.SessionClosed
	sess.EndTime = &end
	sess.EndingAmount = &amount
	sess.Version++
	r.s.hub.Publish(model.SessionChanged(model.OpUpdate, sess))

	cleared := false
	if reg, ok := r.s.registers[sess.RegisterID]; ok {
		if c := reg.Claim(); c != nil && c.SessionID == sessionID {
			reg.SetClaim(nil)
			reg.LastActivity = endTime
			reg.Version++
			cleared = true
			r.s.hub.Publish(model.RegisterChanged(model.OpUpdate, reg))
		}
	}
	cp := *sess
	return &cp, cleared, nil
}

// ClearOrphan mirrors the database backends: the claim must still reference
// sessionID and that session must not be active.
func (r claimRepo) ClearOrphan(_ context.Context, businessID, registerID, sessionID uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	reg, ok := r.s.registers[registerID]
	if !ok || reg.BusinessID != businessID {
		return false, nil
	}
	if c := reg.Claim(); c == nil || c.SessionID != sessionID {
		return false, nil
	}
	if sess, ok := r.s.sessions[sessionID]; ok && sess.IsActive() {
		return false, nil
	}
	reg.SetClaim(nil)
	reg.LastActivity = at
	reg.Version++
	r.s.hub.Publish(model.RegisterChanged(model.OpUpdate, reg))
	return true, nil
}

// ── users ────────────────────────────────────────────────────────────────────

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r userRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Username, username) && u.Active {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r userRepo) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// ── helpers (caller holds mu) ────────────────────────────────────────────────

func (s *Store) activeByRegister(registerID uuid.UUID) *model.Session {
	for _, sess := range s.sessions {
		if sess.RegisterID == registerID && sess.IsActive() {
			return sess
		}
	}
	return nil
}

func (s *Store) activeByUser(userID uuid.UUID) *model.Session {
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive() {
			return sess
		}
	}
	return nil
}

var _ repository.Store = (*Store)(nil)

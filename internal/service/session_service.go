package service

import (
	"context"
	"errors"
	"fmt"

	"registerhub/internal/dto"
	"registerhub/internal/model"
	"registerhub/internal/observability/metrics"
	"registerhub/internal/observability/tracing"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SessionService is the only writer of register claims. Mutual exclusion
// comes from the store's conditional Claim/Release primitives, so any number
// of instances can run it concurrently.
type SessionService interface {
	StartSession(ctx context.Context, caller Caller, registerID uuid.UUID, startingAmount decimal.Decimal) (*dto.SessionResponse, error)
	EndSession(ctx context.Context, caller Caller, sessionID uuid.UUID, endingAmount decimal.Decimal) (*dto.SessionResponse, error)
	SwitchRegister(ctx context.Context, caller Caller, registerID uuid.UUID) (*dto.SessionResponse, error)
	GetRegisterStatus(ctx context.Context, businessID, registerID uuid.UUID) (model.RegisterStatus, error)

	// GetActiveSession returns nil without error when the caller holds nothing.
	GetActiveSession(ctx context.Context, caller Caller) (*dto.SessionResponse, error)
	GetSession(ctx context.Context, caller Caller, id uuid.UUID) (*dto.SessionResponse, error)
	ListSessions(ctx context.Context, businessID uuid.UUID, filter repository.SessionFilter, page, limit int) (*dto.SessionListResponse, error)
	// RecordSale is the hook the sales subsystem uses to bump the session totals.
	RecordSale(ctx context.Context, caller Caller, sessionID uuid.UUID, amount decimal.Decimal) (*dto.SessionResponse, error)
}

type sessionService struct {
	registers RegisterService
	sessions  repository.SessionRepository
	claims    repository.ClaimRepository
	now       Clock
}

func NewSessionService(registers RegisterService, sessions repository.SessionRepository, claims repository.ClaimRepository, now Clock) SessionService {
	if now == nil {
		now = systemClock
	}
	return &sessionService{registers: registers, sessions: sessions, claims: claims, now: now}
}

// ── StartSession ──────────────────────────────────────────────────────────────

func (s *sessionService) StartSession(ctx context.Context, caller Caller, registerID uuid.UUID, startingAmount decimal.Decimal) (resp *dto.SessionResponse, err error) {
	ctx, span := s.startSpan(ctx, "SessionService.StartSession", caller,
		attribute.String("register_id", registerID.String()))
	defer func() { s.finish(span, "start", err) }()

	reg, err := s.registers.GetRegister(ctx, caller.BusinessID, registerID)
	if err != nil {
		return nil, err
	}
	if reg.AdminStatus != model.AdminStatusActive {
		return nil, ErrRegisterUnavailable
	}
	if claim := reg.Claim(); claim != nil {
		held, err := s.claimedSession(ctx, caller, reg, claim)
		if err != nil {
			return nil, err
		}
		if held != nil {
			if held.UserID != caller.UserID {
				return nil, ErrRegisterOccupied
			}
			// Re-entrant: the caller already holds this register.
			out := dto.NewSessionResponse(held)
			return &out, nil
		}
		// The orphaned claim is gone; claim normally.
	}

	now := s.now()
	sess := &model.Session{
		ID:              uuid.New(),
		RegisterID:      registerID,
		BusinessID:      caller.BusinessID,
		UserID:          caller.UserID,
		UserDisplayName: caller.DisplayName,
		StartTime:       now,
		StartingAmount:  startingAmount,
		TotalSales:      decimal.Zero,
		Status:          model.SessionActive,
		Version:         1,
	}

	_, err = s.claims.Claim(ctx, sess)
	switch {
	case err == nil:
		log.Info().
			Str("session_id", sess.ID.String()).
			Str("register_id", registerID.String()).
			Str("user_id", caller.UserID.String()).
			Str("business_id", caller.BusinessID.String()).
			Msg("session started")
		out := dto.NewSessionResponse(sess)
		return &out, nil

	case errors.Is(err, repository.ErrRegisterHasActiveSession):
		// A concurrent submit by the same user may be the winner.
		if held, ferr := s.sessions.FindActiveByRegister(ctx, caller.BusinessID, registerID); ferr == nil && held.UserID == caller.UserID {
			out := dto.NewSessionResponse(held)
			return &out, nil
		}
		metrics.IncClaimRaceLost()
		log.Info().
			Str("register_id", registerID.String()).
			Str("user_id", caller.UserID.String()).
			Str("business_id", caller.BusinessID.String()).
			Msg("claim race lost")
		return nil, ErrRegisterOccupied

	case errors.Is(err, repository.ErrUserHasActiveSession):
		if held, ferr := s.sessions.FindActiveByUser(ctx, caller.BusinessID, caller.UserID); ferr == nil && held.RegisterID == registerID {
			out := dto.NewSessionResponse(held)
			return &out, nil
		}
		return nil, ErrUserAlreadyActive

	case errors.Is(err, repository.ErrConditionFailed):
		// Disabled between the read and the claim.
		return nil, ErrRegisterUnavailable

	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrRegisterNotFound

	default:
		return nil, fmt.Errorf("claim register: %w", err)
	}
}

// claimedSession returns the active session behind a claim. A claim whose
// session is missing or closed is an orphan left by a partial failure: it is
// cleared conditionally and nil is returned so the caller can claim.
func (s *sessionService) claimedSession(ctx context.Context, caller Caller, reg *model.Register, claim *model.Claim) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, caller.BusinessID, claim.SessionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find claimed session: %w", err)
	}
	if err == nil && sess.IsActive() {
		return sess, nil
	}

	cleared, err := s.claims.ClearOrphan(ctx, caller.BusinessID, reg.ID, claim.SessionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("clear orphaned claim: %w", err)
	}
	// Not cleared: a release or another healer got there first.
	if cleared {
		metrics.IncClaimInconsistency()
		log.Warn().
			Err(ErrClaimInconsistency).
			Str("register_id", reg.ID.String()).
			Str("session_id", claim.SessionID.String()).
			Str("user_id", claim.UserID.String()).
			Str("business_id", caller.BusinessID.String()).
			Msg("cleared claim on a missing or closed session")
	}
	return nil, nil
}

// ── EndSession ────────────────────────────────────────────────────────────────

func (s *sessionService) EndSession(ctx context.Context, caller Caller, sessionID uuid.UUID, endingAmount decimal.Decimal) (resp *dto.SessionResponse, err error) {
	ctx, span := s.startSpan(ctx, "SessionService.EndSession", caller,
		attribute.String("session_id", sessionID.String()))
	defer func() { s.finish(span, "end", err) }()

	sess, err := s.findSession(ctx, caller.BusinessID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != caller.UserID {
		return nil, ErrNotSessionOwner
	}
	if !sess.IsActive() {
		return nil, ErrAlreadyClosed
	}

	closed, cleared, err := s.claims.Release(ctx, caller.BusinessID, sessionID, s.now(), endingAmount)
	switch {
	case errors.Is(err, repository.ErrConditionFailed):
		return nil, ErrAlreadyClosed
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("release register: %w", err)
	}

	if !cleared {
		metrics.IncClaimInconsistency()
		log.Warn().
			Err(ErrClaimInconsistency).
			Str("session_id", sessionID.String()).
			Str("register_id", closed.RegisterID.String()).
			Str("user_id", caller.UserID.String()).
			Str("business_id", caller.BusinessID.String()).
			Msg("register claim had moved on; session closed anyway")
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Str("register_id", closed.RegisterID.String()).
		Str("user_id", caller.UserID.String()).
		Msg("session ended")

	out := dto.NewSessionResponse(closed)
	return &out, nil
}

// ── SwitchRegister ────────────────────────────────────────────────────────────
// Release then claim, not atomic: if the claim fails the caller ends up with
// no session.

func (s *sessionService) SwitchRegister(ctx context.Context, caller Caller, registerID uuid.UUID) (resp *dto.SessionResponse, err error) {
	ctx, span := s.startSpan(ctx, "SessionService.SwitchRegister", caller,
		attribute.String("register_id", registerID.String()))
	defer func() { s.finish(span, "switch", err) }()

	current, err := s.sessions.FindActiveByUser(ctx, caller.BusinessID, caller.UserID)
	switch {
	case err == nil:
		if current.RegisterID == registerID {
			out := dto.NewSessionResponse(current)
			return &out, nil
		}
		if _, err := s.EndSession(ctx, caller, current.ID, decimal.Zero); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			return nil, err
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find active session: %w", err)
	}

	return s.StartSession(ctx, caller, registerID, decimal.Zero)
}

// ── GetRegisterStatus ─────────────────────────────────────────────────────────

func (s *sessionService) GetRegisterStatus(ctx context.Context, businessID, registerID uuid.UUID) (model.RegisterStatus, error) {
	reg, err := s.registers.GetRegister(ctx, businessID, registerID)
	if err != nil {
		return "", err
	}
	return model.DeriveStatus(reg.AdminStatus, reg.Claim()), nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *sessionService) GetActiveSession(ctx context.Context, caller Caller) (*dto.SessionResponse, error) {
	sess, err := s.sessions.FindActiveByUser(ctx, caller.BusinessID, caller.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	out := dto.NewSessionResponse(sess)
	return &out, nil
}

// GetSession lets cashiers read their own sessions; supervisors and admins
// read any session of the business.
func (s *sessionService) GetSession(ctx context.Context, caller Caller, id uuid.UUID) (*dto.SessionResponse, error) {
	sess, err := s.findSession(ctx, caller.BusinessID, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != caller.UserID && caller.Role == model.RoleCashier {
		return nil, ErrNotSessionOwner
	}
	out := dto.NewSessionResponse(sess)
	return &out, nil
}

func (s *sessionService) ListSessions(ctx context.Context, businessID uuid.UUID, filter repository.SessionFilter, page, limit int) (*dto.SessionListResponse, error) {
	list, total, err := s.sessions.List(ctx, businessID, filter, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	data := make([]dto.SessionResponse, len(list))
	for i := range list {
		data[i] = dto.NewSessionResponse(&list[i])
	}
	return &dto.SessionListResponse{Data: data, Total: total, Page: page, Limit: limit}, nil
}

// ── RecordSale ────────────────────────────────────────────────────────────────
// Touches total_sales and total_transactions only; derived register status
// cannot change.

func (s *sessionService) RecordSale(ctx context.Context, caller Caller, sessionID uuid.UUID, amount decimal.Decimal) (resp *dto.SessionResponse, err error) {
	ctx, span := s.startSpan(ctx, "SessionService.RecordSale", caller,
		attribute.String("session_id", sessionID.String()))
	defer func() { s.finish(span, "record_sale", err) }()

	sess, err := s.findSession(ctx, caller.BusinessID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != caller.UserID && caller.Role == model.RoleCashier {
		return nil, ErrNotSessionOwner
	}

	updated, err := s.sessions.AddSale(ctx, caller.BusinessID, sessionID, amount)
	switch {
	case errors.Is(err, repository.ErrConditionFailed):
		return nil, ErrAlreadyClosed
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("record sale: %w", err)
	}
	out := dto.NewSessionResponse(updated)
	return &out, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (s *sessionService) findSession(ctx context.Context, businessID, id uuid.UUID) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, businessID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return sess, nil
}

func (s *sessionService) startSpan(ctx context.Context, name string, caller Caller, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("user_id", caller.UserID.String()),
		attribute.String("business_id", caller.BusinessID.String()),
	)
	return tracing.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish records the outcome on the span and the operation counter.
func (s *sessionService) finish(span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		metrics.ObserveSessionOp(op, "ok")
		return
	}
	code := ErrorCode(err)
	if code == "" {
		code = "internal"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("result", code))
	metrics.ObserveSessionOp(op, code)
}

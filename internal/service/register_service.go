package service

import (
	"context"
	"errors"
	"fmt"

	"registerhub/internal/dto"
	"registerhub/internal/model"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RegisterService manages the register fleet of a business. It never touches
// claim fields; those belong to SessionService.
type RegisterService interface {
	CreateRegister(ctx context.Context, caller Caller, req dto.CreateRegisterRequest) (*dto.RegisterResponse, error)
	UpdateRegister(ctx context.Context, caller Caller, id uuid.UUID, req dto.UpdateRegisterRequest) (*dto.RegisterResponse, error)
	DeleteRegister(ctx context.Context, caller Caller, id uuid.UUID) error
	GetRegister(ctx context.Context, businessID, id uuid.UUID) (*model.Register, error)
	ListRegisters(ctx context.Context, businessID uuid.UUID, filter repository.RegisterFilter) ([]dto.RegisterResponse, error)
}

type registerService struct {
	repo repository.RegisterRepository
	now  Clock
}

func NewRegisterService(repo repository.RegisterRepository, now Clock) RegisterService {
	if now == nil {
		now = systemClock
	}
	return &registerService{repo: repo, now: now}
}

// ── CreateRegister ────────────────────────────────────────────────────────────

func (s *registerService) CreateRegister(ctx context.Context, caller Caller, req dto.CreateRegisterRequest) (*dto.RegisterResponse, error) {
	now := s.now()
	reg := &model.Register{
		ID:           uuid.New(),
		BusinessID:   caller.BusinessID,
		Name:         req.Name,
		Location:     req.Location,
		AdminStatus:  model.AdminStatusActive,
		LastActivity: now,
		Version:      1,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, reg); err != nil {
		return nil, fmt.Errorf("create register: %w", err)
	}
	log.Info().
		Str("register_id", reg.ID.String()).
		Str("business_id", reg.BusinessID.String()).
		Str("by", caller.UserID.String()).
		Msg("register created")

	resp := dto.NewRegisterResponse(reg)
	return &resp, nil
}

// ── UpdateRegister ────────────────────────────────────────────────────────────
// Applies admin fields only. Disabling a claimed register leaves the claim in
// place: the register reads offline until the session ends.

func (s *registerService) UpdateRegister(ctx context.Context, caller Caller, id uuid.UUID, req dto.UpdateRegisterRequest) (*dto.RegisterResponse, error) {
	reg, err := s.GetRegister(ctx, caller.BusinessID, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		reg.Name = *req.Name
	}
	if req.Location != nil {
		reg.Location = *req.Location
	}
	if req.AdminStatus != nil {
		reg.AdminStatus = *req.AdminStatus
	}
	reg.LastActivity = s.now()

	if err := s.repo.UpdateAdmin(ctx, reg); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRegisterNotFound
		}
		return nil, fmt.Errorf("update register: %w", err)
	}
	resp := dto.NewRegisterResponse(reg)
	return &resp, nil
}

// ── DeleteRegister ────────────────────────────────────────────────────────────
// Closed session history is kept.

func (s *registerService) DeleteRegister(ctx context.Context, caller Caller, id uuid.UUID) error {
	err := s.repo.Delete(ctx, caller.BusinessID, id)
	switch {
	case err == nil:
		log.Info().
			Str("register_id", id.String()).
			Str("business_id", caller.BusinessID.String()).
			Str("by", caller.UserID.String()).
			Msg("register deleted")
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrRegisterNotFound
	case errors.Is(err, repository.ErrRegisterHasActiveSession):
		return ErrRegisterInUse
	default:
		return fmt.Errorf("delete register: %w", err)
	}
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *registerService) GetRegister(ctx context.Context, businessID, id uuid.UUID) (*model.Register, error) {
	reg, err := s.repo.FindByID(ctx, businessID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRegisterNotFound
		}
		return nil, fmt.Errorf("find register: %w", err)
	}
	return reg, nil
}

func (s *registerService) ListRegisters(ctx context.Context, businessID uuid.UUID, filter repository.RegisterFilter) ([]dto.RegisterResponse, error) {
	list, err := s.repo.List(ctx, businessID, filter)
	if err != nil {
		return nil, fmt.Errorf("list registers: %w", err)
	}
	resp := make([]dto.RegisterResponse, len(list))
	for i := range list {
		resp[i] = dto.NewRegisterResponse(&list[i])
	}
	return resp, nil
}

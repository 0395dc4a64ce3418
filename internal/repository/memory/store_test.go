package memory

import (
	"context"
	"testing"
	"time"

	"registerhub/internal/model"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRegister(t *testing.T, s *Store, businessID uuid.UUID, admin model.AdminStatus) *model.Register {
	t.Helper()
	r := &model.Register{ID: uuid.New(), BusinessID: businessID, Name: "R", AdminStatus: admin}
	require.NoError(t, s.Registers().Create(context.Background(), r))
	return r
}

func newSession(businessID, registerID, userID uuid.UUID) *model.Session {
	return &model.Session{
		ID:         uuid.New(),
		BusinessID: businessID,
		RegisterID: registerID,
		UserID:     userID,
		StartTime:  time.Now(),
		Status:     model.SessionActive,
	}
}

func TestClaim_Conditions(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	biz := uuid.New()
	r := seedRegister(t, s, biz, model.AdminStatusActive)

	first := newSession(biz, r.ID, uuid.New())
	reg, err := s.Claims().Claim(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, *reg.ClaimSessionID)
	assert.EqualValues(t, 2, reg.Version)

	_, err = s.Claims().Claim(ctx, newSession(biz, r.ID, uuid.New()))
	assert.ErrorIs(t, err, repository.ErrRegisterHasActiveSession)

	r2 := seedRegister(t, s, biz, model.AdminStatusActive)
	_, err = s.Claims().Claim(ctx, newSession(biz, r2.ID, first.UserID))
	assert.ErrorIs(t, err, repository.ErrUserHasActiveSession)

	off := seedRegister(t, s, biz, model.AdminStatusInactive)
	_, err = s.Claims().Claim(ctx, newSession(biz, off.ID, uuid.New()))
	assert.ErrorIs(t, err, repository.ErrConditionFailed)

	_, err = s.Claims().Claim(ctx, newSession(uuid.New(), r2.ID, uuid.New()))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRelease_ClearsOnlyOwnClaim(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	biz := uuid.New()
	r := seedRegister(t, s, biz, model.AdminStatusActive)

	sess := newSession(biz, r.ID, uuid.New())
	_, err := s.Claims().Claim(ctx, sess)
	require.NoError(t, err)

	closed, cleared, err := s.Claims().Release(ctx, biz, sess.ID, time.Now(), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Equal(t, model.SessionClosed, closed.Status)

	_, _, err = s.Claims().Release(ctx, biz, sess.ID, time.Now(), decimal.Zero)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)

	next := newSession(biz, r.ID, uuid.New())
	_, err = s.Claims().Claim(ctx, next)
	require.NoError(t, err)
	s.ForceClaim(r.ID, &model.Claim{UserID: uuid.New(), SessionID: uuid.New()})

	_, cleared, err = s.Claims().Release(ctx, biz, next.ID, time.Now(), decimal.Zero)
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestClaim_PublishesSessionBeforeRegister(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	biz := uuid.New()
	r := seedRegister(t, s, biz, model.AdminStatusActive)

	events, err := s.Feed().Subscribe(ctx, biz)
	require.NoError(t, err)

	sess := newSession(biz, r.ID, uuid.New())
	_, err = s.Claims().Claim(ctx, sess)
	require.NoError(t, err)

	first, second := <-events, <-events
	assert.Equal(t, model.CollectionSessions, first.Collection)
	assert.Equal(t, model.CollectionRegisters, second.Collection)
	assert.Equal(t, sess.ID, *second.Register.ClaimSessionID)
}

func TestDelete_BlockedByActiveSession(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	biz := uuid.New()
	r := seedRegister(t, s, biz, model.AdminStatusActive)

	s.PutSession(newSession(biz, r.ID, uuid.New()))
	assert.ErrorIs(t, s.Registers().Delete(ctx, biz, r.ID), repository.ErrRegisterHasActiveSession)
	assert.ErrorIs(t, s.Registers().Delete(ctx, uuid.New(), r.ID), repository.ErrNotFound)
}

func TestAddSale(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	biz := uuid.New()
	r := seedRegister(t, s, biz, model.AdminStatusActive)
	sess := newSession(biz, r.ID, uuid.New())
	_, err := s.Claims().Claim(ctx, sess)
	require.NoError(t, err)

	got, err := s.Sessions().AddSale(ctx, biz, sess.ID, decimal.NewFromInt(7))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(got.TotalSales))
	assert.Equal(t, 1, got.TotalTransactions)

	_, _, err = s.Claims().Release(ctx, biz, sess.ID, time.Now(), decimal.Zero)
	require.NoError(t, err)
	_, err = s.Sessions().AddSale(ctx, biz, sess.ID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
}

func TestClearOrphan_Conditions(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	biz := uuid.New()
	r := seedRegister(t, s, biz, model.AdminStatusActive)

	sess := newSession(biz, r.ID, uuid.New())
	_, err := s.Claims().Claim(ctx, sess)
	require.NoError(t, err)

	cleared, err := s.Claims().ClearOrphan(ctx, biz, r.ID, sess.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, cleared, "an active session keeps its claim")

	cleared, err = s.Claims().ClearOrphan(ctx, biz, r.ID, uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, cleared, "the claim references another session")

	closed := *sess
	closed.Status = model.SessionClosed
	s.PutSession(&closed)

	cleared, err = s.Claims().ClearOrphan(ctx, uuid.New(), r.ID, sess.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, cleared, "other business")

	cleared, err = s.Claims().ClearOrphan(ctx, biz, r.ID, sess.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, cleared)

	reg, err := s.Registers().FindByID(ctx, biz, r.ID)
	require.NoError(t, err)
	assert.Nil(t, reg.Claim())
}

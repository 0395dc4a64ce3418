package worker

import (
	"context"
	"testing"
	"time"

	"registerhub/internal/infra"
	"registerhub/internal/model"
	"registerhub/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimedRegister(t *testing.T, st *memory.Store, claimedAt time.Time) *model.Register {
	t.Helper()
	reg := &model.Register{ID: uuid.New(), BusinessID: uuid.New(), Name: "R", AdminStatus: model.AdminStatusActive}
	require.NoError(t, st.Registers().Create(context.Background(), reg))
	sess := &model.Session{
		ID:         uuid.New(),
		RegisterID: reg.ID,
		BusinessID: reg.BusinessID,
		UserID:     uuid.New(),
		StartTime:  claimedAt,
		Status:     model.SessionActive,
	}
	_, err := st.Claims().Claim(context.Background(), sess)
	require.NoError(t, err)
	return reg
}

func TestStaleClaimMonitor_ReportsWithoutReleasing(t *testing.T) {
	st := memory.New()
	defer st.Close()
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	old := claimedRegister(t, st, now.Add(-13*time.Hour))
	claimedRegister(t, st, now.Add(-time.Hour))

	m := NewStaleClaimMonitor(StaleClaimConfig{
		Registers: st.Registers(),
		After:     12 * time.Hour,
		Interval:  time.Minute,
		Now:       func() time.Time { return now },
	})
	n, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reg, err := st.Registers().FindByID(context.Background(), old.BusinessID, old.ID)
	require.NoError(t, err)
	assert.NotNil(t, reg.Claim(), "the monitor must not release claims")
}

func TestStaleClaimMonitor_RunsWhenLockStoreIsDown(t *testing.T) {
	st := memory.New()
	defer st.Close()
	claimedRegister(t, st, time.Now().Add(-48*time.Hour))

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()

	m := NewStaleClaimMonitor(StaleClaimConfig{
		Registers: st.Registers(),
		RDB:       rdb,
		CB:        infra.NewCircuitBreaker(infra.DefaultCBConfig("redis")),
		After:     time.Hour,
		Interval:  time.Minute,
	})
	n, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStaleClaimMonitor_StartStop(t *testing.T) {
	st := memory.New()
	defer st.Close()
	m := NewStaleClaimMonitor(StaleClaimConfig{Registers: st.Registers(), Interval: time.Hour})
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

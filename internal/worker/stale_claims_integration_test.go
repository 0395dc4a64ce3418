//go:build integration

package worker

import (
	"context"
	"testing"
	"time"

	"registerhub/internal/infra"
	"registerhub/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestStaleClaimMonitor_OneInstancePerTick(t *testing.T) {
	ctx := context.Background()
	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(url)
	require.NoError(t, err)
	defer rdb.Close()

	st := memory.New()
	defer st.Close()
	claimedRegister(t, st, time.Now().Add(-48*time.Hour))

	newMonitor := func() *StaleClaimMonitor {
		return NewStaleClaimMonitor(StaleClaimConfig{
			Registers: st.Registers(),
			RDB:       rdb,
			CB:        infra.NewCircuitBreaker(infra.DefaultCBConfig("redis")),
			After:     time.Hour,
			Interval:  time.Minute,
		})
	}

	n, err := newMonitor().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = newMonitor().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, n, "second instance must skip while the lock is held")
}

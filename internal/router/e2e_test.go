//go:build integration

package router

// End-to-end tests against real Postgres + Redis via testcontainers.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"registerhub/internal/config"
	"registerhub/internal/infra"
	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"golang.org/x/crypto/bcrypt"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func do(t *testing.T, srv *httptest.Server, method, path string, body *bytes.Buffer, token string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, srv.URL+path, body)
	} else {
		req, err = http.NewRequest(method, srv.URL+path, nil)
	}
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

// ── Test Suite Setup ─────────────────────────────────────────────────────────

const e2ePassword = "registerhub-e2e"

type testEnv struct {
	server *httptest.Server
	tokens map[string]string // username → access token
}

func setupTestEnv(t *testing.T, users map[string]string) *testEnv {
	t.Helper()
	ctx := context.Background()

	// Start Postgres container
	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("registerhub_test"),
		tcPostgres.WithUsername("registerhub"),
		tcPostgres.WithPassword("registerhub"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Start Redis container
	rdC, err := tcRedis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		Port:               8000,
		Env:                "test",
		StoreDriver:        "postgres",
		DatabaseURL:        pgURL,
		RedisURL:           rdURL,
		JWTSecret:          "test-secret-key",
		JWTExpirationHours: 8,
		JWTRefreshHours:    24,
		RateLimitPerMinute: 10000,
	}

	runCtx, cancel := context.WithCancel(ctx)
	store, runFeed, err := infra.OpenStore(runCtx, cfg)
	require.NoError(t, err)
	go runFeed(runCtx)
	t.Cleanup(func() {
		cancel()
		_ = store.Close()
	})

	rdb, err := infra.NewRedis(cfg.RedisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	// Seed users, all in one business
	hash, err := bcrypt.GenerateFromPassword([]byte(e2ePassword), bcrypt.MinCost)
	require.NoError(t, err)
	businessID := uuid.New()
	for username, role := range users {
		require.NoError(t, store.Users().Create(ctx, &model.User{
			ID:           uuid.New(),
			BusinessID:   businessID,
			Username:     username,
			DisplayName:  username,
			PasswordHash: string(hash),
			Role:         role,
			Active:       true,
		}))
	}

	r := New(cfg, Deps{Store: store, Redis: rdb, RedisCB: infra.NewCircuitBreaker(infra.DefaultCBConfig("redis"))})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	env := &testEnv{server: srv, tokens: map[string]string{}}
	for username := range users {
		resp := do(t, srv, "POST", "/v1/auth/login",
			jsonBody(t, map[string]string{"username": username, "password": e2ePassword}), "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			AccessToken string `json:"access_token"`
		}
		decodeJSON(t, resp, &body)
		require.NotEmpty(t, body.AccessToken)
		env.tokens[username] = body.AccessToken
	}
	return env
}

func (env *testEnv) createRegister(t *testing.T, admin, name string) string {
	t.Helper()
	resp := do(t, env.server, "POST", "/v1/registers", jsonBody(t, map[string]string{"name": name}), env.tokens[admin])
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reg struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &reg)
	return reg.ID
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestE2E_FullSessionCycle(t *testing.T) {
	env := setupTestEnv(t, map[string]string{"boss": model.RoleAdmin, "ana": model.RoleCashier})
	r1 := env.createRegister(t, "boss", "Front 1")

	// 1. Claim
	startResp := do(t, env.server, "POST", "/v1/sessions",
		jsonBody(t, map[string]any{"register_id": r1, "starting_amount": "200.00"}), env.tokens["ana"])
	require.Equal(t, http.StatusCreated, startResp.StatusCode)
	var sess struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeJSON(t, startResp, &sess)
	assert.Equal(t, "active", sess.Status)

	// 2. Status is occupied
	stResp := do(t, env.server, "GET", "/v1/registers/"+r1+"/status", nil, env.tokens["boss"])
	require.Equal(t, http.StatusOK, stResp.StatusCode)
	var st struct {
		Status string `json:"status"`
	}
	decodeJSON(t, stResp, &st)
	assert.Equal(t, "occupied", st.Status)

	// 3. Record a sale
	saleResp := do(t, env.server, "POST", "/v1/sessions/"+sess.ID+"/sales",
		jsonBody(t, map[string]string{"amount": "49.90"}), env.tokens["ana"])
	require.Equal(t, http.StatusOK, saleResp.StatusCode)
	saleResp.Body.Close()

	// 4. Close
	closeResp := do(t, env.server, "POST", "/v1/sessions/"+sess.ID+"/close",
		jsonBody(t, map[string]string{"ending_amount": "249.90"}), env.tokens["ana"])
	require.Equal(t, http.StatusOK, closeResp.StatusCode)
	var closed struct {
		TotalSales        string `json:"total_sales"`
		TotalTransactions int    `json:"total_transactions"`
	}
	decodeJSON(t, closeResp, &closed)
	assert.Equal(t, "49.9", closed.TotalSales)
	assert.Equal(t, 1, closed.TotalTransactions)

	// 5. History
	histResp := do(t, env.server, "GET", "/v1/sessions?register_id="+r1, nil, env.tokens["boss"])
	require.Equal(t, http.StatusOK, histResp.StatusCode)
	var hist struct {
		Total int `json:"total"`
	}
	decodeJSON(t, histResp, &hist)
	assert.Equal(t, 1, hist.Total)
}

func TestE2E_ConcurrentStartSingleWinner(t *testing.T) {
	users := map[string]string{"boss": model.RoleAdmin}
	cashiers := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9"}
	for _, c := range cashiers {
		users[c] = model.RoleCashier
	}
	env := setupTestEnv(t, users)
	r1 := env.createRegister(t, "boss", "Busy")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
		start = make(chan struct{})
	)
	for _, c := range cashiers {
		token := env.tokens[c]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp := do(t, env.server, "POST", "/v1/sessions", jsonBody(t, map[string]string{"register_id": r1}), token)
			resp.Body.Close()
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, codes[http.StatusCreated])
	assert.Equal(t, len(cashiers)-1, codes[http.StatusConflict])
}

func TestE2E_PresenceSnapshotFollowsClaim(t *testing.T) {
	env := setupTestEnv(t, map[string]string{"boss": model.RoleAdmin, "ana": model.RoleCashier})
	r1 := env.createRegister(t, "boss", "Front 1")

	resp := do(t, env.server, "POST", "/v1/sessions", jsonBody(t, map[string]string{"register_id": r1}), env.tokens["ana"])
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		resp := do(t, env.server, "GET", "/v1/presence", nil, env.tokens["boss"])
		var snap struct {
			Available []json.RawMessage `json:"available"`
			Registers []struct {
				Status string `json:"status"`
			} `json:"registers"`
		}
		decodeJSON(t, resp, &snap)
		return len(snap.Registers) == 1 && snap.Registers[0].Status == "occupied" && len(snap.Available) == 0
	}, 5*time.Second, 100*time.Millisecond)
}

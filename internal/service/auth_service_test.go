package service_test

import (
	"context"
	"testing"

	"registerhub/internal/config"
	"registerhub/internal/dto"
	"registerhub/internal/model"
	"registerhub/internal/repository/memory"
	"registerhub/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthFixture(t *testing.T) (service.AuthService, *model.User, *config.Config) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{
		ID:           uuid.New(),
		BusinessID:   uuid.New(),
		Username:     "cajero1",
		DisplayName:  "Cajero Uno",
		PasswordHash: string(hash),
		Role:         model.RoleCashier,
		Active:       true,
	}
	require.NoError(t, st.Users().Create(context.Background(), u))

	cfg := &config.Config{JWTSecret: "test-secret", JWTExpirationHours: 8, JWTRefreshHours: 24}
	return service.NewAuthService(st.Users(), cfg), u, cfg
}

func TestLogin_Success(t *testing.T) {
	svc, u, cfg := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), dto.LoginRequest{Username: "cajero1", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, 8*3600, resp.ExpiresIn)
	assert.Equal(t, u.BusinessID.String(), resp.User.BusinessID)
	assert.Equal(t, model.RoleCashier, resp.User.Role)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(resp.AccessToken, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), claims["user_id"])
	assert.Equal(t, u.BusinessID.String(), claims["business_id"])
	assert.Equal(t, "Cajero Uno", claims["display_name"])
	assert.Equal(t, service.TokenAccess, claims["typ"])
}

func TestLogin_Rejections(t *testing.T) {
	svc, _, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), dto.LoginRequest{Username: "cajero1", Password: "wrong"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), dto.LoginRequest{Username: "nobody", Password: "secret123"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestRefresh(t *testing.T) {
	svc, u, _ := newAuthFixture(t)
	login, err := svc.Login(context.Background(), dto.LoginRequest{Username: "cajero1", Password: "secret123"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), login.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), refreshed.User.ID)

	_, err = svc.Refresh(context.Background(), login.AccessToken)
	assert.ErrorIs(t, err, service.ErrInvalidToken, "access tokens cannot refresh")

	_, err = svc.Refresh(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, service.ErrInvalidToken)
}

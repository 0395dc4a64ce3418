package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, typ, role string, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":      "7b0d4a4c-3f38-4d65-9a3e-2a1f0f6b8c11",
		"business_id":  "0f8fad5b-d9cb-469f-a165-70867728950e",
		"username":     "ana",
		"display_name": "Ana",
		"role":         role,
		"typ":          typ,
		"exp":          time.Now().Add(ttl).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func protectedEngine(roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := []gin.HandlerFunc{JWTAuth(testSecret)}
	if len(roles) > 0 {
		chain = append(chain, RequireRole(roles...))
	}
	chain = append(chain, func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).DisplayName)
	})
	r.GET("/p", chain...)
	return r
}

func TestJWTAuth(t *testing.T) {
	r := protectedEngine()

	tests := []struct {
		name   string
		setup  func(req *http.Request)
		status int
	}{
		{"valid bearer", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signToken(t, "access", "cashier", time.Hour))
		}, http.StatusOK},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"expired", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signToken(t, "access", "cashier", -time.Minute))
		}, http.StatusUnauthorized},
		{"refresh token", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signToken(t, "refresh", "cashier", time.Hour))
		}, http.StatusUnauthorized},
		{"query token on plain request", func(req *http.Request) {
			q := req.URL.Query()
			q.Set("token", signToken(t, "access", "cashier", time.Hour))
			req.URL.RawQuery = q.Encode()
		}, http.StatusUnauthorized},
		{"query token on websocket upgrade", func(req *http.Request) {
			q := req.URL.Query()
			q.Set("token", signToken(t, "access", "cashier", time.Hour))
			req.URL.RawQuery = q.Encode()
			req.Header.Set("Upgrade", "websocket")
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := protectedEngine("admin", "supervisor")

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "access", "cashier", time.Hour))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "access", "supervisor", time.Hour))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ana", w.Body.String())
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

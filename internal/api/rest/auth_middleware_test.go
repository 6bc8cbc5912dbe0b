package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/telemetry"
)

func newAuthFixture(t *testing.T) (*AuthMiddleware, http.Handler, *uuid.UUID) {
	t.Helper()
	base := NewBaseHandler("v1", telemetry.NewSlogLogger(testWriter{t}, "debug"))
	auth := NewAuthMiddleware([]byte(testSecret), base)

	seen := new(uuid.UUID)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := getUserFromContext(r.Context())
		require.NoError(t, err)
		*seen = userID
		w.WriteHeader(http.StatusNoContent)
	})
	return auth, NewMiddlewareChain(RequestIDMiddleware(), auth.Middleware()).Then(next), seen
}

func signed(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, key interface{}) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	auth, h, seen := newAuthFixture(t)
	userID := uuid.New()

	tok, err := auth.GenerateToken(userID, time.Minute)
	require.NoError(t, err)

	rec := serve(h, newRequest(http.MethodGet, "/", tok))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, userID, *seen)
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	auth, h, _ := newAuthFixture(t)
	tok, err := auth.GenerateToken(uuid.New(), time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	assert.Equal(t, http.StatusNoContent, serve(h, req).Code)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name   string
		header func(t *testing.T) string
		msg    string
	}{
		{
			name:   "missing header",
			header: func(*testing.T) string { return "" },
			msg:    "Authorization required",
		},
		{
			name:   "basic scheme",
			header: func(*testing.T) string { return "Basic dXNlcjpwYXNz" },
			msg:    "Invalid authorization format",
		},
		{
			name:   "empty bearer",
			header: func(*testing.T) string { return "Bearer " },
			msg:    "Invalid authorization format",
		},
		{
			name: "other hmac algorithm",
			header: func(t *testing.T) string {
				return "Bearer " + signed(t, jwt.SigningMethodHS384, valid, []byte(testSecret))
			},
			msg: "Invalid or expired token",
		},
		{
			name: "unsigned token",
			header: func(t *testing.T) string {
				return "Bearer " + signed(t, jwt.SigningMethodNone, valid, jwt.UnsafeAllowNoneSignatureType)
			},
			msg: "Invalid or expired token",
		},
		{
			name: "no expiry",
			header: func(t *testing.T) string {
				return "Bearer " + signed(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: uuid.NewString()}, []byte(testSecret))
			},
			msg: "Invalid or expired token",
		},
		{
			name: "subject is not a user id",
			header: func(t *testing.T) string {
				claims := valid
				claims.Subject = "admin"
				return "Bearer " + signed(t, jwt.SigningMethodHS256, claims, []byte(testSecret))
			},
			msg: "Invalid or expired token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h, seen := newAuthFixture(t)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if v := tt.header(t); v != "" {
				req.Header.Set("Authorization", v)
			}
			rec := serve(h, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Bearer realm="api"`, rec.Header().Get("WWW-Authenticate"))
			env := decode(t, rec.Body.Bytes())
			assert.False(t, env.Success)
			assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
			assert.Equal(t, tt.msg, env.Error.Message)
			assert.Equal(t, uuid.Nil, *seen)
		})
	}
}

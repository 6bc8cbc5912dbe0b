package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuthMiddleware authenticates callers with HS256 bearer tokens. The token
// subject is the caller's user id.
type AuthMiddleware struct {
	secret []byte
	base   *BaseHandler
	tracer trace.Tracer
}

func NewAuthMiddleware(secret []byte, base *BaseHandler) *AuthMiddleware {
	return &AuthMiddleware{
		secret: secret,
		base:   base,
		tracer: otel.Tracer("api.rest.auth"),
	}
}

func (a *AuthMiddleware) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := a.tracer.Start(r.Context(), "auth.middleware")
			defer span.End()

			token, err := extractToken(r)
			if err != nil {
				span.RecordError(err)
				a.writeUnauthorized(w, r, err.Error())
				return
			}

			userID, err := a.validateToken(token)
			if err != nil {
				span.RecordError(err)
				a.writeUnauthorized(w, r, "Invalid or expired token")
				return
			}

			span.SetAttributes(attribute.String("user_id", userID.String()))
			if meta, ok := ctx.Value(contextKeyRequestMeta).(*RequestMeta); ok {
				meta.UserID = userID
			}
			ctx = withUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GenerateToken signs a token for userID valid for ttl
func (a *AuthMiddleware) GenerateToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject: %w", err)
	}
	return userID, nil
}

func (a *AuthMiddleware) writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	a.base.writeError(w, r, http.StatusUnauthorized, &ErrorResponse{
		Code:    "UNAUTHORIZED",
		Message: message,
	})
}

func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("Invalid authorization format")
	}
	return parts[1], nil
}

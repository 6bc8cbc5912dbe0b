package rest

import (
	"context"

	"github.com/google/uuid"

	domainErrors "github.com/davidleathers/bundle-exchange-backend/internal/domain/errors"
)

func withUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// getUserFromContext returns the authenticated caller
func getUserFromContext(ctx context.Context) (uuid.UUID, error) {
	userID, ok := ctx.Value(contextKeyUserID).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, domainErrors.NewUnauthorizedError("user not authenticated")
	}
	return userID, nil
}

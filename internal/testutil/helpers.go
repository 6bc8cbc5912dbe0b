package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

// Context returns a context cancelled when the test ends or after two
// minutes, whichever comes first. Container startup counts against it.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)
	return ctx
}

// RequireHeldBy fails the test unless p is reserved for buyerID with a
// deadline within tolerance of until
func RequireHeldBy(t testing.TB, p *product.Product, buyerID uuid.UUID, until time.Time, tolerance time.Duration) {
	t.Helper()
	require.NotNil(t, p.ReservedBy, "product %s has no holder", p.ID)
	require.Equal(t, buyerID, *p.ReservedBy, "product %s held by someone else", p.ID)
	require.NotNil(t, p.ReservedUntil, "product %s has no hold deadline", p.ID)
	require.WithinDuration(t, until, *p.ReservedUntil, tolerance)
}

// NewProduct builds an active, unreserved product for seller priced in KES
func NewProduct(sellerID uuid.UUID, title string, price float64) *product.Product {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &product.Product{
		ID:        uuid.New(),
		SellerID:  sellerID,
		Title:     title,
		Price:     values.MustNewMoneyFromFloat(price, values.KES),
		Status:    product.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

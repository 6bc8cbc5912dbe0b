package bundle

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

func TestValidateProposal(t *testing.T) {
	buyer := uuid.New()
	seller := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	zero := values.Zero(values.KES)
	negative := values.MustNewMoneyFromFloat(-10, values.KES)
	offer := values.MustNewMoneyFromFloat(2500, values.KES)
	cents, err := values.NewMoneyFromString("10.50", values.KES)
	require.NoError(t, err)
	subCent, err := values.NewMoneyFromString("0.001", values.KES)
	require.NoError(t, err)
	halfCent, err := values.NewMoneyFromString("10.005", values.KES)
	require.NoError(t, err)

	tests := []struct {
		name     string
		buyer    uuid.UUID
		seller   uuid.UUID
		products []uuid.UUID
		offer    *values.Money
		wantCode string
	}{
		{
			name:     "valid without offer",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1, p2},
		},
		{
			name:     "valid with offer",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1},
			offer:    &offer,
		},
		{
			name:     "empty selection",
			buyer:    buyer,
			seller:   seller,
			products: nil,
			wantCode: errors.CodeEmptySelection,
		},
		{
			name:     "duplicate product",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1, p1},
			wantCode: errors.CodeDuplicateProduct,
		},
		{
			name:     "zero offer",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1},
			offer:    &zero,
			wantCode: errors.CodeInvalidOffer,
		},
		{
			name:     "negative offer",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1},
			offer:    &negative,
			wantCode: errors.CodeInvalidOffer,
		},
		{
			name:     "offer with cents",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1},
			offer:    &cents,
		},
		{
			name:     "offer below one cent",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1},
			offer:    &subCent,
			wantCode: errors.CodeInvalidOffer,
		},
		{
			name:     "offer with fractional cents",
			buyer:    buyer,
			seller:   seller,
			products: []uuid.UUID{p1},
			offer:    &halfCent,
			wantCode: errors.CodeInvalidOffer,
		},
		{
			name:     "self dealing",
			buyer:    buyer,
			seller:   buyer,
			products: []uuid.UUID{p1},
			wantCode: errors.CodeSelfDealing,
		},
		{
			name:     "validation is reported before self dealing",
			buyer:    buyer,
			seller:   buyer,
			products: nil,
			wantCode: errors.CodeEmptySelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProposal(tt.buyer, tt.seller, tt.products, tt.offer)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestNewBundleRequest(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	b, err := NewBundleRequest(uuid.New(), uuid.New(), uuid.New(), ids, nil, now)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, b.ID)
	assert.Equal(t, StatusPending, b.Status)
	assert.Nil(t, b.ReservedUntil)
	assert.Equal(t, now, b.CreatedAt)
	assert.Equal(t, ids, b.ProductIDs)

	// the request keeps its own copy of the selection
	ids[0] = uuid.Nil
	assert.NotEqual(t, uuid.Nil, b.ProductIDs[0])
}

func TestBundleRequest_Transitions(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	newPending := func(t *testing.T) *BundleRequest {
		b, err := NewBundleRequest(uuid.New(), uuid.New(), uuid.New(), []uuid.UUID{uuid.New()}, nil, now)
		require.NoError(t, err)
		return b
	}

	t.Run("accept sets hold deadline", func(t *testing.T) {
		b := newPending(t)
		until := now.Add(DefaultReservationTTL)
		require.NoError(t, b.Accept(until, now))
		assert.Equal(t, StatusAccepted, b.Status)
		require.NotNil(t, b.ReservedUntil)
		assert.Equal(t, until, *b.ReservedUntil)
	})

	t.Run("accept twice is already resolved", func(t *testing.T) {
		b := newPending(t)
		require.NoError(t, b.Accept(now.Add(time.Hour), now))
		err := b.Accept(now.Add(time.Hour), now)
		assert.True(t, errors.HasCode(err, errors.CodeAlreadyResolved))
		assert.Contains(t, err.Error(), "already been accepted")
	})

	t.Run("decline then accept is rejected", func(t *testing.T) {
		b := newPending(t)
		require.NoError(t, b.Decline(now))
		assert.Equal(t, StatusDeclined, b.Status)
		err := b.Accept(now.Add(time.Hour), now)
		assert.True(t, errors.HasCode(err, errors.CodeAlreadyResolved))
		assert.Nil(t, b.ReservedUntil)
	})

	t.Run("expire only after deadline", func(t *testing.T) {
		b := newPending(t)
		until := now.Add(time.Hour)
		require.NoError(t, b.Accept(until, now))

		assert.False(t, b.IsExpiredAt(now.Add(30*time.Minute)))
		assert.Error(t, b.Expire(now.Add(30*time.Minute)))

		assert.True(t, b.IsExpiredAt(until))
		require.NoError(t, b.Expire(until))
		assert.Equal(t, StatusExpired, b.Status)
		assert.True(t, b.Status.IsTerminal())
	})

	t.Run("pending never expires", func(t *testing.T) {
		b := newPending(t)
		assert.False(t, b.IsExpiredAt(now.Add(365*24*time.Hour)))
	})
}

func TestParseActionAndRole(t *testing.T) {
	a, err := ParseAction("accept")
	require.NoError(t, err)
	assert.Equal(t, ActionAccept, a)

	_, err = ParseAction("cancel")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidAction))

	r, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleBuyer, r)

	r, err = ParseRole("seller")
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, r)

	_, err = ParseRole("admin")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidRole))
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.Advance(25 * time.Hour)
	assert.Equal(t, start.Add(25*time.Hour), c.Now())
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
)

// BundleRepository is the ledger of bundle requests. Status changes are
// conditional on the current status so concurrent writers cannot overwrite
// each other.
type BundleRepository struct {
	db database.Querier
}

func NewBundleRepository(db database.Querier) *BundleRepository {
	return &BundleRepository{db: db}
}

// Create stores a new bundle request
func (r *BundleRepository) Create(ctx context.Context, b *bundle.BundleRequest) error {
	var offerAmount, offerCurrency *string
	if b.OfferAmount != nil {
		amount := b.OfferAmount.Amount().String()
		currency := b.OfferAmount.Currency()
		offerAmount, offerCurrency = &amount, &currency
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO bundle_requests (
			id, buyer_id, seller_id, conversation_id, product_ids,
			offer_amount, offer_currency, status, reserved_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)`,
		b.ID, b.BuyerID, b.SellerID, b.ConversationID, b.ProductIDs,
		offerAmount, offerCurrency, b.Status.String(), b.ReservedUntil, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bundle request: %w", WrapRepositoryError(err))
	}
	return nil
}

// GetByID retrieves a bundle request by ID
func (r *BundleRepository) GetByID(ctx context.Context, id uuid.UUID) (*bundle.BundleRequest, error) {
	b, err := scanBundle(r.db.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundle_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bundle.NewBundleNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get bundle request: %w", err)
	}
	return b, nil
}

// ListByUser returns the user's bundles on one side of the deal, newest first
func (r *BundleRepository) ListByUser(ctx context.Context, userID uuid.UUID, role bundle.Role) ([]*bundle.BundleRequest, error) {
	column := "buyer_id"
	if role == bundle.RoleSeller {
		column = "seller_id"
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+bundleColumns+`
		FROM bundle_requests
		WHERE `+column+` = $1
		ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle requests: %w", err)
	}
	return collectBundles(rows)
}

// ListExpired returns accepted bundles whose hold deadline is at or before now
func (r *BundleRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*bundle.BundleRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bundleColumns+`
		FROM bundle_requests
		WHERE status = 'accepted' AND reserved_until <= $1
		ORDER BY reserved_until
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired bundles: %w", err)
	}
	return collectBundles(rows)
}

// CountActiveHolds counts accepted bundles whose hold has not yet lapsed
func (r *BundleRepository) CountActiveHolds(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM bundle_requests WHERE status = 'accepted' AND reserved_until > $1`,
		now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active holds: %w", err)
	}
	return n, nil
}

// Decline moves a pending bundle to declined. A bundle that is no longer
// pending is reported with its current status.
func (r *BundleRepository) Decline(ctx context.Context, id uuid.UUID, now time.Time) (*bundle.BundleRequest, error) {
	b, err := scanBundle(r.db.QueryRow(ctx, `
		UPDATE bundle_requests
		SET status = 'declined', updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+bundleColumns, id, now))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to decline bundle request: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, bundle.NewAlreadyResolvedError(current.Status)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
)

// Transactor runs fn inside a database transaction, rolling back when fn
// returns an error. *database.ConnectionPool satisfies it.
type Transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// ReservationRepository performs the multi-row writes that must commit
// together: accepting a bundle with its product holds, and expiring it again.
type ReservationRepository struct {
	tx     Transactor
	logger *zap.Logger
}

func NewReservationRepository(tx Transactor, logger *zap.Logger) *ReservationRepository {
	return &ReservationRepository{tx: tx, logger: logger.Named("reservations")}
}

// AcceptBundle reserves every product of a pending bundle for its buyer until
// the given deadline and marks the bundle accepted, all in one transaction.
// If any product is unavailable nothing is written and the conflicting
// product is named in the error.
func (r *ReservationRepository) AcceptBundle(ctx context.Context, bundleID uuid.UUID, now, until time.Time) (*bundle.BundleRequest, error) {
	var accepted *bundle.BundleRequest

	err := r.tx.Transaction(ctx, func(tx pgx.Tx) error {
		b, err := scanBundle(tx.QueryRow(ctx,
			`SELECT `+bundleColumns+` FROM bundle_requests WHERE id = $1 FOR UPDATE`, bundleID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return bundle.NewBundleNotFoundError(bundleID)
			}
			return fmt.Errorf("failed to lock bundle request: %w", err)
		}
		if b.Status != bundle.StatusPending {
			return bundle.NewAlreadyResolvedError(b.Status)
		}

		// Rows are locked in id order so overlapping accepts queue instead
		// of deadlocking.
		locked, err := lockProducts(ctx, tx, b.ProductIDs)
		if err != nil {
			return err
		}
		for _, id := range b.ProductIDs {
			p, ok := locked[id]
			if !ok {
				return bundle.NewProductUnavailableIDError(id)
			}
			if !p.IsAvailableFor(b.BuyerID, now) {
				return bundle.NewProductUnavailableError(p)
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE products
			SET reserved_by = $2, reserved_until = $3, updated_at = $4
			WHERE id = ANY($1)
			  AND status = 'active'
			  AND (reserved_by IS NULL OR reserved_by = $2 OR reserved_until <= $4)`,
			b.ProductIDs, b.BuyerID, until, now)
		if err != nil {
			return fmt.Errorf("failed to reserve products: %w", err)
		}
		if int(tag.RowsAffected()) != len(b.ProductIDs) {
			return bundle.NewProductUnavailableIDError(b.ProductIDs[0]).
				WithDetails(map[string]interface{}{"reserved": tag.RowsAffected(), "requested": len(b.ProductIDs)})
		}

		accepted, err = scanBundle(tx.QueryRow(ctx, `
			UPDATE bundle_requests
			SET status = 'accepted', reserved_until = $2, updated_at = $3
			WHERE id = $1 AND status = 'pending'
			RETURNING `+bundleColumns, bundleID, until, now))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOptimisticLock
			}
			return fmt.Errorf("failed to accept bundle request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("bundle reservation committed",
		zap.String("bundle_id", bundleID.String()),
		zap.Int("products", len(accepted.ProductIDs)),
		zap.Time("reserved_until", until))
	return accepted, nil
}

// ExpireBundle releases the buyer's lapsed holds on the bundle's products and
// marks the bundle expired. Holds that now belong to someone else, or that
// were cleared by a sale, are left untouched. A bundle already expired, not
// yet due, or locked by a concurrent sweep reports expired=false.
func (r *ReservationRepository) ExpireBundle(ctx context.Context, bundleID uuid.UUID, now time.Time) (int, bool, error) {
	var (
		released int
		expired  bool
	)

	err := r.tx.Transaction(ctx, func(tx pgx.Tx) error {
		b, err := scanBundle(tx.QueryRow(ctx, `
			SELECT `+bundleColumns+`
			FROM bundle_requests
			WHERE id = $1 AND status = 'accepted' AND reserved_until <= $2
			FOR UPDATE SKIP LOCKED`, bundleID, now))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to lock bundle request: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE products
			SET reserved_by = NULL, reserved_until = NULL, updated_at = $3
			WHERE id = ANY($1) AND reserved_by = $2 AND reserved_until <= $3`,
			b.ProductIDs, b.BuyerID, now)
		if err != nil {
			return fmt.Errorf("failed to release products: %w", err)
		}
		released = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `
			UPDATE bundle_requests
			SET status = 'expired', updated_at = $2
			WHERE id = $1 AND status = 'accepted'`, bundleID, now)
		if err != nil {
			return fmt.Errorf("failed to expire bundle request: %w", err)
		}
		expired = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return released, expired, nil
}

func lockProducts(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]*product.Product, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	defer rows.Close()

	locked := make(map[uuid.UUID]*product.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		locked[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return locked, nil
}

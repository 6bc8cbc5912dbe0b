package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
)

// ProductRepository reads products straight from the shared products table.
// Results are never cached so availability checks see live reservations.
type ProductRepository struct {
	db database.Querier
}

func NewProductRepository(db database.Querier) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByIDs returns the products that exist among ids, in no particular order
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]*product.Product, 0, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// GetByID loads a single product
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bundle.NewProductNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// Create inserts a product. The catalog owns listings; this exists for
// seeding and tests.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO products (
			id, seller_id, title, price, currency, status,
			reserved_by, reserved_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.SellerID, p.Title, p.Price.Amount().String(), p.Price.Currency(), p.Status.String(),
		p.ReservedBy, p.ReservedUntil, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", WrapRepositoryError(err))
	}
	return nil
}

// SetStatus changes the listing status, as the catalog does when an item
// sells outside a bundle.
func (r *ProductRepository) SetStatus(ctx context.Context, id uuid.UUID, status product.Status) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE products SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status.String())
	if err != nil {
		return fmt.Errorf("failed to update product status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bundle.NewProductNotFoundError(id)
	}
	return nil
}

package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

const productColumns = `id, seller_id, title, price::text, currency, status,
	reserved_by, reserved_until, created_at, updated_at`

const bundleColumns = `id, buyer_id, seller_id, conversation_id, product_ids,
	offer_amount::text, offer_currency, status, reserved_until, created_at, updated_at`

func scanProduct(row pgx.Row) (*product.Product, error) {
	var (
		p         product.Product
		price     string
		currency  string
		status    string
		createdAt time.Time
		updatedAt time.Time
	)

	if err := row.Scan(
		&p.ID, &p.SellerID, &p.Title, &price, &currency, &status,
		&p.ReservedBy, &p.ReservedUntil, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	money, err := values.NewMoneyFromString(price, currency)
	if err != nil {
		return nil, fmt.Errorf("product %s has invalid price: %w", p.ID, err)
	}
	p.Price = money

	if p.Status, err = product.ParseStatus(status); err != nil {
		return nil, err
	}

	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	if p.ReservedUntil != nil {
		until := p.ReservedUntil.UTC()
		p.ReservedUntil = &until
	}
	return &p, nil
}

func scanBundle(row pgx.Row) (*bundle.BundleRequest, error) {
	var (
		b             bundle.BundleRequest
		productIDs    []uuid.UUID
		offerAmount   *string
		offerCurrency *string
		status        string
	)

	if err := row.Scan(
		&b.ID, &b.BuyerID, &b.SellerID, &b.ConversationID, &productIDs,
		&offerAmount, &offerCurrency, &status, &b.ReservedUntil, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b.ProductIDs = productIDs

	if offerAmount != nil {
		currency := values.DefaultCurrency
		if offerCurrency != nil {
			currency = *offerCurrency
		}
		offer, err := values.NewMoneyFromString(*offerAmount, currency)
		if err != nil {
			return nil, fmt.Errorf("bundle %s has invalid offer: %w", b.ID, err)
		}
		b.OfferAmount = &offer
	}

	var err error
	if b.Status, err = bundle.ParseStatus(status); err != nil {
		return nil, err
	}

	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	if b.ReservedUntil != nil {
		until := b.ReservedUntil.UTC()
		b.ReservedUntil = &until
	}
	return &b, nil
}

func collectBundles(rows pgx.Rows) ([]*bundle.BundleRequest, error) {
	defer rows.Close()

	var out []*bundle.BundleRequest
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bundles: %w", err)
	}
	return out, nil
}

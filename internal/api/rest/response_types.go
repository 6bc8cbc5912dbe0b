package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

type BundleResponse struct {
	ID             uuid.UUID         `json:"id"`
	BuyerID        uuid.UUID         `json:"buyer_id"`
	SellerID       uuid.UUID         `json:"seller_id"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	ProductIDs     []uuid.UUID       `json:"product_ids"`
	OfferAmount    *values.Money     `json:"offer_amount,omitempty"`
	Status         string            `json:"status"`
	ReservedUntil  *time.Time        `json:"reserved_until,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Products       []ProductSnapshot `json:"products,omitempty"`
	Total          *values.Money     `json:"total,omitempty"`
}

// ProductSnapshot is the live state of one product in a bundle
type ProductSnapshot struct {
	ID            uuid.UUID    `json:"id"`
	Title         string       `json:"title"`
	Price         values.Money `json:"price"`
	Status        string       `json:"status"`
	ReservedBy    *uuid.UUID   `json:"reserved_by,omitempty"`
	ReservedUntil *time.Time   `json:"reserved_until,omitempty"`
}

type BundleListResponse struct {
	Bundles []BundleResponse `json:"bundles"`
	Count   int              `json:"count"`
}

func toBundleResponse(b *bundle.BundleRequest) BundleResponse {
	return BundleResponse{
		ID:             b.ID,
		BuyerID:        b.BuyerID,
		SellerID:       b.SellerID,
		ConversationID: b.ConversationID,
		ProductIDs:     b.ProductIDs,
		OfferAmount:    b.OfferAmount,
		Status:         b.Status.String(),
		ReservedUntil:  b.ReservedUntil,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toProductSnapshots(products []*product.Product) []ProductSnapshot {
	out := make([]ProductSnapshot, 0, len(products))
	for _, p := range products {
		out = append(out, ProductSnapshot{
			ID:            p.ID,
			Title:         p.Title,
			Price:         p.Price,
			Status:        p.Status.String(),
			ReservedBy:    p.ReservedBy,
			ReservedUntil: p.ReservedUntil,
		})
	}
	return out
}

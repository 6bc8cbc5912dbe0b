package bundle

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventProposed EventType = "bundle.proposed"
	EventAccepted EventType = "bundle.accepted"
	EventDeclined EventType = "bundle.declined"
	EventExpired  EventType = "bundle.expired"
)

// Event records a lifecycle transition of a bundle request
type Event struct {
	ID            uuid.UUID   `json:"id"`
	Type          EventType   `json:"type"`
	BundleID      uuid.UUID   `json:"bundle_id"`
	BuyerID       uuid.UUID   `json:"buyer_id"`
	SellerID      uuid.UUID   `json:"seller_id"`
	ProductIDs    []uuid.UUID `json:"product_ids"`
	Status        Status      `json:"status"`
	ReservedUntil *time.Time  `json:"reserved_until,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// NewEvent snapshots the bundle's current state as an event of the given type
func NewEvent(t EventType, b *BundleRequest, at time.Time) *Event {
	ids := make([]uuid.UUID, len(b.ProductIDs))
	copy(ids, b.ProductIDs)

	return &Event{
		ID:            uuid.New(),
		Type:          t,
		BundleID:      b.ID,
		BuyerID:       b.BuyerID,
		SellerID:      b.SellerID,
		ProductIDs:    ids,
		Status:        b.Status,
		ReservedUntil: b.ReservedUntil,
		OccurredAt:    at,
	}
}

package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
)

// ProductStore reads live product rows. Products that do not exist are
// simply absent from the result.
type ProductStore interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*product.Product, error)
}

// BundleRepository persists bundle requests
type BundleRepository interface {
	// Create stores a new pending bundle
	Create(ctx context.Context, b *bundle.BundleRequest) error
	// GetByID returns a not-found AppError when the bundle does not exist
	GetByID(ctx context.Context, id uuid.UUID) (*bundle.BundleRequest, error)
	// ListByUser returns the user's bundles on one side, newest first
	ListByUser(ctx context.Context, userID uuid.UUID, role bundle.Role) ([]*bundle.BundleRequest, error)
	// ListExpired returns accepted bundles whose hold ended at or before now
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*bundle.BundleRequest, error)
	// Decline performs the conditional pending -> declined transition
	Decline(ctx context.Context, id uuid.UUID, now time.Time) (*bundle.BundleRequest, error)
}

// ReservationStore performs the multi-row transitions that touch both the
// products and the bundle in one atomic unit.
type ReservationStore interface {
	// AcceptBundle reserves every product of a pending bundle for its buyer
	// until the given deadline and marks the bundle accepted. If any product
	// is unavailable nothing is written and a ProductUnavailable conflict is
	// returned.
	AcceptBundle(ctx context.Context, bundleID uuid.UUID, now, until time.Time) (*bundle.BundleRequest, error)
	// ExpireBundle clears the buyer's lapsed holds on the bundle's products and
	// marks it expired. expired is false when another caller got there first.
	ExpireBundle(ctx context.Context, bundleID uuid.UUID, now time.Time) (released int, expired bool, err error)
}

// Message is a system message posted into a buyer/seller conversation
type Message struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	RecipientID    uuid.UUID
	BundleID       uuid.UUID
	Content        string
}

// Notifier is the messaging subsystem
type Notifier interface {
	GetOrCreateConversation(ctx context.Context, buyerID, sellerID uuid.UUID) (uuid.UUID, error)
	PostSystemMessage(ctx context.Context, msg Message) error
}

// EventPublisher emits bundle lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, event *bundle.Event) error
}

// RateLimiter bounds how often a buyer may propose bundles
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// MetricsRecorder receives domain measurements
type MetricsRecorder interface {
	RecordProposal(ctx context.Context, items int, outcome string)
	RecordResponse(ctx context.Context, action bundle.Action, outcome string, duration time.Duration)
	RecordExpiry(ctx context.Context, bundles, releasedProducts int)
	RecordNotificationFailure(ctx context.Context, kind string)
}

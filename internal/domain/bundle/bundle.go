package bundle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

// DefaultReservationTTL is how long an accepted bundle holds its products
const DefaultReservationTTL = 24 * time.Hour

// BundleRequest is a buyer's proposal to purchase several of one seller's
// products together. Only Status and ReservedUntil change after creation.
type BundleRequest struct {
	ID             uuid.UUID     `json:"id"`
	BuyerID        uuid.UUID     `json:"buyer_id"`
	SellerID       uuid.UUID     `json:"seller_id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	ProductIDs     []uuid.UUID   `json:"product_ids"`
	OfferAmount    *values.Money `json:"offer_amount,omitempty"`
	Status         Status        `json:"status"`
	ReservedUntil  *time.Time    `json:"reserved_until,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type Status int

const (
	StatusPending Status = iota
	StatusAccepted
	StatusDeclined
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusDeclined:
		return "declined"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "accepted":
		return StatusAccepted, nil
	case "declined":
		return StatusDeclined, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown bundle status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusDeclined || s == StatusExpired
}

// NewBundleRequest validates a proposal and builds it in the pending state
func NewBundleRequest(buyerID, sellerID, conversationID uuid.UUID, productIDs []uuid.UUID, offer *values.Money, now time.Time) (*BundleRequest, error) {
	if err := ValidateProposal(buyerID, sellerID, productIDs, offer); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(productIDs))
	copy(ids, productIDs)

	return &BundleRequest{
		ID:             uuid.New(),
		BuyerID:        buyerID,
		SellerID:       sellerID,
		ConversationID: conversationID,
		ProductIDs:     ids,
		OfferAmount:    offer,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ValidateProposal runs the checks that need no storage reads. Input
// validation comes before the self-dealing check.
func ValidateProposal(buyerID, sellerID uuid.UUID, productIDs []uuid.UUID, offer *values.Money) error {
	if len(productIDs) == 0 {
		return errors.NewValidationError(errors.CodeEmptySelection, "at least one product must be selected")
	}

	seen := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			return errors.NewValidationError(errors.CodeDuplicateProduct, "product selected more than once").
				WithDetails(map[string]interface{}{"product_id": id.String()})
		}
		seen[id] = struct{}{}
	}

	if offer != nil && !offer.IsPositive() {
		return errors.NewValidationError(errors.CodeInvalidOffer, "offer amount must be positive")
	}
	if offer != nil && !offer.Amount().Equal(offer.Amount().Round(2)) {
		return errors.NewValidationError(errors.CodeInvalidOffer, "offer amount must have at most two decimal places").
			WithDetails(map[string]interface{}{"amount": offer.Amount().String()})
	}

	if buyerID == sellerID {
		return errors.NewConflictError(errors.CodeSelfDealing, "cannot propose a bundle to yourself")
	}

	return nil
}

// Accept moves a pending bundle to accepted with the given hold deadline
func (b *BundleRequest) Accept(until, now time.Time) error {
	if b.Status != StatusPending {
		return NewAlreadyResolvedError(b.Status)
	}
	deadline := until
	b.Status = StatusAccepted
	b.ReservedUntil = &deadline
	b.UpdatedAt = now
	return nil
}

// Decline moves a pending bundle to declined
func (b *BundleRequest) Decline(now time.Time) error {
	if b.Status != StatusPending {
		return NewAlreadyResolvedError(b.Status)
	}
	b.Status = StatusDeclined
	b.UpdatedAt = now
	return nil
}

// IsExpiredAt reports whether an accepted bundle's hold window has closed
func (b *BundleRequest) IsExpiredAt(now time.Time) bool {
	return b.Status == StatusAccepted && b.ReservedUntil != nil && !b.ReservedUntil.After(now)
}

// Expire moves an accepted bundle whose window has closed to expired
func (b *BundleRequest) Expire(now time.Time) error {
	if !b.IsExpiredAt(now) {
		return fmt.Errorf("bundle %s is not due to expire (status %s)", b.ID, b.Status)
	}
	b.Status = StatusExpired
	b.UpdatedAt = now
	return nil
}

// Contains reports whether the bundle lists the product
func (b *BundleRequest) Contains(productID uuid.UUID) bool {
	for _, id := range b.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Action is the seller's response to a pending bundle
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionAccept, ActionDecline:
		return Action(s), nil
	default:
		return "", errors.NewValidationError(errors.CodeInvalidAction, fmt.Sprintf("action must be accept or decline, got %q", s))
	}
}

// Role selects which side of the bundle a listing is for
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// ParseRole defaults an empty role to buyer
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "":
		return RoleBuyer, nil
	case RoleBuyer, RoleSeller:
		return Role(s), nil
	default:
		return "", errors.NewValidationError(errors.CodeInvalidRole, fmt.Sprintf("role must be buyer or seller, got %q", s))
	}
}

package product

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

// Product is a single listed item as seen by the reservation subsystem.
// Catalog fields (title, price) are read-only here; only the reservation
// pair is ever written by this service.
type Product struct {
	ID       uuid.UUID    `json:"id"`
	SellerID uuid.UUID    `json:"seller_id"`
	Title    string       `json:"title"`
	Price    values.Money `json:"price"`
	Status   Status       `json:"status"`

	// Reservation. Both set or both nil.
	ReservedBy    *uuid.UUID `json:"reserved_by,omitempty"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status int

const (
	StatusActive Status = iota
	StatusSold
	StatusArchived
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSold:
		return "sold"
	case StatusArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// ParseStatus maps the stored representation back to a Status
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "sold":
		return StatusSold, nil
	case "archived", "draft":
		return StatusArchived, nil
	default:
		return 0, fmt.Errorf("unknown product status %q", s)
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

// HasLiveReservation reports whether a hold is in force at now.
// A hold whose deadline equals now has lapsed.
func (p *Product) HasLiveReservation(now time.Time) bool {
	return p.ReservedBy != nil && p.ReservedUntil != nil && p.ReservedUntil.After(now)
}

// IsAvailableFor decides whether buyerID may be promised this product at now:
// the product must be active and either unreserved, reserved by the same
// buyer, or held by a reservation that has already lapsed.
func (p *Product) IsAvailableFor(buyerID uuid.UUID, now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if p.ReservedBy == nil || *p.ReservedBy == buyerID {
		return true
	}
	return !p.HasLiveReservation(now)
}

// Reserve places a hold for buyerID until the given deadline. It fails when
// the product is not available to that buyer at now.
func (p *Product) Reserve(buyerID uuid.UUID, now, until time.Time) error {
	if !p.IsAvailableFor(buyerID, now) {
		return fmt.Errorf("product %s is not available to buyer %s", p.ID, buyerID)
	}
	holder := buyerID
	deadline := until
	p.ReservedBy = &holder
	p.ReservedUntil = &deadline
	p.UpdatedAt = now
	return nil
}

// ReleaseExpiredHold clears the reservation only if it still belongs to
// buyerID and its deadline has passed. It reports whether anything changed.
func (p *Product) ReleaseExpiredHold(buyerID uuid.UUID, now time.Time) bool {
	if p.ReservedBy == nil || *p.ReservedBy != buyerID {
		return false
	}
	if p.ReservedUntil != nil && p.ReservedUntil.After(now) {
		return false
	}
	p.ReservedBy = nil
	p.ReservedUntil = nil
	p.UpdatedAt = now
	return true
}

// Package fakes holds in-memory collaborators for service tests. The store
// applies the same conditional transitions as the Postgres repositories
// under a single mutex.
package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
)

// Store implements the product, bundle and reservation stores in memory
type Store struct {
	mu       sync.Mutex
	products map[uuid.UUID]*product.Product
	bundles  map[uuid.UUID]*bundle.BundleRequest
	seq      map[uuid.UUID]int
	next     int

	// ExpireErrors forces ExpireBundle to fail for specific bundles
	ExpireErrors map[uuid.UUID]error
}

func NewStore() *Store {
	return &Store{
		products:     make(map[uuid.UUID]*product.Product),
		bundles:      make(map[uuid.UUID]*bundle.BundleRequest),
		seq:          make(map[uuid.UUID]int),
		ExpireErrors: make(map[uuid.UUID]error),
	}
}

// AddProduct seeds a product
func (s *Store) AddProduct(p *product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = cloneProduct(p)
}

// Product returns a snapshot of a stored product, or nil
func (s *Store) Product(id uuid.UUID) *product.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		return cloneProduct(p)
	}
	return nil
}

// MarkSold simulates an external sale
func (s *Store) MarkSold(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		p.Status = product.StatusSold
		p.ReservedBy = nil
		p.ReservedUntil = nil
	}
}

// Bundle returns a snapshot of a stored bundle, or nil
func (s *Store) Bundle(id uuid.UUID) *bundle.BundleRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bundles[id]; ok {
		return cloneBundle(b)
	}
	return nil
}

func (s *Store) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, cloneProduct(p))
		}
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, b *bundle.BundleRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bundles[b.ID]; exists {
		return fmt.Errorf("bundle %s already exists", b.ID)
	}
	s.bundles[b.ID] = cloneBundle(b)
	s.seq[b.ID] = s.next
	s.next++
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*bundle.BundleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bundles[id]
	if !ok {
		return nil, bundle.NewBundleNotFoundError(id)
	}
	return cloneBundle(b), nil
}

func (s *Store) ListByUser(_ context.Context, userID uuid.UUID, role bundle.Role) ([]*bundle.BundleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*bundle.BundleRequest
	for _, b := range s.bundles {
		if (role == bundle.RoleSeller && b.SellerID == userID) || (role == bundle.RoleBuyer && b.BuyerID == userID) {
			out = append(out, cloneBundle(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out, nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time, limit int) ([]*bundle.BundleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*bundle.BundleRequest
	for _, b := range s.bundles {
		if b.IsExpiredAt(now) {
			out = append(out, cloneBundle(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReservedUntil.Before(*out[j].ReservedUntil)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Decline(_ context.Context, id uuid.UUID, now time.Time) (*bundle.BundleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bundles[id]
	if !ok {
		return nil, bundle.NewBundleNotFoundError(id)
	}
	if err := b.Decline(now); err != nil {
		return nil, err
	}
	return cloneBundle(b), nil
}

func (s *Store) AcceptBundle(_ context.Context, bundleID uuid.UUID, now, until time.Time) (*bundle.BundleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bundles[bundleID]
	if !ok {
		return nil, bundle.NewBundleNotFoundError(bundleID)
	}
	if b.Status != bundle.StatusPending {
		return nil, bundle.NewAlreadyResolvedError(b.Status)
	}

	for _, pid := range b.ProductIDs {
		p, ok := s.products[pid]
		if !ok {
			return nil, bundle.NewProductUnavailableIDError(pid)
		}
		if !p.IsAvailableFor(b.BuyerID, now) {
			return nil, bundle.NewProductUnavailableError(cloneProduct(p))
		}
	}

	for _, pid := range b.ProductIDs {
		if err := s.products[pid].Reserve(b.BuyerID, now, until); err != nil {
			return nil, err
		}
	}
	if err := b.Accept(until, now); err != nil {
		return nil, err
	}
	return cloneBundle(b), nil
}

func (s *Store) ExpireBundle(_ context.Context, bundleID uuid.UUID, now time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ExpireErrors[bundleID]; err != nil {
		return 0, false, err
	}

	b, ok := s.bundles[bundleID]
	if !ok {
		return 0, false, bundle.NewBundleNotFoundError(bundleID)
	}
	if !b.IsExpiredAt(now) {
		return 0, false, nil
	}

	released := 0
	for _, pid := range b.ProductIDs {
		if p, ok := s.products[pid]; ok && p.ReleaseExpiredHold(b.BuyerID, now) {
			released++
		}
	}
	if err := b.Expire(now); err != nil {
		return 0, false, err
	}
	return released, true, nil
}

func cloneProduct(p *product.Product) *product.Product {
	c := *p
	if p.ReservedBy != nil {
		by := *p.ReservedBy
		c.ReservedBy = &by
	}
	if p.ReservedUntil != nil {
		until := *p.ReservedUntil
		c.ReservedUntil = &until
	}
	return &c
}

func cloneBundle(b *bundle.BundleRequest) *bundle.BundleRequest {
	c := *b
	c.ProductIDs = append([]uuid.UUID(nil), b.ProductIDs...)
	if b.ReservedUntil != nil {
		until := *b.ReservedUntil
		c.ReservedUntil = &until
	}
	if b.OfferAmount != nil {
		offer := *b.OfferAmount
		c.OfferAmount = &offer
	}
	return &c
}

package negotiation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
)

// Config tunes the negotiation service
type Config struct {
	ReservationTTL time.Duration
	SweepBatchSize int
	ProposalLimit  int
	ProposalWindow time.Duration
	NotifyOnExpiry bool
}

func DefaultConfig() Config {
	return Config{
		ReservationTTL: bundle.DefaultReservationTTL,
		SweepBatchSize: 100,
		ProposalLimit:  10,
		ProposalWindow: time.Minute,
		NotifyOnExpiry: true,
	}
}

// Dependencies are the collaborators of the service. Events, Limiter,
// Metrics and Clock are optional.
type Dependencies struct {
	Products     ProductStore
	Bundles      BundleRepository
	Reservations ReservationStore
	Notifier     Notifier
	Events       EventPublisher
	Limiter      RateLimiter
	Metrics      MetricsRecorder
	Clock        bundle.Clock
}

// Service proposes, resolves and expires bundle requests
type Service struct {
	products     ProductStore
	bundles      BundleRepository
	reservations ReservationStore
	notifier     Notifier
	events       EventPublisher
	limiter      RateLimiter
	metrics      MetricsRecorder
	clock        bundle.Clock
	cfg          Config
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewService creates a new negotiation service
func NewService(deps Dependencies, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Products == nil || deps.Bundles == nil || deps.Reservations == nil {
		return nil, fmt.Errorf("product, bundle and reservation stores are required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	defaults := DefaultConfig()
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = defaults.ReservationTTL
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.ProposalWindow <= 0 {
		cfg.ProposalWindow = defaults.ProposalWindow
	}

	s := &Service{
		products:     deps.Products,
		bundles:      deps.Bundles,
		reservations: deps.Reservations,
		notifier:     deps.Notifier,
		events:       deps.Events,
		limiter:      deps.Limiter,
		metrics:      deps.Metrics,
		clock:        deps.Clock,
		cfg:          cfg,
		logger:       logger.Named("negotiation"),
		tracer:       otel.Tracer("service.negotiation"),
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.clock == nil {
		s.clock = bundle.RealClock{}
	}
	return s, nil
}

// CreateBundleRequest is the buyer's proposal
type CreateBundleRequest struct {
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	ProductIDs  []uuid.UUID
	OfferAmount *values.Money
}

// CreateBundleResult carries the new bundle with the products it lists
type CreateBundleResult struct {
	Bundle   *bundle.BundleRequest
	Products []*product.Product
	Total    values.Money
}

// BundleDetails is a bundle together with current snapshots of its products
type BundleDetails struct {
	Bundle   *bundle.BundleRequest
	Products []*product.Product
}

// RespondRequest is the seller's decision on a pending bundle
type RespondRequest struct {
	BundleID uuid.UUID
	SellerID uuid.UUID
	Action   bundle.Action
}

// CreateBundle validates a proposal against live product state and records
// it as pending. No reservation is placed.
func (s *Service) CreateBundle(ctx context.Context, req CreateBundleRequest) (*CreateBundleResult, error) {
	ctx, span := s.tracer.Start(ctx, "negotiation.CreateBundle", trace.WithAttributes(
		attribute.String("buyer.id", req.BuyerID.String()),
		attribute.String("seller.id", req.SellerID.String()),
		attribute.Int("bundle.items", len(req.ProductIDs)),
	))
	defer span.End()

	result, err := s.createBundle(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordProposal(ctx, len(req.ProductIDs), outcomeOf(err))
		return nil, err
	}

	s.metrics.RecordProposal(ctx, len(req.ProductIDs), "created")
	span.SetAttributes(attribute.String("bundle.id", result.Bundle.ID.String()))
	return result, nil
}

func (s *Service) createBundle(ctx context.Context, req CreateBundleRequest) (*CreateBundleResult, error) {
	if err := bundle.ValidateProposal(req.BuyerID, req.SellerID, req.ProductIDs, req.OfferAmount); err != nil {
		return nil, err
	}

	if err := s.checkProposalRate(ctx, req.BuyerID); err != nil {
		return nil, err
	}

	products, err := s.loadProducts(ctx, req.ProductIDs, true)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := checkProposable(products, req.BuyerID, req.SellerID, now); err != nil {
		return nil, err
	}

	prices := make([]values.Money, len(products))
	for i, p := range products {
		prices[i] = p.Price
	}
	total, err := values.Sum(products[0].Price.Currency(), prices...)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeMixedCurrency, "bundle products are priced in different currencies").WithCause(err)
	}

	conversationID, err := s.notifier.GetOrCreateConversation(ctx, req.BuyerID, req.SellerID)
	if err != nil {
		return nil, errors.NewExternalError("conversation", "could not open a conversation with the seller").WithCause(err)
	}

	b, err := bundle.NewBundleRequest(req.BuyerID, req.SellerID, conversationID, req.ProductIDs, req.OfferAmount, now)
	if err != nil {
		return nil, err
	}

	if err := s.bundles.Create(ctx, b); err != nil {
		return nil, internalUnlessApp(err, "failed to store bundle request")
	}

	s.logger.Info("bundle proposed",
		zap.String("bundle_id", b.ID.String()),
		zap.String("buyer_id", b.BuyerID.String()),
		zap.String("seller_id", b.SellerID.String()),
		zap.Int("items", len(b.ProductIDs)),
		zap.String("total", total.String()))

	s.notify(ctx, "proposed", Message{
		ConversationID: conversationID,
		SenderID:       req.BuyerID,
		RecipientID:    req.SellerID,
		BundleID:       b.ID,
		Content:        proposalMessage(b.ID, products, total, req.OfferAmount),
	})
	s.publish(ctx, bundle.NewEvent(bundle.EventProposed, b, now))

	return &CreateBundleResult{
		Bundle:   b,
		Products: products,
		Total:    total,
	}, nil
}

// RespondToBundle lets the seller accept or decline a pending bundle.
// Accepting reserves every listed product for the buyer atomically.
func (s *Service) RespondToBundle(ctx context.Context, req RespondRequest) (*bundle.BundleRequest, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "negotiation.RespondToBundle", trace.WithAttributes(
		attribute.String("bundle.id", req.BundleID.String()),
		attribute.String("bundle.action", string(req.Action)),
	))
	defer span.End()

	b, err := s.respond(ctx, req)
	s.metrics.RecordResponse(ctx, req.Action, outcomeOf(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return b, nil
}

func (s *Service) respond(ctx context.Context, req RespondRequest) (*bundle.BundleRequest, error) {
	action, err := bundle.ParseAction(string(req.Action))
	if err != nil {
		return nil, err
	}

	current, err := s.bundles.GetByID(ctx, req.BundleID)
	if err != nil {
		return nil, internalUnlessApp(err, "failed to load bundle")
	}
	if current.SellerID != req.SellerID {
		return nil, bundle.NewNotSellerError()
	}
	if current.Status != bundle.StatusPending {
		return nil, bundle.NewAlreadyResolvedError(current.Status)
	}

	now := s.clock.Now()

	switch action {
	case bundle.ActionDecline:
		declined, err := s.bundles.Decline(ctx, req.BundleID, now)
		if err != nil {
			return nil, internalUnlessApp(err, "failed to decline bundle")
		}

		s.logger.Info("bundle declined", zap.String("bundle_id", declined.ID.String()))
		s.notify(ctx, "declined", Message{
			ConversationID: declined.ConversationID,
			SenderID:       declined.SellerID,
			RecipientID:    declined.BuyerID,
			BundleID:       declined.ID,
			Content:        declinedMessage(declined.ID),
		})
		s.publish(ctx, bundle.NewEvent(bundle.EventDeclined, declined, now))
		return declined, nil

	default:
		until := now.Add(s.cfg.ReservationTTL)
		accepted, err := s.reservations.AcceptBundle(ctx, req.BundleID, now, until)
		if err != nil {
			if errors.HasCode(err, errors.CodeProductUnavailable) {
				s.logger.Info("bundle acceptance lost to an existing reservation",
					zap.String("bundle_id", req.BundleID.String()),
					zap.Error(err))
			}
			return nil, internalUnlessApp(err, "failed to accept bundle")
		}

		s.logger.Info("bundle accepted",
			zap.String("bundle_id", accepted.ID.String()),
			zap.String("buyer_id", accepted.BuyerID.String()),
			zap.Time("reserved_until", until))
		s.notify(ctx, "accepted", Message{
			ConversationID: accepted.ConversationID,
			SenderID:       accepted.SellerID,
			RecipientID:    accepted.BuyerID,
			BundleID:       accepted.ID,
			Content:        acceptedMessage(accepted.ID, int(s.cfg.ReservationTTL.Hours())),
		})
		s.publish(ctx, bundle.NewEvent(bundle.EventAccepted, accepted, now))
		return accepted, nil
	}
}

// ListBundles returns the caller's bundles for one role, newest first, each
// with live snapshots of its products. Lapsed reservations are swept before
// reading.
func (s *Service) ListBundles(ctx context.Context, userID uuid.UUID, role bundle.Role) ([]*BundleDetails, error) {
	ctx, span := s.tracer.Start(ctx, "negotiation.ListBundles", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("bundle.role", string(role)),
	))
	defer span.End()

	if role != bundle.RoleBuyer && role != bundle.RoleSeller {
		return nil, errors.NewValidationError(errors.CodeInvalidRole, fmt.Sprintf("role must be buyer or seller, got %q", role))
	}

	s.sweepBeforeRead(ctx)

	bundles, err := s.bundles.ListByUser(ctx, userID, role)
	if err != nil {
		span.RecordError(err)
		return nil, internalUnlessApp(err, "failed to list bundles")
	}

	var ids []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, b := range bundles {
		for _, id := range b.ProductIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	byID := make(map[uuid.UUID]*product.Product, len(ids))
	if len(ids) > 0 {
		found, err := s.products.GetByIDs(ctx, ids)
		if err != nil {
			span.RecordError(err)
			return nil, internalUnlessApp(err, "failed to load products")
		}
		for _, p := range found {
			byID[p.ID] = p
		}
	}

	out := make([]*BundleDetails, 0, len(bundles))
	for _, b := range bundles {
		products := make([]*product.Product, 0, len(b.ProductIDs))
		for _, id := range b.ProductIDs {
			if p, ok := byID[id]; ok {
				products = append(products, p)
			}
		}
		out = append(out, &BundleDetails{Bundle: b, Products: products})
	}
	span.SetAttributes(attribute.Int("bundle.count", len(out)))
	return out, nil
}

// GetBundle returns one bundle with live snapshots of its products. Only
// the bundle's buyer or seller may read it.
func (s *Service) GetBundle(ctx context.Context, callerID, bundleID uuid.UUID) (*BundleDetails, error) {
	ctx, span := s.tracer.Start(ctx, "negotiation.GetBundle", trace.WithAttributes(
		attribute.String("bundle.id", bundleID.String()),
		attribute.String("user.id", callerID.String()),
	))
	defer span.End()

	s.sweepBeforeRead(ctx)

	b, err := s.bundles.GetByID(ctx, bundleID)
	if err != nil {
		span.RecordError(err)
		return nil, internalUnlessApp(err, "failed to load bundle")
	}
	if b.BuyerID != callerID && b.SellerID != callerID {
		return nil, bundle.NewNotParticipantError()
	}

	products, err := s.loadProducts(ctx, b.ProductIDs, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &BundleDetails{Bundle: b, Products: products}, nil
}

// Sweep expires every accepted bundle whose window has closed
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.SweepAt(ctx, s.clock.Now())
}

// SweepAt releases lapsed reservations as of now and reports how many
// bundles it expired. Due bundles are fetched in batches until the backlog
// is drained. Per-bundle failures are logged and skipped; a batch that makes
// no progress ends the sweep.
func (s *Service) SweepAt(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "negotiation.Sweep")
	defer span.End()

	expiredCount, releasedCount, batches := 0, 0, 0
	defer func() {
		if expiredCount > 0 {
			s.metrics.RecordExpiry(ctx, expiredCount, releasedCount)
		}
		span.SetAttributes(
			attribute.Int("sweep.expired", expiredCount),
			attribute.Int("sweep.released", releasedCount),
			attribute.Int("sweep.batches", batches),
		)
	}()

	limit := s.cfg.SweepBatchSize
	for {
		if err := ctx.Err(); err != nil {
			return expiredCount, err
		}

		due, err := s.bundles.ListExpired(ctx, now, limit)
		if err != nil {
			span.RecordError(err)
			return expiredCount, internalUnlessApp(err, "failed to list expired bundles")
		}
		batches++

		settled := 0
		for _, b := range due {
			released, expired, err := s.reservations.ExpireBundle(ctx, b.ID, now)
			if err != nil {
				s.logger.Warn("failed to expire bundle",
					zap.String("bundle_id", b.ID.String()),
					zap.Error(err))
				continue
			}
			settled++
			if !expired {
				continue
			}

			expiredCount++
			releasedCount += released
			b.Status = bundle.StatusExpired

			s.logger.Info("bundle reservation expired",
				zap.String("bundle_id", b.ID.String()),
				zap.String("buyer_id", b.BuyerID.String()),
				zap.Int("released_products", released))

			if s.cfg.NotifyOnExpiry {
				s.notify(ctx, "expired", Message{
					ConversationID: b.ConversationID,
					SenderID:       b.SellerID,
					RecipientID:    b.BuyerID,
					BundleID:       b.ID,
					Content:        expiredMessage(b.ID),
				})
			}
			s.publish(ctx, bundle.NewEvent(bundle.EventExpired, b, now))
		}

		if len(due) < limit || settled == 0 {
			return expiredCount, nil
		}
	}
}

func (s *Service) sweepBeforeRead(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Warn("opportunistic sweep failed", zap.Error(err))
	}
}

func (s *Service) checkProposalRate(ctx context.Context, buyerID uuid.UUID) error {
	if s.limiter == nil || s.cfg.ProposalLimit <= 0 {
		return nil
	}

	allowed, err := s.limiter.Allow(ctx, "bundle_proposal:"+buyerID.String(), s.cfg.ProposalLimit, s.cfg.ProposalWindow)
	if err != nil {
		// limiter outages do not block proposals
		s.logger.Warn("proposal rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		return errors.NewRateLimitError("too many bundle requests, try again shortly").
			WithDetails(map[string]interface{}{"retry_after_seconds": int(s.cfg.ProposalWindow.Seconds())})
	}
	return nil
}

// loadProducts returns the products in the order of ids. With strict set a
// missing product is a not-found error; otherwise it is skipped.
func (s *Service) loadProducts(ctx context.Context, ids []uuid.UUID, strict bool) ([]*product.Product, error) {
	found, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, internalUnlessApp(err, "failed to load products")
	}

	byID := make(map[uuid.UUID]*product.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	ordered := make([]*product.Product, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			if strict {
				return nil, bundle.NewProductNotFoundError(id)
			}
			continue
		}
		ordered = append(ordered, p)
	}
	return ordered, nil
}

// checkProposable enforces ownership for the whole selection before
// checking availability.
func checkProposable(products []*product.Product, buyerID, sellerID uuid.UUID, now time.Time) error {
	for _, p := range products {
		if p.SellerID != sellerID {
			return bundle.NewOwnerMismatchError(p)
		}
	}
	for _, p := range products {
		if !p.IsAvailableFor(buyerID, now) {
			return bundle.NewProductUnavailableError(p)
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, kind string, msg Message) {
	if err := s.notifier.PostSystemMessage(ctx, msg); err != nil {
		s.metrics.RecordNotificationFailure(ctx, kind)
		s.logger.Warn("failed to post bundle message",
			zap.String("kind", kind),
			zap.String("bundle_id", msg.BundleID.String()),
			zap.String("conversation_id", msg.ConversationID.String()),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, event *bundle.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish bundle event",
			zap.String("event_type", string(event.Type)),
			zap.String("bundle_id", event.BundleID.String()),
			zap.Error(err))
	}
}

func internalUnlessApp(err error, message string) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	return errors.NewInternalError(message).WithCause(err)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return string(appErr.Type)
	}
	return "error"
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *bundle.Event) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordProposal(context.Context, int, string) {}
func (nopMetrics) RecordResponse(context.Context, bundle.Action, string, time.Duration) {}
func (nopMetrics) RecordExpiry(context.Context, int, int) {}
func (nopMetrics) RecordNotificationFailure(context.Context, string) {}

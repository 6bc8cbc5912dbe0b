package rest

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	domainErrors "github.com/davidleathers/bundle-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/values"
	"github.com/davidleathers/bundle-exchange-backend/internal/service/negotiation"
)

// BundleService is the negotiation surface the handlers drive
type BundleService interface {
	CreateBundle(ctx context.Context, req negotiation.CreateBundleRequest) (*negotiation.CreateBundleResult, error)
	RespondToBundle(ctx context.Context, req negotiation.RespondRequest) (*bundle.BundleRequest, error)
	ListBundles(ctx context.Context, userID uuid.UUID, role bundle.Role) ([]*negotiation.BundleDetails, error)
	GetBundle(ctx context.Context, callerID, bundleID uuid.UUID) (*negotiation.BundleDetails, error)
}

type BundleHandlers struct {
	*BaseHandler
	service BundleService
}

func NewBundleHandlers(base *BaseHandler, service BundleService) *BundleHandlers {
	return &BundleHandlers{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the bundle endpoints behind auth
func (h *BundleHandlers) RegisterRoutes(mux *http.ServeMux, auth Middleware) {
	mux.Handle("POST /api/v1/bundles", auth(h.Wrap(h.createBundle)))
	mux.Handle("GET /api/v1/bundles", auth(h.Wrap(h.listBundles)))
	mux.Handle("GET /api/v1/bundles/{id}", auth(h.Wrap(h.getBundle)))
	mux.Handle("PATCH /api/v1/bundles/{id}", auth(h.Wrap(h.respondToBundle)))
}

func (h *BundleHandlers) createBundle(r *http.Request) (interface{}, int, error) {
	userID, err := getUserFromContext(r.Context())
	if err != nil {
		return nil, 0, err
	}

	var req CreateBundleRequest
	if err := h.DecodeAndValidate(r, &req); err != nil {
		return nil, 0, err
	}

	sellerID := uuid.MustParse(req.SellerID)
	productIDs := make([]uuid.UUID, 0, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		productIDs = append(productIDs, uuid.MustParse(id))
	}

	var offer *values.Money
	if req.OfferAmount != nil {
		currency := req.OfferAmount.Currency
		if currency == "" {
			currency = values.DefaultCurrency
		}
		m, err := values.NewMoneyFromString(req.OfferAmount.Amount, currency)
		if err != nil {
			return nil, 0, domainErrors.NewValidationError(domainErrors.CodeInvalidOffer, err.Error())
		}
		offer = &m
	}

	result, err := h.service.CreateBundle(r.Context(), negotiation.CreateBundleRequest{
		BuyerID:     userID,
		SellerID:    sellerID,
		ProductIDs:  productIDs,
		OfferAmount: offer,
	})
	if err != nil {
		return nil, 0, err
	}

	resp := toBundleResponse(result.Bundle)
	resp.Products = toProductSnapshots(result.Products)
	resp.Total = &result.Total
	return resp, http.StatusCreated, nil
}

func (h *BundleHandlers) listBundles(r *http.Request) (interface{}, int, error) {
	userID, err := getUserFromContext(r.Context())
	if err != nil {
		return nil, 0, err
	}

	role, err := bundle.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		return nil, 0, err
	}

	bundles, err := h.service.ListBundles(r.Context(), userID, role)
	if err != nil {
		return nil, 0, err
	}

	out := BundleListResponse{Bundles: make([]BundleResponse, 0, len(bundles))}
	for _, d := range bundles {
		resp := toBundleResponse(d.Bundle)
		resp.Products = toProductSnapshots(d.Products)
		out.Bundles = append(out.Bundles, resp)
	}
	out.Count = len(out.Bundles)
	return out, http.StatusOK, nil
}

func (h *BundleHandlers) getBundle(r *http.Request) (interface{}, int, error) {
	userID, err := getUserFromContext(r.Context())
	if err != nil {
		return nil, 0, err
	}
	bundleID, err := pathUUID(r, "id")
	if err != nil {
		return nil, 0, err
	}

	details, err := h.service.GetBundle(r.Context(), userID, bundleID)
	if err != nil {
		return nil, 0, err
	}

	resp := toBundleResponse(details.Bundle)
	resp.Products = toProductSnapshots(details.Products)
	return resp, http.StatusOK, nil
}

func (h *BundleHandlers) respondToBundle(r *http.Request) (interface{}, int, error) {
	userID, err := getUserFromContext(r.Context())
	if err != nil {
		return nil, 0, err
	}
	bundleID, err := pathUUID(r, "id")
	if err != nil {
		return nil, 0, err
	}

	var req RespondRequest
	if err := h.DecodeAndValidate(r, &req); err != nil {
		return nil, 0, err
	}
	action, err := bundle.ParseAction(req.Action)
	if err != nil {
		return nil, 0, err
	}

	b, err := h.service.RespondToBundle(r.Context(), negotiation.RespondRequest{
		BundleID: bundleID,
		SellerID: userID,
		Action:   action,
	})
	if err != nil {
		return nil, 0, err
	}
	return toBundleResponse(b), http.StatusOK, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, &ValidationError{
			Message: "Invalid path parameter",
			Fields:  map[string][]string{name: {"Must be a valid UUID"}},
		}
	}
	return id, nil
}

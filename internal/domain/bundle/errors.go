package bundle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/bundle-exchange-backend/internal/domain/product"
)

// NewProductUnavailableError names the product that blocked a proposal or
// acceptance, and its current holder when one is known.
func NewProductUnavailableError(p *product.Product) *errors.AppError {
	details := map[string]interface{}{
		"product_id": p.ID.String(),
		"title":      p.Title,
		"status":     p.Status.String(),
	}
	if p.ReservedBy != nil {
		details["reserved_by"] = p.ReservedBy.String()
	}
	if p.ReservedUntil != nil {
		details["reserved_until"] = p.ReservedUntil.UTC()
	}

	return errors.NewConflictError(errors.CodeProductUnavailable,
		fmt.Sprintf("%q is no longer available", p.Title)).WithDetails(details)
}

// NewProductUnavailableIDError is used when only the product id is known
func NewProductUnavailableIDError(productID uuid.UUID) *errors.AppError {
	return errors.NewConflictError(errors.CodeProductUnavailable,
		fmt.Sprintf("product %s is no longer available", productID)).
		WithDetails(map[string]interface{}{"product_id": productID.String()})
}

func NewOwnerMismatchError(p *product.Product) *errors.AppError {
	return errors.NewConflictError(errors.CodeOwnerMismatch,
		fmt.Sprintf("%q does not belong to this seller", p.Title)).
		WithDetails(map[string]interface{}{
			"product_id": p.ID.String(),
			"title":      p.Title,
		})
}

func NewAlreadyResolvedError(status Status) *errors.AppError {
	return errors.NewConflictError(errors.CodeAlreadyResolved,
		fmt.Sprintf("bundle has already been %s", status)).
		WithDetails(map[string]interface{}{"status": status.String()})
}

func NewNotSellerError() *errors.AppError {
	return errors.NewForbiddenError(errors.CodeNotBundleSeller, "only the seller can respond to this bundle")
}

func NewNotParticipantError() *errors.AppError {
	return errors.NewForbiddenError(errors.CodeNotParticipant, "only the buyer or seller can view this bundle")
}

func NewBundleNotFoundError(id uuid.UUID) *errors.AppError {
	return errors.NewNotFoundError("bundle").
		WithDetails(map[string]interface{}{"bundle_id": id.String()})
}

func NewProductNotFoundError(id uuid.UUID) *errors.AppError {
	return errors.NewNotFoundError("product").
		WithDetails(map[string]interface{}{"product_id": id.String()})
}

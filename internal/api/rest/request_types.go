package rest

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// CreateBundleRequest is the body of POST /api/v1/bundles. Emptiness and
// duplicates in product_ids are left to the service so they surface with
// their own error codes.
type CreateBundleRequest struct {
	SellerID    string        `json:"seller_id" validate:"required,uuid"`
	ProductIDs  []string      `json:"product_ids" validate:"max=50,dive,uuid"`
	OfferAmount *OfferRequest `json:"offer_amount,omitempty"`
}

type OfferRequest struct {
	Amount   string `json:"amount" validate:"required,decimal"`
	Currency string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// RespondRequest is the body of PATCH /api/v1/bundles/{id}
type RespondRequest struct {
	Action string `json:"action" validate:"required"`
}

func validateDecimal(fl validator.FieldLevel) bool {
	_, err := decimal.NewFromString(fl.Field().String())
	return err == nil
}

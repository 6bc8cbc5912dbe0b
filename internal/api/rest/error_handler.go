package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	domainErrors "github.com/davidleathers/bundle-exchange-backend/internal/domain/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorHandler maps errors onto HTTP status codes and error bodies
type ErrorHandler struct {
	logger *slog.Logger
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError converts err into a status and an error body. Application
// errors keep their code and details; anything else is reported as an
// internal error without leaking its message.
func (h *ErrorHandler) HandleError(ctx context.Context, err error) (int, *ErrorResponse) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)

	var appErr *domainErrors.AppError
	if errors.As(err, &appErr) {
		span.SetAttributes(attribute.String("error.code", appErr.Code))
		if appErr.StatusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, appErr.Message)
			h.logger.ErrorContext(ctx, "request failed", "code", appErr.Code, "error", err)
		}
		return appErr.StatusCode, &ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		resp := &ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: validationErr.Message,
			Fields:  validationErr.Fields,
		}
		if validationErr.Details != "" {
			resp.Details = map[string]interface{}{"reason": validationErr.Details}
		}
		return http.StatusBadRequest, resp
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout, &ErrorResponse{Code: "REQUEST_CANCELED", Message: "Request was canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, &ErrorResponse{Code: "REQUEST_TIMEOUT", Message: "Request timed out"}
	}

	span.SetStatus(codes.Error, err.Error())
	h.logger.ErrorContext(ctx, "unhandled error", "error", err)
	return http.StatusInternalServerError, &ErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}
}

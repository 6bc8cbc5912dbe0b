package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const maxBodySize = 1 << 20

// RequestMeta contains metadata about the current request
type RequestMeta struct {
	RequestID string
	UserID    uuid.UUID
	StartTime time.Time
}

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Fields  map[string][]string    `json:"fields,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// BaseHandler provides the envelope, validation and error mapping shared by
// every handler
type BaseHandler struct {
	validator    *validator.Validate
	errorHandler *ErrorHandler
	apiVersion   string
	logger       *slog.Logger
}

func NewBaseHandler(apiVersion string, logger *slog.Logger) *BaseHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("decimal", validateDecimal)

	return &BaseHandler{
		validator:    v,
		errorHandler: NewErrorHandler(logger),
		apiVersion:   apiVersion,
		logger:       logger,
	}
}

// Wrap adapts a handler returning (data, status, error) into an
// http.HandlerFunc that writes the envelope.
func (h *BaseHandler) Wrap(handler func(*http.Request) (interface{}, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, status, err := handler(r)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		h.writeSuccess(w, r, status, data)
	}
}

// DecodeAndValidate reads a JSON body into v and runs struct validation
func (h *BaseHandler) DecodeAndValidate(r *http.Request, v interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return &ValidationError{Message: "Content-Type must be application/json"}
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			return &ValidationError{Message: fmt.Sprintf("Request body too large (max %d bytes)", maxBodySize)}
		}
		return &ValidationError{Message: "Failed to read request body"}
	}
	if len(body) == 0 {
		return &ValidationError{Message: "Request body is required"}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &ValidationError{Message: "Invalid JSON", Details: err.Error()}
	}
	if err := h.validator.Struct(v); err != nil {
		return h.formatValidationError(err)
	}
	return nil
}

func (h *BaseHandler) formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &ValidationError{Message: "Validation error", Details: err.Error()}
	}

	fields := make(map[string][]string)
	for _, fe := range validationErrors {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "This field is required"
		case "min":
			msg = fmt.Sprintf("Must contain at least %s item(s)", fe.Param())
		case "max":
			msg = fmt.Sprintf("Must contain at most %s item(s)", fe.Param())
		case "uuid":
			msg = "Must be a valid UUID"
		case "oneof":
			msg = fmt.Sprintf("Must be one of: %s", fe.Param())
		case "decimal":
			msg = "Must be a decimal amount"
		case "iso4217":
			msg = "Must be a valid ISO 4217 currency code"
		default:
			msg = fmt.Sprintf("Failed %s validation", fe.Tag())
		}
		fields[fe.Field()] = append(fields[fe.Field()], msg)
	}

	return &ValidationError{Message: "Validation failed", Fields: fields}
}

func (h *BaseHandler) writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	meta := getRequestMeta(r.Context())
	h.writeJSON(w, r, status, ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta:    h.responseMeta(meta),
	})
}

func (h *BaseHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := h.errorHandler.HandleError(r.Context(), err)
	h.writeError(w, r, status, resp)
}

func (h *BaseHandler) writeError(w http.ResponseWriter, r *http.Request, status int, resp *ErrorResponse) {
	if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
		resp.TraceID = sc.TraceID().String()
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}

	meta := getRequestMeta(r.Context())
	h.writeJSON(w, r, status, ResponseEnvelope{
		Success: false,
		Error:   resp,
		Meta:    h.responseMeta(meta),
	})
}

func (h *BaseHandler) responseMeta(meta *RequestMeta) ResponseMeta {
	rm := ResponseMeta{
		RequestID: meta.RequestID,
		Timestamp: time.Now().UTC(),
		Version:   h.apiVersion,
	}
	if !meta.StartTime.IsZero() {
		rm.ResponseTime = time.Since(meta.StartTime).String()
	}
	return rm
}

func (h *BaseHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// ValidationError represents a request that failed decoding or validation
type ValidationError struct {
	Message string
	Details string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Context keys
type contextKey string

const (
	contextKeyRequestMeta contextKey = "request_meta"
	contextKeyUserID      contextKey = "user_id"
)

func getRequestMeta(ctx context.Context) *RequestMeta {
	if meta, ok := ctx.Value(contextKeyRequestMeta).(*RequestMeta); ok {
		return meta
	}
	return &RequestMeta{RequestID: uuid.NewString()}
}

package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// maxRequestBody caps customer request bodies. Webhook bodies have their own
// limit in the webhook controller.
const maxRequestBody = 64 << 10

var validate = newValidator()

// newValidator reports fields by their JSON names so errors match the payload.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is matched in order. Every code failure answers the same
// generic invalid_code so a caller cannot tell why a guess was refused.
var errorMappings = []errorMapping{
	{domainErrors.ErrOrderNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrSubscriptionNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrProviderNotFound, http.StatusNotFound, "unknown_provider"},
	{domainErrors.ErrSignatureInvalid, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrOptimisticLockFailed, http.StatusConflict, "conflict"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrIllegalPaymentStatus, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrNotCancelable, http.StatusConflict, "not_cancelable"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{domainErrors.ErrProviderTimeout, http.StatusGatewayTimeout, "provider_timeout"},
	{domainErrors.ErrProviderRejected, http.StatusUnprocessableEntity, "provider_rejected"},
	{domainErrors.ErrCooldown, http.StatusTooManyRequests, "too_many_requests"},
	{domainErrors.ErrRateLimited, http.StatusTooManyRequests, "too_many_requests"},
	{domainErrors.ErrBindingMissing, http.StatusBadRequest, "session_binding_required"},
	{domainErrors.ErrCodeNotFound, http.StatusUnauthorized, "invalid_code"},
	{domainErrors.ErrCodeExpired, http.StatusUnauthorized, "invalid_code"},
	{domainErrors.ErrCodeExhausted, http.StatusUnauthorized, "invalid_code"},
	{domainErrors.ErrCodeInvalid, http.StatusUnauthorized, "invalid_code"},
	{domainErrors.ErrBindingMismatch, http.StatusUnauthorized, "invalid_code"},
	{domainErrors.ErrStepUpRequired, http.StatusForbidden, "step_up_required"},
	{domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
}

// genericMessages replaces error text that would leak internals or hint at
// why a code was refused.
var genericMessages = map[string]string{
	"conflict":          "concurrent modification, please retry",
	"invalid_code":      "invalid or expired code",
	"too_many_requests": "too many requests, try again later",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if msg, ok := genericMessages[m.code]; ok {
				resp.Error = msg
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

// decodeAndValidate reads a single JSON object, rejecting unknown fields so a
// misspelled expected_version is not silently dropped.
func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if dec.More() {
		return domainErrors.NewValidationError("body", "must contain a single JSON object")
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}

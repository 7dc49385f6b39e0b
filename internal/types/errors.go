package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidAmount   ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInvalidCurrency ErrorCode = "validation_invalid_currency"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationSubject         ErrorCode = "validation_invalid_subject"
	ErrCodeValidationInvalidBody     ErrorCode = "validation_invalid_body"

	// Auth (401)
	ErrCodeAuthTokenMissing     ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid     ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired     ErrorCode = "auth_token_expired"
	ErrCodeAuthInvalidSignature ErrorCode = "auth_invalid_signature"

	// Permission (403)
	ErrCodePermissionRole ErrorCode = "permission_role_insufficient"

	// Not Found (404)
	ErrCodeNotFoundPayment  ErrorCode = "not_found_payment"
	ErrCodeNotFoundTour     ErrorCode = "not_found_tour"
	ErrCodeNotFoundBook     ErrorCode = "not_found_book"
	ErrCodeNotFoundProvider ErrorCode = "not_found_provider"

	// Conflict (409)
	ErrCodeConflictPaymentState ErrorCode = "conflict_payment_state"
	ErrCodeConflictDuplicate    ErrorCode = "conflict_duplicate_order"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB                ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected        ErrorCode = "internal_unexpected_error"
	ErrCodeInternalFulfillmentFailed ErrorCode = "internal_fulfillment_failed"
	ErrCodeUpstreamGateway           ErrorCode = "upstream_gateway_unavailable"
	ErrCodeUpstreamRejected          ErrorCode = "upstream_gateway_rejected"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case s == string(ErrCodeAuthInvalidSignature):
		// Signature mismatches are a client fault, not a missing credential.
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf returns the ErrorCode of the first AppError in err's chain, or the
// empty code when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err's chain carries an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Domain error constructors. These are the failure kinds the payment core
// surfaces to its callers.

// ErrInvalidAmount reports a non-positive or unparseable order amount.
func ErrInvalidAmount(msg string) *AppError {
	return NewAppError(ErrCodeValidationInvalidAmount, msg, nil)
}

// ErrInvalidSignature reports an HMAC mismatch on a verify call or webhook.
func ErrInvalidSignature() *AppError {
	return NewAppError(ErrCodeAuthInvalidSignature, "invalid signature", nil)
}

// ErrGatewayUnavailable reports a provider transport failure or timeout.
func ErrGatewayUnavailable(err error) *AppError {
	return NewAppError(ErrCodeUpstreamGateway, "payment provider unavailable", err)
}

// ErrRecordNotFound reports an unknown provider order id.
func ErrRecordNotFound(orderID string) *AppError {
	return NewAppErrorWithDetails(ErrCodeNotFoundPayment, "payment record not found", nil,
		map[string]any{"order_id": orderID})
}

// ErrFulfillmentFailed reports a post-payment side effect that did not complete.
func ErrFulfillmentFailed(paymentID string, err error) *AppError {
	return NewAppErrorWithDetails(ErrCodeInternalFulfillmentFailed, "fulfillment failed", err,
		map[string]any{"payment_id": paymentID})
}

// ErrStorageUnavailable reports a persistence failure.
func ErrStorageUnavailable(op string, err error) *AppError {
	return NewAppError(ErrCodeInternalDB, op, err)
}

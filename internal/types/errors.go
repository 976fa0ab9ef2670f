package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these instead of literal strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidKind   ErrorCode = "validation_invalid_kind"
	ErrCodeValidationInvalidDate   ErrorCode = "validation_invalid_date"
	ErrCodeValidationInvalidAmount ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInvalidField  ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidJSON   ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Not Found (404)
	ErrCodeNotFoundJob ErrorCode = "not_found_job"

	// Conflict (409)
	ErrCodeConflictRunInProgress ErrorCode = "conflict_run_in_progress"

	// Render (422). Bad data does not fix itself; always permanent.
	ErrCodeRenderMissingField ErrorCode = "render_missing_field"
	ErrCodeRenderFailed       ErrorCode = "render_failed"

	// Configuration (503)
	ErrCodeConfigMailUnavailable ErrorCode = "config_mail_unavailable"

	// Evaluation (500)
	ErrCodeEvaluationFailed ErrorCode = "evaluation_failed"

	// Permanent delivery failures
	ErrCodeEmailBlocked          ErrorCode = "email_blocked"
	ErrCodeEmailInvalidRecipient ErrorCode = "email_invalid_recipient"
	ErrCodeEmailContentRejected  ErrorCode = "email_content_rejected"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamTimeout       ErrorCode = "upstream_timeout"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "render_"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(s, "config_"):
		return http.StatusServiceUnavailable
	case strings.HasPrefix(s, "email_"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsPermanentDelivery reports whether the code describes a delivery failure
// that will not succeed on a later attempt.
func (c ErrorCode) IsPermanentDelivery() bool {
	switch c {
	case ErrCodeEmailBlocked, ErrCodeEmailInvalidRecipient, ErrCodeEmailContentRejected,
		ErrCodeRenderMissingField, ErrCodeRenderFailed:
		return true
	}
	return false
}

// AppError is the standard application error type. All domain and handler
// errors are expressed as AppError so that HTTP mapping and error chains stay
// consistent.
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
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

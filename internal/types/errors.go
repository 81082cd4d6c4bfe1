package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers MUST use these instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidURL   ErrorCode = "validation_invalid_url"
	ErrCodeValidationReasonLength ErrorCode = "validation_close_reason_too_short"
	ErrCodeValidationReportType   ErrorCode = "validation_invalid_report_type"

	// Webhook (400)
	ErrCodeWebhookBadSignature    ErrorCode = "webhook_bad_signature"
	ErrCodeWebhookMissingMetadata ErrorCode = "webhook_missing_metadata"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Permission (403)
	ErrCodePermissionRole      ErrorCode = "permission_role_insufficient"
	ErrCodePermissionSuspended ErrorCode = "permission_account_suspended"
	ErrCodePermissionOwnership ErrorCode = "permission_not_owner"

	// Entitlement (402)
	ErrCodeEntitlementDenied ErrorCode = "entitlement_denied"
	ErrCodePhoneRequired     ErrorCode = "entitlement_phone_required"

	// Not Found (404)
	ErrCodeNotFoundAccount      ErrorCode = "not_found_account"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundTicket       ErrorCode = "not_found_ticket"
	ErrCodeNotFoundReferralCode ErrorCode = "not_found_referral_code"

	// Conflict (409)
	ErrCodeConflictTestimonial   ErrorCode = "conflict_testimonial_exists"
	ErrCodeConflictReferralUsed  ErrorCode = "conflict_referral_already_used"
	ErrCodeConflictPhoneInUse    ErrorCode = "conflict_phone_in_use"
	ErrCodeConflictGuestSignup   ErrorCode = "conflict_guest_signup_exists"
	ErrCodeConflictTicketState   ErrorCode = "conflict_ticket_state"
	ErrCodeConflictStaleEvent    ErrorCode = "conflict_stale_event"

	// External desync (500: force the processor to retry delivery)
	ErrCodeDesyncUnknownCustomer     ErrorCode = "desync_unknown_customer"
	ErrCodeDesyncUnknownSubscription ErrorCode = "desync_unknown_subscription"
	ErrCodeDesyncUnknownPrice        ErrorCode = "desync_unknown_price"

	// Internal/Upstream
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe     ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamAuth       ErrorCode = "upstream_auth_unavailable"
	ErrCodeUpstreamEmail      ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamQueue      ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"), strings.HasPrefix(s, "webhook_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "entitlement_"):
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "desync_"), strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the
// platform. All domain and handler errors are expressed as AppError to enable
// consistent formatting, HTTP status mapping, and error chain support.
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

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
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

// NewEntitlementDenied builds the typed denial returned when an account has
// no way to fund a report. The prompt tells the caller which upgrade CTA to
// render; it is part of the contract, not decoration.
func NewEntitlementDenied(prompt UpgradePrompt) *AppError {
	return &AppError{
		Code:    ErrCodeEntitlementDenied,
		Message: "no report credits available",
		Details: map[string]any{"upgrade_prompt": string(prompt)},
	}
}

// Package errors is the error taxonomy of the sale and settlement services.
//
// Every DomainError wraps one category sentinel; handlers pick the HTTP
// status from the category and return Code to the client. Settlement
// outcomes (payment mismatch, payment not found, payout failed) have their
// own sentinels because the order state machine branches on them.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Categories.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Settlement outcomes.
var (
	// ErrPaymentNotFound means the payment never confirmed within the watch window.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentMismatch means the on-chain transfer differs from the order.
	ErrPaymentMismatch = errors.New("payment mismatch")
	// ErrPayoutFailed marks a definitive payout failure.
	ErrPayoutFailed = errors.New("payout failed")
	// ErrStalePayoutAttempt means a hash arrived for a superseded payout attempt.
	ErrStalePayoutAttempt = errors.New("payout attempt superseded")
)

// Unique-constraint violations surfaced by repositories.
var (
	ErrDuplicateWallet       = errors.New("wallet already registered")
	ErrDuplicateReferralCode = errors.New("referral code already taken")
	ErrDuplicatePaymentTx    = errors.New("payment transaction already used")
)

// Client-facing codes.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeConflict              = "CONFLICT"
	CodeInternal              = "INTERNAL_ERROR"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeBelowMinimum          = "BELOW_MINIMUM"
	CodeIcoPaused             = "ICO_PAUSED"
	CodeTreasuryNotConfigured = "TREASURY_NOT_CONFIGURED"
	CodeReferralRequired      = "REFERRAL_REQUIRED"
	CodeInvalidReferralCode   = "INVALID_REFERRAL_CODE"
	CodeInvalidAddress        = "INVALID_ADDRESS"
	CodeInvalidTxHash         = "INVALID_TX_HASH"
	CodeInvalidTransition     = "INVALID_STATUS_TRANSITION"
	CodePaymentNotFound       = "PAYMENT_NOT_FOUND"
	CodePaymentMismatch       = "PAYMENT_MISMATCH"
	CodePayoutFailed          = "PAYOUT_FAILED"
	CodeRequeueNotAllowed     = "REQUEUE_NOT_ALLOWED"
)

// DomainError carries a category, a stable code and a client-safe message.
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]interface{}
	// Retryable is read by pkg/retry through IsRetryable.
	Retryable bool
}

func (e *DomainError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code
	}
}

func (e *DomainError) Unwrap() error { return e.Err }

// IsRetryable reports whether the operation may succeed if repeated.
func (e *DomainError) IsRetryable() bool { return e.Retryable }

// NewDomainError builds an error for a code with no dedicated constructor.
func NewDomainError(category error, code, message string) *DomainError {
	return &DomainError{Err: category, Code: code, Message: message}
}

func withCause(de *DomainError, cause error) *DomainError {
	if cause != nil {
		if de.Details == nil {
			de.Details = map[string]interface{}{}
		}
		de.Details["cause"] = cause.Error()
	}
	return de
}

// NotFoundError reports a missing resource, e.g. "referral reward" yields
// REFERRAL_REWARD_NOT_FOUND.
func NotFoundError(resource string) *DomainError {
	name := strings.ToLower(resource)
	return &DomainError{
		Err:     ErrNotFound,
		Code:    strings.ToUpper(strings.ReplaceAll(name, " ", "_")) + "_NOT_FOUND",
		Message: name + " not found",
	}
}

func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeValidation,
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

func UnauthorizedError(message string) *DomainError {
	return NewDomainError(ErrUnauthorized, CodeUnauthorized, message)
}

func ForbiddenError(message string) *DomainError {
	return NewDomainError(ErrForbidden, CodeForbidden, message)
}

func ConflictError(resource, reason string) *DomainError {
	return NewDomainError(ErrConflict, CodeConflict, fmt.Sprintf("%s: %s", resource, reason))
}

func InternalError(message string, cause error) *DomainError {
	return withCause(NewDomainError(ErrInternal, CodeInternal, message), cause)
}

// ServiceUnavailableError reports a dependency that may recover on retry.
func ServiceUnavailableError(dependency string, cause error) *DomainError {
	de := NewDomainError(ErrServiceUnavailable, CodeServiceUnavailable,
		fmt.Sprintf("%s is temporarily unavailable", dependency))
	de.Retryable = true
	return withCause(de, cause)
}

// Purchase and registration.

func BelowMinimumError(minimum string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeBelowMinimum,
		Message: fmt.Sprintf("minimum purchase is %s USDT", minimum),
		Details: map[string]interface{}{"minimum_usdt": minimum},
	}
}

func IcoPausedError() *DomainError {
	return NewDomainError(ErrForbidden, CodeIcoPaused, "ICO is currently paused")
}

// TreasuryNotConfiguredError is not retryable: an admin has to act first.
func TreasuryNotConfiguredError() *DomainError {
	return NewDomainError(ErrServiceUnavailable, CodeTreasuryNotConfigured, "treasury address is not configured")
}

func ReferralRequiredError() *DomainError {
	return NewDomainError(ErrInvalidInput, CodeReferralRequired, "a referral code is required to register")
}

func InvalidReferralCodeError(code string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeInvalidReferralCode,
		Message: "invalid referral code",
		Details: map[string]interface{}{"referral_code": code},
	}
}

func InvalidAddressError(field, value string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeInvalidAddress,
		Message: fmt.Sprintf("%s is not a valid address", field),
		Details: map[string]interface{}{"field": field, "value": value},
	}
}

func InvalidTxHashError(value string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeInvalidTxHash,
		Message: "tx_hash must be a 0x-prefixed 32-byte hex string",
		Details: map[string]interface{}{"value": value},
	}
}

// Settlement.

func InvalidTransitionError(entity, from, to string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		Details: map[string]interface{}{"from": from, "to": to},
	}
}

// PaymentMismatchError carries the human-readable reason stored on the order.
func PaymentMismatchError(reason string) *DomainError {
	return NewDomainError(ErrPaymentMismatch, CodePaymentMismatch, reason)
}

// PayoutFailedError wraps a definitive payout failure; errors.Is matches both
// ErrPayoutFailed and cause.
func PayoutFailedError(reason string, cause error) *DomainError {
	de := NewDomainError(ErrPayoutFailed, CodePayoutFailed, reason)
	if cause != nil {
		de.Err = fmt.Errorf("%w: %w", ErrPayoutFailed, cause)
	}
	return withCause(de, cause)
}

func RequeueNotAllowedError(reason string) *DomainError {
	return NewDomainError(ErrConflict, CodeRequeueNotAllowed, reason)
}

// Predicates.

func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool       { return errors.Is(err, ErrInvalidInput) }
func IsUnauthorized(err error) bool       { return errors.Is(err, ErrUnauthorized) }
func IsForbidden(err error) bool          { return errors.Is(err, ErrForbidden) }
func IsConflict(err error) bool           { return errors.Is(err, ErrConflict) }
func IsServiceUnavailable(err error) bool { return errors.Is(err, ErrServiceUnavailable) }
func IsPaymentMismatch(err error) bool    { return errors.Is(err, ErrPaymentMismatch) }
func IsPaymentNotFound(err error) bool    { return errors.Is(err, ErrPaymentNotFound) }
func IsPayoutFailed(err error) bool       { return errors.Is(err, ErrPayoutFailed) }

// GetErrorCode returns the code of the outermost DomainError in err's chain.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "UNKNOWN_ERROR"
}

package utils

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure crossing a component boundary carries one of
// these tags; conversion to user-visible WhatsApp copy happens only at the
// dispatch edge.
const (
	KindValidation          = "validation"
	KindInvalidPhone        = "invalid_phone_format"
	KindInsufficientFunds   = "insufficient_funds"
	KindDailyLimitExceeded  = "daily_limit_exceeded"
	KindMonthlyLimit        = "monthly_limit_exceeded"
	KindWalletFrozen        = "wallet_frozen"
	KindPINMismatch         = "pin_mismatch"
	KindPINLocked           = "pin_locked"
	KindProviderRetryable   = "provider_retryable"
	KindProviderPermanent   = "provider_permanent"
	KindDuplicate           = "duplicate"
	KindFlowDecryptFailed   = "flow_decrypt_failed"
	KindFlowTokenInvalid    = "flow_token_invalid"
	KindUnauthorizedWebhook = "unauthorized_webhook"
	KindNotFound            = "not_found"
	KindInternal            = "internal"
)

// AppError represents an application error tagged with a kind
type AppError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// E creates a new AppError
func E(kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// ValidationError creates a validation AppError
func ValidationError(message string) *AppError {
	return E(KindValidation, message, nil)
}

// InternalError wraps err as an internal AppError
func InternalError(message string, err error) *AppError {
	return E(KindInternal, message, err)
}

// KindOf returns the kind of err, defaulting to internal for untagged errors.
func KindOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind string) bool {
	return err != nil && KindOf(err) == kind
}

// WrapError wraps an error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// UserMessage maps an error to the copy sent back over WhatsApp. Internals
// never leak; unknown kinds collapse to a generic apology.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case KindValidation, KindInvalidPhone:
			return appErr.Message
		case KindInsufficientFunds:
			return "Insufficient funds for this transaction."
		case KindDailyLimitExceeded:
			return "This transaction would exceed your daily limit."
		case KindMonthlyLimit:
			return "This transaction would exceed your monthly limit."
		case KindWalletFrozen:
			return "Your wallet is temporarily frozen. Please contact support."
		case KindPINMismatch:
			return "Wrong PIN. Please try again."
		case KindPINLocked:
			return "Your PIN is locked. Try again in 30 minutes."
		case KindProviderRetryable:
			return "We're confirming this transaction; you'll get an update shortly."
		case KindProviderPermanent:
			if appErr.Message != "" {
				return appErr.Message
			}
			return "The transaction could not be completed."
		case KindFlowTokenInvalid:
			return "This session has expired. Please start over."
		}
	}
	return "Something went wrong. Please try again."
}

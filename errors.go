package relay

import (
	"fmt"
)

// RelayError is the typed failure returned by every stage of the relay flow.
// Code identifies the category; the remaining fields carry enough detail for a
// caller to decide whether to retry, re-approve, or abort.
type RelayError struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Selector string                 `json:"selector,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Hint     string                 `json:"hint,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Err      error                  `json:"-"`
}

func (e *RelayError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Reason != "" {
		msg += fmt.Sprintf(" (%s)", e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is matches any RelayError with the same code, so the package sentinels can
// be used with errors.Is.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Fatal reports whether the error ends the current relay request.
func (e *RelayError) Fatal() bool {
	switch e.Code {
	case ErrCodeStaleNonceWarning, ErrCodeDomainMismatchWarning:
		return false
	default:
		return true
	}
}

// ReasonAuthorizationAlreadyUsed is the Reason of a relay that reverted
// because the authorization nonce was already consumed
const ReasonAuthorizationAlreadyUsed = "AuthorizationAlreadyUsed"

// Error codes
const (
	ErrCodeConfiguration                  = "configuration_error"
	ErrCodeInsufficientFundsForApproval   = "insufficient_funds_for_approval"
	ErrCodeApprovalReverted               = "approval_reverted"
	ErrCodeInvalidAuthorizationParameters = "invalid_authorization_parameters"
	ErrCodeInsufficientAllowance          = "insufficient_allowance"
	ErrCodeInsufficientBalance            = "insufficient_balance"
	ErrCodeStaleNonceWarning              = "stale_nonce_warning"
	ErrCodeDomainMismatchWarning          = "domain_mismatch_warning"
	ErrCodeRelayExecutionFailure          = "relay_execution_failure"
	ErrCodeUnknownRelayFailure            = "unknown_relay_failure"
)

// Sentinels for errors.Is
var (
	ErrConfiguration                  = &RelayError{Code: ErrCodeConfiguration}
	ErrInsufficientFundsForApproval   = &RelayError{Code: ErrCodeInsufficientFundsForApproval}
	ErrApprovalReverted               = &RelayError{Code: ErrCodeApprovalReverted}
	ErrInvalidAuthorizationParameters = &RelayError{Code: ErrCodeInvalidAuthorizationParameters}
	ErrInsufficientAllowance          = &RelayError{Code: ErrCodeInsufficientAllowance}
	ErrInsufficientBalance            = &RelayError{Code: ErrCodeInsufficientBalance}
	ErrStaleNonceWarning              = &RelayError{Code: ErrCodeStaleNonceWarning}
	ErrDomainMismatchWarning          = &RelayError{Code: ErrCodeDomainMismatchWarning}
	ErrRelayExecutionFailure          = &RelayError{Code: ErrCodeRelayExecutionFailure}
	ErrUnknownRelayFailure            = &RelayError{Code: ErrCodeUnknownRelayFailure}
)

// NewRelayError creates a new relay error
func NewRelayError(code, message string, details map[string]interface{}) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapRelayError creates a relay error around an underlying cause
func WrapRelayError(code, message string, err error) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError reports a missing or invalid static input
func NewConfigurationError(format string, args ...interface{}) *RelayError {
	return &RelayError{
		Code:    ErrCodeConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

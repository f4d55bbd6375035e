// Package errors provides standardized error handling for the notification engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Input errors: skipped per item, counted, never abort a batch.
	ErrCodeInvalidRecipient ErrorCode = "INVALID_RECIPIENT"
	ErrCodeInvalidTimestamp ErrorCode = "INVALID_TIMESTAMP"

	// Collaborator errors.
	ErrCodeCalendarQueryFailed ErrorCode = "CALENDAR_QUERY_FAILED"
	ErrCodeTransportSendFailed ErrorCode = "TRANSPORT_SEND_FAILED"
	ErrCodeTransportTimeout    ErrorCode = "TRANSPORT_TIMEOUT"

	// Storage errors: halt the current cycle, retried on the next tick.
	ErrCodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeLedgerUnavailable   ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeSettingsUnavailable ErrorCode = "SETTINGS_UNAVAILABLE"

	// Request / state errors.
	ErrCodeUnknownKind       ErrorCode = "UNKNOWN_KIND"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInvalidTransition ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeScheduleInvalid   ErrorCode = "SCHEDULE_INVALID"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// HasCode reports whether err is a StandardError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// NewInvalidRecipientError marks a calendar row with a missing or malformed address.
func NewInvalidRecipientError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRecipient,
		Message:   "Recipient address missing or not normalizable",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTimestampError marks a calendar row whose appointment instant could not be parsed.
func NewInvalidTimestampError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTimestamp,
		Message:   "Appointment timestamp unparseable",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCalendarQueryFailedError creates a retryable calendar source error.
func NewCalendarQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCalendarQueryFailed,
		Message:   "Calendar source query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportSendFailedError records a delivery failure. Never auto-retried
// by the engine; retry policy belongs to the transport adapter.
func NewTransportSendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportSendFailed,
		Message:   "Transport delivery failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportTimeoutError records a delivery timeout, treated as a failure.
func NewTransportTimeoutError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportTimeout,
		Message:   "Transport delivery timed out",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError creates a retryable persistence error.
func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Notification store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerUnavailableError creates a retryable ledger error.
func NewLedgerUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerUnavailable,
		Message:   "Deduplication ledger unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSettingsUnavailableError creates a retryable settings read error.
func NewSettingsUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSettingsUnavailable,
		Message:   "Settings snapshot unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownKindError marks a kind id that does not canonicalize to a catalog entry.
func NewUnknownKindError(kindID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownKind,
		Message:   "Unknown notification kind",
		Details:   fmt.Sprintf("kindId: %s", kindID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError marks a missing record.
func NewNotFoundError(what, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", what),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError marks a disallowed status change.
func NewInvalidTransitionError(id, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Status transition not allowed",
		Details:   fmt.Sprintf("id: %s, %s -> %s", id, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewScheduleInvalidError marks a kind schedule that fails validation.
func NewScheduleInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScheduleInvalid,
		Message:   "Kind schedule invalid",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError marks a request payload that fails schema validation.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Payload validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

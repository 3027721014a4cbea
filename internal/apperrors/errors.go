package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps the given error as a RetryableError, adding a message.
// It uses fmt.Errorf with %w to maintain the error chain.
func NewRetryable(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(format, allArgs...)}
}

// FatalError indicates an error that will never be resolved by retrying.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps the given error as a FatalError, adding a message.
// It uses fmt.Errorf with %w to maintain the error chain.
func NewFatal(err error, message string, args ...interface{}) error {
	format := message + ": %w"
	allArgs := append(args, err)
	return &FatalError{Err: fmt.Errorf(format, allArgs...)}
}

// SkipError marks an expected, non-failure outcome: consent denied, missing
// phone number, event no longer valid. Skips are never retried and never
// alarmed; they surface as a structured result with a reason code.
type SkipError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *SkipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skipped (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("skipped (%s)", e.Reason)
}

// Unwrap returns the wrapped error, if any.
func (e *SkipError) Unwrap() error {
	return e.Err
}

// NewSkip creates a SkipError carrying the given reason code.
func NewSkip(reason string) error {
	return &SkipError{Reason: reason}
}

// --- Standard Error Definitions ---

// These sentinel errors define common application-level error conditions.
// They can be checked using errors.Is and wrapped by RetryableError or
// FatalError depending on where they are handled.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrNATS indicates a general NATS communication error.
	ErrNATS = errors.New("nats communication error")
	// ErrDuplicate indicates a conflict due to duplicate data (e.g., unique constraint).
	ErrDuplicate = errors.New("duplicate resource")
	// ErrConflict indicates a general conflict state.
	ErrConflict = errors.New("resource conflict")
	// ErrBadRequest indicates a malformed or invalid request from the caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timeout")
	// ErrRateLimited indicates an operation was rate limited by a provider.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuietHours indicates an SMS send deferred until the next allowed window.
	ErrQuietHours = errors.New("outside quiet-hours window")
	// ErrInvalidRecipient indicates a malformed or rejected recipient address/number.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrUnknownTemplate indicates a template identifier outside the closed catalog.
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrUnsupportedChannel indicates a channel outside the supported set.
	ErrUnsupportedChannel = errors.New("unsupported channel")
	// ErrProviderRejected indicates content rejected by the provider
	// (bounce, spam or permission-block categories).
	ErrProviderRejected = errors.New("rejected by provider")
	// ErrMissingCredentials indicates absent provider credentials.
	ErrMissingCredentials = errors.New("missing provider credentials")
)

// Skip reason codes surfaced in dispatch results and funnel step records.
const (
	SkipNoConsent    = "no_consent"
	SkipNoPhone      = "no_phone"
	SkipEventInvalid = "event_invalid"
	SkipAlreadySent  = "already_sent"
)

// --- Helper functions for checking ---

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal checks if the error is a FatalError or wraps one.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsSkip checks if the error is a SkipError or wraps one.
func IsSkip(err error) bool {
	var target *SkipError
	return errors.As(err, &target)
}

// SkipReason extracts the reason code from a SkipError, or "" if err is not one.
func SkipReason(err error) string {
	var target *SkipError
	if errors.As(err, &target) {
		return target.Reason
	}
	return ""
}

// --- Specific Standard Error Checkers ---

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDatabaseError checks if the error is or wraps ErrDatabase.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsDuplicateError checks if the error is or wraps ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsRateLimitedError checks if the error is or wraps ErrRateLimited.
func IsRateLimitedError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsQuietHoursError checks if the error is or wraps ErrQuietHours.
func IsQuietHoursError(err error) bool {
	return errors.Is(err, ErrQuietHours)
}

package helpers

import (
	"fmt"
	"time"

	"broker-observer/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type ObserverError struct {
	Message string
	Cause   error
}

func (e *ObserverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// CredentialError: no resolvable token for an account. Fatal to that
// session's request cycle, never to the process.
type CredentialError struct{ ObserverError }

// UpstreamError: broker timeout or non-200. Treated as "no data this cycle".
type UpstreamError struct{ ObserverError }

// MalformedResponseError: broker returned 200 with an unparseable body.
type MalformedResponseError struct{ ObserverError }

// ParseError: an inbound channel/stream message could not be decoded.
type ParseError struct{ ObserverError }

// StoreError: shared store operation failed.
type StoreError struct{ ObserverError }

// -----------------------------------------------------------------------------

func NewCredentialError(msg string, cause error) *CredentialError {
	return &CredentialError{ObserverError{Message: msg, Cause: cause}}
}

func NewUpstreamError(msg string, cause error) *UpstreamError {
	return &UpstreamError{ObserverError{Message: msg, Cause: cause}}
}

func NewMalformedResponseError(msg string, cause error) *MalformedResponseError {
	return &MalformedResponseError{ObserverError{Message: msg, Cause: cause}}
}

func NewParseError(msg string, cause error) *ParseError {
	return &ParseError{ObserverError{Message: msg, Cause: cause}}
}

func NewStoreError(msg string, cause error) *StoreError {
	return &StoreError{ObserverError{Message: msg, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times
// with exponential backoff. Used for startup resource acquisition only; the
// runtime path converts failures to "no contribution this cycle" instead.
func RetryWithBackoff(log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		time.Sleep(delay)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries, lastErr)
}

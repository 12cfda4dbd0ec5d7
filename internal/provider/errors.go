package provider

import (
	"errors"
	"fmt"
	"time"
)

// AuthError reports expired or invalid provider credentials. It is fatal for
// the current sync run; the scheduler does not retry it.
type AuthError struct {
	Provider string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Reason)
}

// TransientError reports a retryable failure (timeout, 5xx, 429). RetryAfter
// is non-zero when the provider asked for a specific delay.
type TransientError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError reports a record that cannot be ingested as-is. The record
// is counted as failed and skipped; the rest of the page proceeds.
type ValidationError struct {
	Provider   string
	ExternalID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: record %s rejected: %s", e.Provider, e.ExternalID, e.Reason)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransient reports whether err is retryable, returning the provider's
// requested delay when it supplied one.
func IsTransient(err error) (time.Duration, bool) {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.RetryAfter, true
	}
	return 0, false
}

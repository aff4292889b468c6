// Package errs defines the failure taxonomy of the entitlement service.
// Every business rejection is one of the sentinel errors below; callers
// match them with errors.Is and must not retry anything except
// ErrStoreUnavailable.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrAlreadySubscribed rejects a trial start for an account whose
	// entitlement has ever left the none status.
	ErrAlreadySubscribed = errors.New("subscription already exists")
	// ErrCodeAlreadyUsed rejects a repeated redemption of the same
	// campaign code by the same user.
	ErrCodeAlreadyUsed = errors.New("campaign code already used")
	// ErrInvalidCode rejects an unknown, inactive or expired campaign code.
	ErrInvalidCode = errors.New("campaign code is invalid or expired")
	// ErrQuotaExhausted rejects a campaign code whose global usage cap
	// has been reached.
	ErrQuotaExhausted = errors.New("campaign code usage limit reached")
	// ErrVerificationFailed rejects a receipt or webhook the billing
	// provider (or local structural validation) refused.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrUnauthorized rejects a request without a valid user session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStoreUnavailable marks a transient storage failure. It is the
	// only error in the taxonomy a caller should retry, with backoff.
	ErrStoreUnavailable = errors.New("storage unavailable")
)

// Retryable reports whether the caller may retry the failed request.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// HTTPStatus maps a taxonomy error to the response status code.
// Unrecognized errors are treated as transient storage failures.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAlreadySubscribed):
		return http.StatusConflict
	case errors.Is(err, ErrCodeAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrQuotaExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrVerificationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// Message returns the taxonomy message of err, stripping operation
// prefixes added by lower layers.
func Message(err error) string {
	for _, sentinel := range []error{
		ErrAlreadySubscribed, ErrCodeAlreadyUsed, ErrInvalidCode,
		ErrQuotaExhausted, ErrVerificationFailed, ErrUnauthorized,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ErrStoreUnavailable.Error()
}

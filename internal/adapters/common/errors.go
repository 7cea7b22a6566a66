package common

import (
	"errors"
	"fmt"
)

// Sentinel errors used to classify failures across the notification
// core. Channel adapters wrap provider failures as transient or
// permanent; the dispatcher and webhook processor add the higher level
// classifications. Callers detect them with errors.Is.
var (
	// ErrTransient marks a provider failure that is worth retrying on
	// the same channel (network error, 5xx, rate limit, timeout).
	ErrTransient = errors.New("transient error")
	// ErrPermanent marks a provider failure that will not succeed on
	// retry (rejected recipient, 4xx other than 429).
	ErrPermanent = errors.New("permanent error")
	// ErrValidation marks input rejected before any transport call was
	// made. Validation failures never consume a retry slot.
	ErrValidation = errors.New("validation error")
	// ErrNoContact is returned when a recipient has no usable channel
	// identifier at all. No delivery attempt is recorded.
	ErrNoContact = errors.New("no contact method")
	// ErrExhausted is returned when every eligible channel was tried
	// and failed.
	ErrExhausted = errors.New("all channels exhausted")
	// ErrUnauthorized marks a webhook request whose signature is
	// absent or does not verify.
	ErrUnauthorized = errors.New("invalid webhook signature")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// WrapValidation annotates an error as a pre-transport validation failure.
func WrapValidation(err error) error {
	if err == nil {
		return ErrValidation
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// Retryable reports whether a same-channel retry may succeed.
// Validation and permanent failures are not retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrPermanent) {
		return false
	}
	return true
}

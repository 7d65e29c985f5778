package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("wallet not initialized")
	ErrInvalidRequest = errors.New("invalid request")
	ErrChainRejected  = errors.New("rejected by chain")
	ErrChainTransient = errors.New("transient chain failure")
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")

	// ErrReceiptPending is returned by ChainClient.Receipt while a
	// transaction has been submitted but not yet included in a block.
	ErrReceiptPending = errors.New("receipt not yet available")
)

// ErrorKind is the stable, machine-readable error classification surfaced to
// callers alongside a human-readable detail string.
type ErrorKind string

const (
	KindNotInitialized ErrorKind = "not_initialized"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindChainRejected  ErrorKind = "chain_rejected"
	KindChainTransient ErrorKind = "chain_transient"
	KindNotFound       ErrorKind = "not_found"
	KindInternal       ErrorKind = "internal"
)

// Kind classifies err into one of the stable error kinds. Unrecognized errors
// map to KindInternal.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrChainRejected):
		return KindChainRejected
	case errors.Is(err, ErrChainTransient):
		return KindChainTransient
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// RejectedError wraps a protocol-level rejection (insufficient balance,
// invalid pair, submission-time revert) with the upstream reason. It is
// terminal: the submitter never retries it.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by chain: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrChainRejected }

// Rejected builds a RejectedError with a formatted reason.
func Rejected(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// TransientError wraps a network or timeout failure talking to the chain.
// The submitter retries these with backoff, preserving the idempotency key.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient chain failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return ErrChainTransient }

// Transient wraps cause as a retryable chain failure.
func Transient(cause error) error {
	return &TransientError{Cause: cause}
}

// Invalid builds an ErrInvalidRequest with a formatted detail. Validation
// errors are resolved locally and never reach the chain.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

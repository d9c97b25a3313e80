// Package apperr provides the closed error-kind taxonomy used across the
// replication engine, replacing duck-typed/ad-hoc errors with a
// pattern-matchable enumeration.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of the ways an operation can fail.
type Kind string

const (
	// ConfigInvalid covers missing/empty credentials and unparseable URLs.
	// Surfaced to the user; the job is refused before it starts.
	ConfigInvalid Kind = "config_invalid"
	// SourceAuthInvalid means the source forge rejected the credential.
	SourceAuthInvalid Kind = "source_auth_invalid"
	// DestinationAuthInvalid means the destination forge rejected the
	// credential, including the uid:0/name:"" regression pattern.
	DestinationAuthInvalid Kind = "destination_auth_invalid"
	// RateLimited is recoverable: the scheduler waits up to the policy
	// maximum, then fails only the affected item.
	RateLimited Kind = "rate_limited"
	// Transient covers 5xx, connection reset, and timeout; retried per the
	// configured RetryPolicy, terminal (item-level failure) after the
	// attempt budget is exhausted.
	Transient Kind = "transient"
	// NotFound is a silent skip on sync when the prior status was failed,
	// otherwise an item-level failure.
	NotFound Kind = "not_found"
	// Conflict (AlreadyExists) is coerced to success for idempotent
	// provisioning operations.
	Conflict Kind = "conflict"
	// Cancelled is a clean wind-down with no state regression.
	Cancelled Kind = "cancelled"
	// Fatal covers programming errors and corrupt payloads. Logged with a
	// stack; the batch continues with an item failure; the process does
	// not exit.
	Fatal Kind = "fatal"
)

// Error is the concrete error type carrying a Kind, the operation that
// failed, and the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for op with the given kind and cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or something it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Fatal when err is not an
// *Error (an unclassified error is always treated as non-retryable).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Fatal
}

// Retryable reports whether kind should trigger a retry under the source/
// destination client retry policy.
func Retryable(kind Kind) bool {
	switch kind {
	case Transient, RateLimited:
		return true
	default:
		return false
	}
}

// Aggregate collects multiple errors from independent operations (e.g. a
// batch of metadata-item failures) into one error via errors.Join. The
// trimmed dependency set has no multierror package; errors.Join is the
// stdlib equivalent and is sufficient for the engine's "log and continue"
// aggregation needs.
type Aggregate struct {
	errs []error
}

// Add appends err to the aggregate if non-nil.
func (a *Aggregate) Add(err error) {
	if err != nil {
		a.errs = append(a.errs, err)
	}
}

// Len reports how many errors have been added.
func (a *Aggregate) Len() int { return len(a.errs) }

// ErrOrNil returns nil if no errors were added, otherwise a joined error.
func (a *Aggregate) ErrOrNil() error {
	if len(a.errs) == 0 {
		return nil
	}
	return errors.Join(a.errs...)
}

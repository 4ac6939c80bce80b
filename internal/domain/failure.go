package domain

import (
	"context"
	"errors"
)

// Failure categories drive the scheduler's retry decision.
type FailureCategory string

const (
	// FailureTransient is retried automatically within the job's retry budget.
	FailureTransient FailureCategory = "transient"
	// FailurePermanent is never retried; surfaced to the operator.
	FailurePermanent FailureCategory = "permanent"
	// FailureSystem is infrastructure-level; retried once after a fixed
	// cooldown without consuming the job's retry budget.
	FailureSystem FailureCategory = "system"
)

// ErrorKind is the closed set of failure variants the classifier understands.
type ErrorKind string

const (
	ErrKindRateLimit     ErrorKind = "rate_limit"
	ErrKindTimeout       ErrorKind = "timeout"
	ErrKindConnection    ErrorKind = "connection"
	ErrKindValidation    ErrorKind = "validation"
	ErrKindUnknownSymbol ErrorKind = "unknown_symbol"
	ErrKindBadParams     ErrorKind = "bad_params"
	ErrKindStoreDown     ErrorKind = "store_unavailable"
	ErrKindCoordinator   ErrorKind = "coordinator"
	ErrKindUnknown       ErrorKind = "unknown"
)

var (
	// ErrJobNotFound is returned when a referenced job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrConstraintViolation is returned when a write would break an
	// integrity rule, e.g. a dependency edge that creates a cycle.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrAssetNotFound is returned when a referenced asset does not exist.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrExecutionFinalized is returned on an attempt to finalize an
	// execution twice.
	ErrExecutionFinalized = errors.New("execution already finalized")
)

// CollectionError is a tagged failure raised anywhere along the collection
// path. The Kind tag, not the message, is what classification keys on.
type CollectionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CollectionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CollectionError) Unwrap() error { return e.Err }

// NewCollectionError builds a tagged failure without a cause.
func NewCollectionError(kind ErrorKind, message string) *CollectionError {
	return &CollectionError{Kind: kind, Message: message}
}

// WrapCollectionError builds a tagged failure around an underlying error.
func WrapCollectionError(kind ErrorKind, message string, err error) *CollectionError {
	return &CollectionError{Kind: kind, Message: message, Err: err}
}

// Classification is the classifier's verdict plus a short operator hint.
type Classification struct {
	Category FailureCategory
	Hint     string
}

// Classify maps a failure to its category. Unknown failures default to
// transient: retrying is safer than silently dropping a run.
func Classify(err error) Classification {
	var ce *CollectionError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case ErrKindRateLimit:
			return Classification{FailureTransient, "provider rate limit hit, will retry with backoff"}
		case ErrKindTimeout:
			return Classification{FailureTransient, "request timed out, will retry with backoff"}
		case ErrKindConnection:
			return Classification{FailureTransient, "connection dropped, will retry with backoff"}
		case ErrKindValidation:
			return Classification{FailurePermanent, "collected data failed validation, check job parameters"}
		case ErrKindUnknownSymbol:
			return Classification{FailurePermanent, "provider does not recognize the symbol"}
		case ErrKindBadParams:
			return Classification{FailurePermanent, "malformed collection parameters"}
		case ErrKindStoreDown:
			return Classification{FailureSystem, "data store unavailable, one cooldown retry"}
		case ErrKindCoordinator:
			return Classification{FailureSystem, "request coordinator unavailable, one cooldown retry"}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{FailureTransient, "deadline exceeded, will retry with backoff"}
	}
	return Classification{FailureTransient, "unclassified failure, retrying"}
}

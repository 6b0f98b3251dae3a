package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of failure classes the core surfaces.
// Callers branch on kind, never on message text.
type ErrorKind string

const (
	KindInvalidPeriod       ErrorKind = "INVALID_PERIOD"
	KindPeriodTooGranular   ErrorKind = "PERIOD_TOO_GRANULAR"
	KindInvalidFilter       ErrorKind = "INVALID_FILTER"
	KindInvalidScheduleSpec ErrorKind = "INVALID_SCHEDULE_SPEC"
	KindInsufficientData    ErrorKind = "INSUFFICIENT_DATA"
	KindStoreUnavailable    ErrorKind = "STORE_UNAVAILABLE"
	KindCacheUnavailable    ErrorKind = "CACHE_UNAVAILABLE"
	KindInProgressElsewhere ErrorKind = "IN_PROGRESS_ELSEWHERE"
	KindCancelled           ErrorKind = "CANCELLED"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindNameConflict        ErrorKind = "NAME_CONFLICT"
	KindInUse               ErrorKind = "IN_USE"
	KindNotCancellable      ErrorKind = "NOT_CANCELLABLE"
	KindNotOwner            ErrorKind = "NOT_OWNER"
	KindInternal            ErrorKind = "INTERNAL"
)

// Error carries a kind plus context. It wraps an underlying cause when one
// exists so errors.Is/As keep working through the taxonomy.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so sentinel comparisons like
// errors.Is(err, domain.E(domain.KindNotFound, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E builds a taxonomy error.
func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Ef builds a taxonomy error with a formatted message.
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the taxonomy kind from err, or KindInternal when err is
// not a taxonomy error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether err is worth retrying with backoff. Only
// collaborator outages qualify; user input and computation errors are final.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindStoreUnavailable, KindCacheUnavailable:
		return true
	}
	return false
}

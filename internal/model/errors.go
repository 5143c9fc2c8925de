package model

import "fmt"

// Kind classifies a domain error for the InvestigationConsumer's retry and
// dead-letter policy.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindBusinessLogic       Kind = "BUSINESS_LOGIC"
	KindOperationNotAllowed Kind = "OPERATION_NOT_ALLOWED"
	KindTransient           Kind = "TRANSIENT"
	KindFatal               Kind = "FATAL"
)

// DomainError is a structured error carrying the taxonomy kind so callers
// (InvestigationConsumer, HTTP handlers) can decide whether to retry,
// dead-letter, or surface it directly.
type DomainError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Retryable reports whether the InvestigationConsumer should nack-and-requeue
// this error rather than dead-lettering it.
func (e *DomainError) Retryable() bool { return e.Kind == KindTransient }

func NewNotFound(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewBusinessLogic(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindBusinessLogic, Message: fmt.Sprintf(format, args...)}
}

func NewOperationNotAllowed(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindOperationNotAllowed, Message: fmt.Sprintf(format, args...)}
}

func NewTransient(cause error, format string, args ...any) *DomainError {
	return &DomainError{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NewFatal(cause error, format string, args ...any) *DomainError {
	return &DomainError{Kind: KindFatal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *DomainError,
// defaulting to KindFatal for unrecognized errors — unknown failure shapes
// must not be silently retried forever.
func KindOf(err error) Kind {
	var de *DomainError
	if ok := asDomainError(err, &de); ok {
		return de.Kind
	}
	return KindFatal
}

func asDomainError(err error, target **DomainError) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

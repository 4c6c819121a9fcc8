package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every DomainError wraps exactly one of these so transports can
// map failures to status codes with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream failure")
)

// DomainError is a typed failure returned by domain and application code.
type DomainError struct {
	Err     error
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the error kind.
func (e *DomainError) Unwrap() error { return e.Err }

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %s not found", entity, id),
	}
}

// NewConflictError reports a state conflict the caller must not retry blindly.
func NewConflictError(code, message string) *DomainError {
	return &DomainError{Err: ErrConflict, Code: code, Message: message}
}

// NewValidationError reports bad input the caller has to correct.
func NewValidationError(code, message string) *DomainError {
	return &DomainError{Err: ErrValidation, Code: code, Message: message}
}

// NewForbiddenError reports a failed role or ownership check.
func NewForbiddenError(message string) *DomainError {
	return &DomainError{Err: ErrForbidden, Code: "FORBIDDEN", Message: message}
}

// NewUnauthorizedError reports a missing or invalid credential.
func NewUnauthorizedError(message string) *DomainError {
	return &DomainError{Err: ErrUnauthorized, Code: "UNAUTHORIZED", Message: message}
}

// NewUpstreamError wraps a failure of an external collaborator. Callers may
// retry these with backoff.
func NewUpstreamError(op string, cause error) *DomainError {
	return &DomainError{
		Err:     ErrUpstream,
		Code:    "UPSTREAM_FAILURE",
		Message: fmt.Sprintf("%s: %v", op, cause),
	}
}

// NewInvalidStateError reports a forbidden state transition.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    "INVALID_STATE",
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err, kind error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	return errors.Is(de.Err, kind)
}

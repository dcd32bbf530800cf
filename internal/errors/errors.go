// Package errors provides the error taxonomy shared by the decision core and
// its callers. Route handlers translate these kinds into transport responses;
// the core never does.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per kind. Typed errors below unwrap to these so callers
// can classify with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrPolicyBlocked = errors.New("blocked by policy")
	ErrNotFound      = errors.New("resource not found")
	ErrConflict      = errors.New("conflicting state")
	ErrTransport     = errors.New("transport failure")
)

// ValidationError is malformed or missing input to a core operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation creates a ValidationError for the given field.
func Validation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PolicyError is a structurally valid request that business policy forbids.
// AuditID references the policy audit entry written for the block, and
// EscalationID the auto-escalation raised with it, if any.
type PolicyError struct {
	Reason       string
	AuditID      string
	EscalationID string
}

func (e *PolicyError) Error() string { return e.Reason }

func (e *PolicyError) Unwrap() error { return ErrPolicyBlocked }

// NotFoundError reports a missing project, approval, escalation or trigger.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound creates a NotFoundError.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports an operation against state that has already moved on,
// e.g. resolving an escalation that is no longer OPEN.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Conflict creates a ConflictError.
func Conflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// TransportError is a failed outbound call to an agent webhook.
type TransportError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transport error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s transport error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransport, e.Err}
	}
	return []error{ErrTransport}
}

// Kind names the taxonomy bucket of err: "validation", "policy_blocked",
// "not_found", "conflict", "transport" or "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPolicyBlocked):
		return "policy_blocked"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}

// Reason returns the human-readable message of a taxonomy error, or the
// plain error text otherwise.
func Reason(err error) string {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

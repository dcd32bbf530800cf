package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportError_Error(t *testing.T) {
	err := &TransportError{Service: "qualifier", StatusCode: 503, Message: "unavailable"}
	assert.Contains(t, err.Error(), "qualifier")
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "unavailable")
}

func TestTransportError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{Service: "proposal", Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKind(t *testing.T) {
	assert.Equal(t, "validation", Kind(Validation("notes", "notes required")))
	assert.Equal(t, "policy_blocked", Kind(&PolicyError{Reason: "no"}))
	assert.Equal(t, "not_found", Kind(NotFound("project", "p1")))
	assert.Equal(t, "conflict", Kind(Conflict("already closed")))
	assert.Equal(t, "transport", Kind(&TransportError{Service: "x"}))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
	assert.Equal(t, "", Kind(nil))
}

func TestKind_Wrapped(t *testing.T) {
	err := fmt.Errorf("deciding approval: %w", &PolicyError{Reason: "already resolved"})
	assert.Equal(t, "policy_blocked", Kind(err))
	assert.Equal(t, "already resolved", Reason(err))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Decision notes are required", Reason(Validation("notes", "Decision notes are required")))
	assert.Equal(t, "escalation closed", Reason(Conflict("escalation closed")))
	assert.Equal(t, `project "p1" not found`, Reason(NotFound("project", "p1")))
	assert.Equal(t, "", Reason(nil))
}

// Package event is the in-process fan-out of domain events to dashboard
// subscribers. Events are a prompt to refresh, never a source of truth:
// delivery is best effort, with no queueing, replay or persistence.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the closed vocabulary of event types the core emits. Consumers at
// the external boundary must ignore types they do not know.
type Type string

const (
	ProjectUpdated        Type = "project.updated"
	ProjectCreated        Type = "project.created"
	EscalationCreated     Type = "escalation.created"
	EscalationResolved    Type = "escalation.resolved"
	ApprovalPolicyBlocked Type = "approval.policy_blocked"
	ApprovalUpdated       Type = "approval.updated"
	NewApproval           Type = "new_approval"
	AgentTriggered        Type = "agent.triggered"
	AgentEvent            Type = "agent.event"
	SOPUpdated            Type = "sop.updated"
	UserCreated           Type = "user.created"
	UserUpdated           Type = "user.updated"
)

var known = map[Type]bool{
	ProjectUpdated:        true,
	ProjectCreated:        true,
	EscalationCreated:     true,
	EscalationResolved:    true,
	ApprovalPolicyBlocked: true,
	ApprovalUpdated:       true,
	NewApproval:           true,
	AgentTriggered:        true,
	AgentEvent:            true,
	SOPUpdated:            true,
	UserCreated:           true,
	UserUpdated:           true,
}

// Known reports whether t is part of the vocabulary.
func (t Type) Known() bool { return known[t] }

// Event is one notification. Data is the JSON-encoded payload.
type Event struct {
	ID   string          `json:"id"`
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`
}

// New builds an event with a fresh ID and timestamp.
func New(t Type, data interface{}) (Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("encoding %s payload: %w", t, err)
		}
		raw = b
	}
	return Event{
		ID:   uuid.New().String(),
		Type: t,
		Data: raw,
		At:   time.Now().UTC(),
	}, nil
}

// Must is New for payloads that always encode (domain structs and maps of
// plain values).
func Must(t Type, data interface{}) Event {
	ev, err := New(t, data)
	if err != nil {
		panic(err)
	}
	return ev
}

// Publisher is anything that accepts events for fan-out.
type Publisher interface {
	Publish(ev Event)
}

// PublishAll publishes events in order.
func PublishAll(p Publisher, events []Event) {
	for _, ev := range events {
		p.Publish(ev)
	}
}

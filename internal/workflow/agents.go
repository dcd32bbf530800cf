package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/store"
)

// TriggerRequest asks for an agent to be started on a project.
type TriggerRequest struct {
	ProjectID string                 `json:"project_id"`
	AgentKey  string                 `json:"agent_key"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
	Actor     string                 `json:"-"`
}

// TriggerAgent records a pending trigger, calls the agent's webhook outside
// any transaction and records the outcome. A failed call still returns the
// recorded trigger, together with the *errors.TransportError.
func (s *Service) TriggerAgent(ctx context.Context, req TriggerRequest) (*models.Trigger, error) {
	key := strings.TrimSpace(req.AgentKey)
	if key == "" {
		return nil, operrors.Validation("agent_key", "An agent key is required")
	}
	if s.agents == nil || !s.agents.Configured(key) {
		return nil, operrors.Validation("agent_key", "No webhook configured for agent %q", key)
	}

	var (
		tr      *models.Trigger
		project *models.Project
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetProject(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		project = p
		payload, err := triggerPayload(p, req.Extra)
		if err != nil {
			return err
		}
		tr = &models.Trigger{
			ProjectID: p.ID,
			AgentKey:  key,
			Payload:   payload,
			CreatedBy: req.Actor,
			CreatedAt: s.clock(),
		}
		return tx.InsertTrigger(ctx, tr)
	})
	if err != nil {
		s.recordError("trigger", err)
		return nil, err
	}

	delivery, fireErr := s.agents.Fire(ctx, key, tr.Payload)
	if fireErr != nil {
		tr.Status = models.TriggerFailed
		tr.Error = fireErr.Error()
		var te *operrors.TransportError
		if errors.As(fireErr, &te) {
			tr.HTTPStatus = te.StatusCode
		}
		s.recordError("trigger", fireErr)
	} else {
		tr.Status = models.TriggerSent
		tr.HTTPStatus = delivery.StatusCode
	}

	body := fmt.Sprintf("Triggered agent %s: %s", key, tr.Status)
	if tr.HTTPStatus != 0 {
		body += fmt.Sprintf(" (HTTP %d)", tr.HTTPStatus)
	}
	// The outcome is recorded even if the caller has gone away.
	rctx := context.WithoutCancel(ctx)
	err = s.store.InTx(rctx, func(tx *store.Tx) error {
		if err := tx.FinishTrigger(rctx, tr); err != nil {
			return err
		}
		return tx.InsertNote(rctx, &models.ProjectNote{
			ProjectID: project.ID,
			Type:      models.NoteAgentTrigger,
			Body:      body,
			Author:    req.Actor,
			CreatedAt: s.clock(),
		})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("trigger_id", tr.ID).Msg("failed to record trigger outcome")
		return nil, err
	}

	s.publish([]event.Event{event.Must(event.AgentTriggered, tr)})
	if s.metrics != nil {
		s.metrics.RecordTrigger(key, string(tr.Status))
	}
	s.logger.Info().
		Str("trigger_id", tr.ID).
		Str("project_id", project.ID).
		Str("agent", key).
		Str("status", string(tr.Status)).
		Msg("agent trigger recorded")

	if fireErr != nil {
		return tr, fireErr
	}
	return tr, nil
}

// triggerPayload merges caller extras under the project's identifying
// fields. The project fields win on collision.
func triggerPayload(p *models.Project, extra map[string]interface{}) (json.RawMessage, error) {
	body := make(map[string]interface{}, len(extra)+5)
	for k, v := range extra {
		body[k] = v
	}
	body["project_id"] = p.ID
	body["client_email"] = p.ClientEmail
	body["client_name"] = p.ClientName
	body["tier"] = p.Tier
	body["stage"] = p.Stage

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, operrors.Validation("extra", "Trigger fields are not serializable: %v", err)
	}
	return raw, nil
}

// AgentEventData is the payload of agent.event events.
type AgentEventData struct {
	AgentKey string          `json:"agent_key"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// RecordAgentEvent relays a progress event reported by an agent to
// subscribers. Nothing is persisted.
func (s *Service) RecordAgentEvent(ctx context.Context, agentKey string, payload json.RawMessage) error {
	agentKey = strings.TrimSpace(agentKey)
	if agentKey == "" {
		return operrors.Validation("agent_key", "An agent key is required")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return operrors.Validation("payload", "Agent event payload must be JSON")
	}
	ev, err := event.New(event.AgentEvent, AgentEventData{AgentKey: agentKey, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding agent event: %w", err)
	}
	s.publish([]event.Event{ev})
	s.logger.Debug().Str("agent", agentKey).Msg("agent event relayed")
	return nil
}

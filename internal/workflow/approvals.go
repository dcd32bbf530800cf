package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/policy"
	"github.com/p-blackswan/opsdesk/internal/store"
)

// DecisionOutcome is the result of an allowed approval decision.
type DecisionOutcome struct {
	Approval   *models.Approval        `json:"approval"`
	Escalation *models.Escalation      `json:"escalation,omitempty"`
	Audit      *models.PolicyAuditEntry `json:"audit,omitempty"`
}

// PolicyBlockedData is the payload of approval.policy_blocked events.
type PolicyBlockedData struct {
	ApprovalID   string `json:"approval_id"`
	Reason       string `json:"reason"`
	AuditID      string `json:"audit_id"`
	EscalationID string `json:"escalation_id,omitempty"`
}

// DecideApproval applies a reviewer's decision under policy. A blocked
// decision commits its audit entry (and any auto-escalation) and returns a
// *errors.PolicyError; the approval itself is untouched.
func (s *Service) DecideApproval(ctx context.Context, id string, action policy.Action) (*DecisionOutcome, error) {
	if strings.TrimSpace(action.Reviewer) == "" {
		return nil, operrors.Validation("reviewer", "A reviewer identity is required to decide an approval")
	}
	if err := policy.ValidateAction(action); err != nil {
		return nil, err
	}

	var (
		out     *DecisionOutcome
		blocked *operrors.PolicyError
		opened  *escalation.Outcome
		events  []event.Event
	)

	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		out, blocked, opened, events = nil, nil, nil, nil

		a, err := tx.GetApproval(ctx, id)
		if err != nil {
			return err
		}

		res, err := s.engine.Evaluate(ctx, tx, a, action)
		if err != nil {
			return fmt.Errorf("evaluating policy: %w", err)
		}

		if res.AutoEscalation != nil {
			project, err := projectForClient(ctx, tx, a.ClientEmail)
			if err != nil {
				return err
			}
			opened, err = s.cascade.Open(ctx, tx, escalation.Input{
				ProjectID:   projectID(project),
				Level:       res.AutoEscalation.Level,
				Category:    res.AutoEscalation.Category,
				Title:       res.AutoEscalation.Title,
				Description: res.AutoEscalation.Description,
				CreatedBy:   "policy",
			})
			if err != nil {
				return fmt.Errorf("opening auto-escalation: %w", err)
			}
			events = append(events, opened.Events...)
		}

		if !res.Allowed {
			entry := &models.PolicyAuditEntry{
				ApprovalID: a.ID,
				Action:     models.PolicyBlocked,
				Reason:     res.Reason,
				CreatedAt:  s.clock(),
			}
			if opened != nil {
				entry.EscalationID = opened.Escalation.ID
			}
			if err := tx.InsertAudit(ctx, entry); err != nil {
				return err
			}
			blocked = &operrors.PolicyError{Reason: res.Reason, AuditID: entry.ID, EscalationID: entry.EscalationID}
			events = append(events, event.Must(event.ApprovalPolicyBlocked, PolicyBlockedData{
				ApprovalID:   a.ID,
				Reason:       res.Reason,
				AuditID:      entry.ID,
				EscalationID: entry.EscalationID,
			}))
			return nil
		}

		out = &DecisionOutcome{}
		if opened != nil {
			entry := &models.PolicyAuditEntry{
				ApprovalID:   a.ID,
				EscalationID: opened.Escalation.ID,
				Action:       models.PolicyAutoEscalated,
				Reason:       res.Reason,
				CreatedAt:    s.clock(),
			}
			if err := tx.InsertAudit(ctx, entry); err != nil {
				return err
			}
			out.Escalation = opened.Escalation
			out.Audit = entry
		}

		now := s.clock()
		a.Status = action.Status
		a.ReviewedBy = action.Reviewer
		a.ReviewedAt = &now
		a.AdminComments = strings.TrimSpace(action.Comments)
		if action.Status == models.ApprovalEdited {
			a.EditedResponse = action.EditedResponse
		}
		ok, err := tx.ResolveApproval(ctx, a)
		if err != nil {
			return err
		}
		if !ok {
			return operrors.Conflict("Approval %s was decided concurrently", a.ID)
		}
		out.Approval = a
		events = append(events, event.Must(event.ApprovalUpdated, a))
		return nil
	})
	if err != nil {
		s.recordError("approvals", err)
		return nil, err
	}

	s.publish(events)
	if opened != nil {
		s.notify(ctx, []*escalation.Outcome{opened})
	}

	result := "allowed"
	switch {
	case blocked != nil:
		result = "blocked"
	case opened != nil:
		result = "escalated"
	}
	if s.metrics != nil {
		s.metrics.RecordPolicy(string(action.Status), result)
	}

	if blocked != nil {
		return nil, blocked
	}
	return out, nil
}

// AgentDelivery is what the inbound agent webhook hands over.
type AgentDelivery struct {
	ClientEmail    string                `json:"client_email"`
	ClientName     string                `json:"client_name,omitempty"`
	AgentKey       string                `json:"agent_key"`
	StageName      string                `json:"stage_name,omitempty"`
	CheckpointType models.CheckpointType `json:"checkpoint_type"`
	RawPayload     json.RawMessage       `json:"raw_payload,omitempty"`
	AgentResponse  json.RawMessage       `json:"agent_response"`
	TierHint       string                `json:"tier_hint,omitempty"`
	NextStage      models.Stage          `json:"next_stage,omitempty"`
}

// NewApprovalData is the payload of new_approval events.
type NewApprovalData struct {
	Approval  *models.Approval `json:"approval"`
	ProjectID string           `json:"project_id,omitempty"`
	TierHint  models.Tier      `json:"tier_hint,omitempty"`
}

// IngestAgentOutput records an agent's output as a pending approval. When the
// client already has a project and the delivery names the client, the
// project's name is refreshed; stage is never touched.
func (s *Service) IngestAgentOutput(ctx context.Context, d AgentDelivery) (*models.Approval, error) {
	if !strings.Contains(d.ClientEmail, "@") {
		return nil, operrors.Validation("client_email", "A valid client email is required")
	}
	if strings.TrimSpace(d.AgentKey) == "" {
		return nil, operrors.Validation("agent_key", "The originating agent key is required")
	}
	if !d.CheckpointType.Valid() {
		return nil, operrors.Validation("checkpoint_type", "Unknown checkpoint type %q", d.CheckpointType)
	}
	if len(d.AgentResponse) == 0 {
		return nil, operrors.Validation("agent_response", "The agent response is required")
	}
	if d.NextStage != "" && !d.NextStage.Valid() {
		return nil, operrors.Validation("next_stage", "Unknown stage %q", d.NextStage)
	}
	var tier models.Tier
	if d.TierHint != "" {
		t, ok := models.ParseTier(d.TierHint)
		if !ok {
			return nil, operrors.Validation("tier_hint", "Unknown tier %q", d.TierHint)
		}
		tier = t
	}

	var (
		approval *models.Approval
		events   []event.Event
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		events = nil
		approval = &models.Approval{
			ClientEmail:    d.ClientEmail,
			AgentKey:       strings.TrimSpace(d.AgentKey),
			StageName:      d.StageName,
			CheckpointType: d.CheckpointType,
			Input:          d.RawPayload,
			Output:         d.AgentResponse,
			Status:         models.ApprovalPending,
			NextStage:      d.NextStage,
			TierHint:       tier,
			CreatedAt:      s.clock(),
		}
		if err := tx.InsertApproval(ctx, approval); err != nil {
			return err
		}

		project, err := projectForClient(ctx, tx, d.ClientEmail)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(d.ClientName)
		if project != nil && name != "" && name != project.ClientName {
			project.ClientName = name
			if err := tx.UpdateProject(ctx, project); err != nil {
				return err
			}
			events = append(events, event.Must(event.ProjectUpdated, escalation.ProjectUpdate{Project: project, Reason: "Client name refreshed from agent delivery"}))
		}

		events = append(events, event.Must(event.NewApproval, NewApprovalData{
			Approval:  approval,
			ProjectID: projectID(project),
			TierHint:  tier,
		}))
		return nil
	})
	if err != nil {
		s.recordError("approvals", err)
		return nil, err
	}

	s.publish(events)
	s.logger.Info().
		Str("approval_id", approval.ID).
		Str("agent", approval.AgentKey).
		Str("checkpoint", string(approval.CheckpointType)).
		Msg("agent output received")
	return approval, nil
}

// MarkSent records that an approved or edited output was delivered to the
// client. Marking twice is a no-op.
func (s *Service) MarkSent(ctx context.Context, approvalID string) (*models.Approval, error) {
	var (
		approval *models.Approval
		changed  bool
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		a, err := tx.GetApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		if a.Status != models.ApprovalApproved && a.Status != models.ApprovalEdited {
			return operrors.Validation("status", "Only approved or edited approvals can be marked sent (status: %s)", a.Status)
		}
		approval = a
		if a.SentAt != nil {
			return nil
		}
		now := s.clock()
		changed, err = tx.MarkApprovalSent(ctx, a.ID, now)
		if err != nil {
			return err
		}
		if changed {
			a.SentAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish([]event.Event{event.Must(event.ApprovalUpdated, approval)})
	}
	return approval, nil
}

// AuthorizeRequest creates a project from an approval whose client has none.
type AuthorizeRequest struct {
	ApprovalID string
	ClientName string
	Tier       models.Tier
	Actor      string
}

// AuthorizeProject creates the project for an orphaned approval's client.
// The tier comes from the request, else the hint stored at ingest, else a
// tier_hint in the approval's input, else tier 1.
func (s *Service) AuthorizeProject(ctx context.Context, req AuthorizeRequest) (*models.Project, error) {
	if req.Tier != "" && !req.Tier.Valid() {
		return nil, operrors.Validation("tier", "Unknown tier %q", req.Tier)
	}

	var project *models.Project
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		a, err := tx.GetApproval(ctx, req.ApprovalID)
		if err != nil {
			return err
		}
		existing, err := projectForClient(ctx, tx, a.ClientEmail)
		if err != nil {
			return err
		}
		if existing != nil {
			return operrors.Conflict("A project already exists for %s", a.ClientEmail)
		}

		tier := req.Tier
		if tier == "" {
			tier = a.TierHint
		}
		if tier == "" {
			tier = tierHintFrom(a.Input)
		}
		name := strings.TrimSpace(req.ClientName)
		if name == "" {
			name = a.ClientEmail
		}

		project = &models.Project{
			ClientEmail: a.ClientEmail,
			ClientName:  name,
			Tier:        tier,
			Stage:       models.StageLead,
			Status:      models.ProjectActive,
			CreatedAt:   s.clock(),
		}
		if err := tx.InsertProject(ctx, project); err != nil {
			return err
		}
		return tx.InsertNote(ctx, &models.ProjectNote{
			ProjectID: project.ID,
			Type:      models.NoteStatusChange,
			Body:      fmt.Sprintf("Project authorized from approval %s (%s)", a.ID, a.CheckpointType),
			Author:    req.Actor,
			CreatedAt: project.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish([]event.Event{event.Must(event.ProjectCreated, project)})
	s.logger.Info().Str("project_id", project.ID).Str("approval_id", req.ApprovalID).Msg("project authorized")
	return project, nil
}

func tierHintFrom(input json.RawMessage) models.Tier {
	var hint struct {
		TierHint string `json:"tier_hint"`
		Tier     string `json:"tier"`
	}
	if len(input) > 0 && json.Unmarshal(input, &hint) == nil {
		for _, raw := range []string{hint.TierHint, hint.Tier} {
			if t, ok := models.ParseTier(raw); ok {
				return t
			}
		}
	}
	return models.Tier1
}

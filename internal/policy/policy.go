// Package policy enforces business rules on approval decisions before they are
// applied. An evaluation either blocks the decision with a reason, or allows
// it, optionally asking the caller to open an escalation for a risk signal
// that must not pass silently.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/models"
)

// History answers questions about past decisions.
type History interface {
	// CountRejections returns how many approvals for the client and checkpoint
	// type ended rejected.
	CountRejections(ctx context.Context, clientEmail string, checkpoint models.CheckpointType) (int, error)
}

// Action is the decision a reviewer wants to apply.
type Action struct {
	Status         models.ApprovalStatus
	Comments       string
	EditedResponse []byte
	Reviewer       string
}

// ValidateAction rejects a decision whose status is not one a reviewer can
// apply. It is an input error, not a policy block, so nothing is audited.
func ValidateAction(action Action) error {
	switch action.Status {
	case models.ApprovalApproved, models.ApprovalRejected, models.ApprovalEdited:
		return nil
	}
	return operrors.Validation("status", "Decision status %q is not one of approved, rejected, edited", action.Status)
}

// AutoEscalation is an escalation the caller must persist.
type AutoEscalation struct {
	Level       models.EscalationLevel
	Category    models.EscalationCategory
	Title       string
	Description string
}

// Result is the outcome of an evaluation. AutoEscalation may be set whether or
// not the decision is allowed.
type Result struct {
	Allowed        bool
	Reason         string
	AutoEscalation *AutoEscalation
}

// Engine evaluates approval decisions.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates an engine with the given configuration.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "policy").Logger(),
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate checks action against the approval's current state.
func (e *Engine) Evaluate(ctx context.Context, history History, a *models.Approval, action Action) (Result, error) {
	res, err := e.evaluate(ctx, history, a, action)
	if err != nil {
		return Result{}, err
	}

	ev := e.logger.Info()
	if !res.Allowed {
		ev = e.logger.Warn()
	}
	ev.Str("approval_id", a.ID).
		Str("checkpoint", string(a.CheckpointType)).
		Str("requested", string(action.Status)).
		Bool("allowed", res.Allowed).
		Bool("auto_escalation", res.AutoEscalation != nil).
		Str("reason", res.Reason).
		Msg("policy decision")
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, history History, a *models.Approval, action Action) (Result, error) {
	if a.Status.IsTerminal() {
		return Result{Reason: fmt.Sprintf("Approval is already resolved (status: %s)", a.Status)}, nil
	}

	if err := ValidateAction(action); err != nil {
		return Result{}, err
	}

	if action.Status == models.ApprovalEdited && len(strings.TrimSpace(string(action.EditedResponse))) == 0 {
		return Result{Reason: "An edited decision requires the edited response"}, nil
	}

	if action.Status == models.ApprovalRejected &&
		strings.TrimSpace(action.Comments) == "" &&
		e.cfg.requiresRationale(a.CheckpointType) {
		return Result{
			Reason: fmt.Sprintf("Rejection rationale is mandatory for client-facing %s outputs; add comments explaining the rejection", a.CheckpointType),
			AutoEscalation: &AutoEscalation{
				Level:    e.cfg.RationaleEscalationLevel,
				Category: models.CategoryScope,
				Title:    fmt.Sprintf("Rejection without rationale attempted on %s", a.CheckpointType),
				Description: fmt.Sprintf("%s tried to reject %s output from agent %q for %s without comments. The rejection was blocked.",
					reviewerOrUnknown(action.Reviewer), a.CheckpointType, a.AgentKey, a.ClientEmail),
			},
		}, nil
	}

	if action.Status == models.ApprovalApproved && history != nil {
		n, err := history.CountRejections(ctx, a.ClientEmail, a.CheckpointType)
		if err != nil {
			return Result{}, fmt.Errorf("counting prior rejections: %w", err)
		}
		if n >= e.cfg.RepeatRejectionThreshold {
			return Result{
				Allowed: true,
				Reason:  fmt.Sprintf("Approved after %d prior rejections of %s for this client", n, a.CheckpointType),
				AutoEscalation: &AutoEscalation{
					Level:    e.cfg.RepeatEscalationLevel,
					Category: models.CategoryRelationship,
					Title:    fmt.Sprintf("Repeated rejection-then-approval on %s for %s", a.CheckpointType, a.ClientEmail),
					Description: fmt.Sprintf("%s approved %s output from agent %q after %d earlier rejections for the same client. Agent output quality may be degrading.",
						reviewerOrUnknown(action.Reviewer), a.CheckpointType, a.AgentKey, n),
				},
			}, nil
		}
	}

	return Result{Allowed: true}, nil
}

func reviewerOrUnknown(r string) string {
	if strings.TrimSpace(r) == "" {
		return "A reviewer"
	}
	return r
}

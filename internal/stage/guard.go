// Package stage guards pipeline stage transitions. It is a pure function of
// (current, requested, override, rationale) and holds no state.
package stage

import (
	"fmt"
	"strings"

	"github.com/p-blackswan/opsdesk/internal/models"
)

// Verdict is the outcome of a transition check.
type Verdict string

const (
	// NoOp means the project is already at the requested stage.
	NoOp Verdict = "noop"

	// Allowed means the move may proceed with no side effects beyond the
	// stage change itself.
	Allowed Verdict = "allowed"

	// Blocked means the move needs an explicit override.
	Blocked Verdict = "blocked"

	// AllowedWithEscalation means an overridden forward skip: the move
	// proceeds and the caller must open the escalation in Decision.Escalation.
	AllowedWithEscalation Verdict = "allowed_with_escalation"

	// RejectedCheckpoint means a mandatory human checkpoint was not
	// satisfied. Override does not help.
	RejectedCheckpoint Verdict = "rejected_checkpoint"
)

// Request describes a requested stage change.
type Request struct {
	From      models.Stage
	To        models.Stage
	Override  bool
	Rationale string
}

// Escalation describes the escalation a forced skip must produce.
type Escalation struct {
	Level       models.EscalationLevel
	Category    models.EscalationCategory
	Title       string
	Description string
}

// Decision is the guard's answer.
type Decision struct {
	Verdict    Verdict
	Reason     string
	Skipped    []models.Stage
	Escalation *Escalation
}

// Proceeds reports whether the stage may be written.
func (d Decision) Proceeds() bool {
	return d.Verdict == Allowed || d.Verdict == AllowedWithEscalation
}

// Check evaluates a transition request.
func Check(r Request) Decision {
	if !r.From.Valid() {
		return Decision{Verdict: Blocked, Reason: fmt.Sprintf("Unknown current stage %q", r.From)}
	}
	if !r.To.Valid() {
		return Decision{Verdict: Blocked, Reason: fmt.Sprintf("Unknown target stage %q", r.To)}
	}
	if r.From == r.To {
		return Decision{Verdict: NoOp, Reason: fmt.Sprintf("Project is already at %s", r.To)}
	}

	// Fit decision is a mandatory human checkpoint, not a skip.
	if r.From == models.StageFitDecision && r.To == models.StageProposal && strings.TrimSpace(r.Rationale) == "" {
		return Decision{
			Verdict: RejectedCheckpoint,
			Reason:  "A fit decision rationale is required to move from FIT_DECISION to PROPOSAL",
		}
	}

	if next, ok := r.From.Next(); ok && next == r.To {
		return Decision{Verdict: Allowed, Reason: fmt.Sprintf("%s follows %s", r.To, r.From)}
	}

	if r.To.Index() > r.From.Index() {
		skipped := models.Between(r.From, r.To)
		if !r.Override {
			return Decision{
				Verdict: Blocked,
				Reason: fmt.Sprintf("Moving from %s to %s skips %s; an explicit override is required",
					r.From, r.To, joinStages(skipped)),
				Skipped: skipped,
			}
		}
		return Decision{
			Verdict: AllowedWithEscalation,
			Reason:  fmt.Sprintf("Override accepted: %s to %s skips %s", r.From, r.To, joinStages(skipped)),
			Skipped: skipped,
			Escalation: &Escalation{
				Level:    models.LevelL2,
				Category: models.CategoryScope,
				Title:    fmt.Sprintf("Stage skip: %s → %s", r.From, r.To),
				Description: fmt.Sprintf("Project was moved from %s to %s by override, skipping %s.",
					r.From, r.To, joinStages(skipped)),
			},
		}
	}

	// Backward move.
	if !r.Override {
		return Decision{
			Verdict: Blocked,
			Reason:  fmt.Sprintf("Moving back from %s to %s is a regression; an explicit override is required", r.From, r.To),
		}
	}
	return Decision{
		Verdict: Allowed,
		Reason:  fmt.Sprintf("Override accepted: regression from %s to %s", r.From, r.To),
	}
}

func joinStages(stages []models.Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

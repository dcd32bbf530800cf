package models

import "strings"

// Tier is the service level assigned to a project, independent of stage.
type Tier string

const (
	Tier1 Tier = "tier_1"
	Tier2 Tier = "tier_2"
	Tier3 Tier = "tier_3"
)

func (t Tier) Valid() bool {
	switch t {
	case Tier1, Tier2, Tier3:
		return true
	}
	return false
}

// ParseTier accepts "tier_2", "TIER-2", "2" and similar hints from agents.
func ParseTier(raw string) (Tier, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) == 1 {
		s = "tier_" + s
	}
	t := Tier(s)
	return t, t.Valid()
}

// ProjectStatus is the operational state of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "ACTIVE"
	ProjectPaused   ProjectStatus = "PAUSED"
	ProjectBlocked  ProjectStatus = "BLOCKED"
	ProjectComplete ProjectStatus = "COMPLETE"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectPaused, ProjectBlocked, ProjectComplete:
		return true
	}
	return false
}

// ApprovalStatus tracks a human decision on an agent output.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalEdited   ApprovalStatus = "edited"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalEdited:
		return true
	}
	return false
}

// IsTerminal reports whether no further decision may be applied.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalEdited
}

// CheckpointType is the category of human decision an approval represents.
type CheckpointType string

const (
	CheckpointProposalReview   CheckpointType = "proposal_review"
	CheckpointDiscoverySummary CheckpointType = "discovery_summary"
	CheckpointTierExecution    CheckpointType = "tier_execution"
	CheckpointQualityCheck     CheckpointType = "quality_check"
)

func (c CheckpointType) Valid() bool {
	switch c {
	case CheckpointProposalReview, CheckpointDiscoverySummary, CheckpointTierExecution, CheckpointQualityCheck:
		return true
	}
	return false
}

// EscalationLevel is the severity of an escalation. L1 < L2 < L3.
type EscalationLevel string

const (
	LevelL1 EscalationLevel = "L1"
	LevelL2 EscalationLevel = "L2"
	LevelL3 EscalationLevel = "L3"
)

// Rank orders levels; 0 for unknown.
func (l EscalationLevel) Rank() int {
	switch l {
	case LevelL1:
		return 1
	case LevelL2:
		return 2
	case LevelL3:
		return 3
	}
	return 0
}

func (l EscalationLevel) Valid() bool { return l.Rank() > 0 }

// RequiresNotes reports whether closing the escalation needs decision notes.
func (l EscalationLevel) RequiresNotes() bool { return l.Rank() >= 2 }

// PausesProject reports whether opening the escalation pauses its project.
func (l EscalationLevel) PausesProject() bool { return l == LevelL3 }

// EscalationCategory classifies what kind of judgment is needed.
type EscalationCategory string

const (
	CategoryScope        EscalationCategory = "SCOPE"
	CategoryRelationship EscalationCategory = "RELATIONSHIP"
	CategoryQuality      EscalationCategory = "QUALITY"
	CategoryTechnical    EscalationCategory = "TECHNICAL"
	CategoryPayment      EscalationCategory = "PAYMENT"
	CategoryTimeline     EscalationCategory = "TIMELINE"
)

func (c EscalationCategory) Valid() bool {
	switch c {
	case CategoryScope, CategoryRelationship, CategoryQuality, CategoryTechnical, CategoryPayment, CategoryTimeline:
		return true
	}
	return false
}

// EscalationStatus is OPEN until a human resolves or halts it.
type EscalationStatus string

const (
	EscalationOpen     EscalationStatus = "OPEN"
	EscalationResolved EscalationStatus = "RESOLVED"
	EscalationHalted   EscalationStatus = "HALTED"
)

func (s EscalationStatus) Valid() bool {
	switch s {
	case EscalationOpen, EscalationResolved, EscalationHalted:
		return true
	}
	return false
}

// PolicyAction is what the policy engine did to an approval decision.
type PolicyAction string

const (
	PolicyBlocked       PolicyAction = "blocked"
	PolicyAutoEscalated PolicyAction = "auto_escalated"
)

// NoteType classifies project notes in the activity feed.
type NoteType string

const (
	NoteStageChange  NoteType = "stage_change"
	NoteStatusChange NoteType = "status_change"
	NoteInstruction  NoteType = "instruction"
	NoteAgentTrigger NoteType = "agent_trigger"
	NoteGeneral      NoteType = "note"
)

func (n NoteType) Valid() bool {
	switch n {
	case NoteStageChange, NoteStatusChange, NoteInstruction, NoteAgentTrigger, NoteGeneral:
		return true
	}
	return false
}

// TriggerStatus tracks an outbound agent call.
type TriggerStatus string

const (
	TriggerPending TriggerStatus = "pending"
	TriggerSent    TriggerStatus = "sent"
	TriggerFailed  TriggerStatus = "failed"
)

// Package models defines the domain entities of the operations desk and the
// closed vocabularies (stages, tiers, levels, categories) they are built from.
package models

import (
	"encoding/json"
	"time"
)

// Project is a client engagement moving through the pipeline. It owns its
// stage and status; nothing else mutates them directly.
type Project struct {
	ID          string        `json:"id"`
	ClientEmail string        `json:"client_email"`
	ClientName  string        `json:"client_name"`
	Tier        Tier          `json:"tier"`
	Stage       Stage         `json:"stage"`
	Status      ProjectStatus `json:"status"`
	ICP         string        `json:"icp,omitempty"`
	SOPURL      string        `json:"sop_url,omitempty"`
	Blockers    []string      `json:"blockers,omitempty"`
	PauseReason string        `json:"pause_reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Approval is a request for a human to ratify an agent-produced output.
type Approval struct {
	ID             string          `json:"id"`
	ClientEmail    string          `json:"client_email"`
	AgentKey       string          `json:"agent_key"`
	StageName      string          `json:"stage_name"`
	CheckpointType CheckpointType  `json:"checkpoint_type"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Status         ApprovalStatus  `json:"status"`
	NextStage      Stage           `json:"next_stage,omitempty"`
	TierHint       Tier            `json:"tier_hint,omitempty"`
	ReviewedBy     string          `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	AdminComments  string          `json:"admin_comments,omitempty"`
	EditedResponse json.RawMessage `json:"edited_response,omitempty"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Escalation is an issue flagged for human judgment. ProjectID may be empty
// for auto-escalations raised on approvals whose client has no project yet.
type Escalation struct {
	ID            string             `json:"id"`
	ProjectID     string             `json:"project_id,omitempty"`
	Level         EscalationLevel    `json:"level"`
	Category      EscalationCategory `json:"category"`
	Status        EscalationStatus   `json:"status"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	DecisionNotes string             `json:"decision_notes,omitempty"`
	ResolvedBy    string             `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
	CreatedBy     string             `json:"created_by,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// PolicyAuditEntry is an immutable record of a block or auto-escalation.
type PolicyAuditEntry struct {
	ID           string       `json:"id"`
	ApprovalID   string       `json:"approval_id"`
	EscalationID string       `json:"escalation_id,omitempty"`
	Action       PolicyAction `json:"action"`
	Reason       string       `json:"reason"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ProjectNote is an append-only activity feed entry.
type ProjectNote struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Type      NoteType  `json:"type"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Trigger records one outbound call to an agent webhook.
type Trigger struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	AgentKey   string          `json:"agent_key"`
	Payload    json.RawMessage `json:"payload"`
	Status     TriggerStatus   `json:"status"`
	HTTPStatus int             `json:"http_status,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

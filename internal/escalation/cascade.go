// Package escalation opens and closes escalations and applies the project
// consequences of their level: an L3 pauses its project, and resolving it may
// resume the project. It runs inside the caller's transaction and returns the
// events to publish once that transaction commits.
package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/stage"
)

// Repo is the transactional storage the cascade needs. *store.Tx satisfies it.
type Repo interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	InsertNote(ctx context.Context, n *models.ProjectNote) error
	GetEscalation(ctx context.Context, id string) (*models.Escalation, error)
	InsertEscalation(ctx context.Context, e *models.Escalation) error
	CloseEscalation(ctx context.Context, e *models.Escalation) (bool, error)
}

// Input describes a new escalation. ProjectID may be empty.
type Input struct {
	ProjectID   string
	Level       models.EscalationLevel
	Category    models.EscalationCategory
	Title       string
	Description string
	CreatedBy   string
}

// CloseInput describes a resolution. Unpause only has an effect when an L3 is
// RESOLVED and its project is still PAUSED.
type CloseInput struct {
	ID       string
	Status   models.EscalationStatus
	Notes    string
	Resolver string
	Unpause  bool
}

// Outcome is what the cascade did. Events must be published after commit.
type Outcome struct {
	Escalation     *models.Escalation
	Project        *models.Project
	ProjectChanged bool
	Events         []event.Event
}

// ProjectUpdate is the payload of project.updated events.
type ProjectUpdate struct {
	Project *models.Project `json:"project"`
	Reason  string          `json:"reason,omitempty"`
}

// Cascade applies escalation rules.
type Cascade struct {
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates a cascade.
func New(logger zerolog.Logger) *Cascade {
	return &Cascade{
		logger: logger.With().Str("component", "escalation").Logger(),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Cascade) WithClock(clock func() time.Time) *Cascade {
	c.clock = clock
	return c
}

// Open validates and inserts an OPEN escalation. An L3 pauses its project;
// pausing an already paused project writes nothing.
func (c *Cascade) Open(ctx context.Context, repo Repo, in Input) (*Outcome, error) {
	if !in.Level.Valid() {
		return nil, operrors.Validation("level", "Escalation level must be one of L1, L2, L3 (got %q)", in.Level)
	}
	if !in.Category.Valid() {
		return nil, operrors.Validation("category", "Unknown escalation category %q", in.Category)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, operrors.Validation("title", "Escalation title is required")
	}

	var project *models.Project
	if in.ProjectID != "" {
		p, err := repo.GetProject(ctx, in.ProjectID)
		if err != nil {
			return nil, err
		}
		project = p
	}

	esc := &models.Escalation{
		ProjectID:   in.ProjectID,
		Level:       in.Level,
		Category:    in.Category,
		Status:      models.EscalationOpen,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   c.clock(),
	}
	if err := repo.InsertEscalation(ctx, esc); err != nil {
		return nil, fmt.Errorf("opening escalation: %w", err)
	}

	out := &Outcome{Escalation: esc, Project: project}
	out.Events = append(out.Events, event.Must(event.EscalationCreated, esc))

	if esc.Level.PausesProject() && project != nil && project.Status != models.ProjectPaused {
		reason := fmt.Sprintf("Paused by L3 escalation: %s", esc.Title)
		project.Status = models.ProjectPaused
		project.PauseReason = reason
		if err := repo.UpdateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("pausing project: %w", err)
		}
		if err := repo.InsertNote(ctx, &models.ProjectNote{
			ProjectID: project.ID,
			Type:      models.NoteStatusChange,
			Body:      reason,
			Author:    in.CreatedBy,
			CreatedAt: c.clock(),
		}); err != nil {
			return nil, fmt.Errorf("recording pause: %w", err)
		}
		out.ProjectChanged = true
		out.Events = append(out.Events, event.Must(event.ProjectUpdated, ProjectUpdate{Project: project, Reason: reason}))
	}

	c.logger.Info().
		Str("escalation_id", esc.ID).
		Str("project_id", esc.ProjectID).
		Str("level", string(esc.Level)).
		Str("category", string(esc.Category)).
		Bool("paused_project", out.ProjectChanged).
		Msg("escalation opened")
	return out, nil
}

// StageSkip opens the escalation an overridden forward skip requires.
func (c *Cascade) StageSkip(ctx context.Context, repo Repo, project *models.Project, desc *stage.Escalation, rationale, actor string) (*Outcome, error) {
	if desc == nil {
		return nil, fmt.Errorf("stage skip on project %s without an escalation descriptor", project.ID)
	}
	description := desc.Description
	if actor != "" {
		description += fmt.Sprintf(" Requested by %s.", actor)
	}
	if r := strings.TrimSpace(rationale); r != "" {
		description += " Rationale: " + r
	}
	return c.Open(ctx, repo, Input{
		ProjectID:   project.ID,
		Level:       desc.Level,
		Category:    desc.Category,
		Title:       desc.Title,
		Description: description,
		CreatedBy:   actor,
	})
}

// Close moves an OPEN escalation to RESOLVED or HALTED exactly once.
func (c *Cascade) Close(ctx context.Context, repo Repo, in CloseInput) (*Outcome, error) {
	if in.Status != models.EscalationResolved && in.Status != models.EscalationHalted {
		return nil, operrors.Validation("status", "Escalations can only be resolved or halted (got %q)", in.Status)
	}

	esc, err := repo.GetEscalation(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscalationOpen {
		return nil, operrors.Conflict("Escalation is already resolved or halted")
	}
	notes := strings.TrimSpace(in.Notes)
	if esc.Level.RequiresNotes() && notes == "" {
		return nil, operrors.Validation("decision_notes", "Decision notes are required when resolving L2/L3 escalations")
	}

	now := c.clock()
	esc.Status = in.Status
	esc.DecisionNotes = notes
	esc.ResolvedBy = in.Resolver
	esc.ResolvedAt = &now

	ok, err := repo.CloseEscalation(ctx, esc)
	if err != nil {
		return nil, fmt.Errorf("closing escalation: %w", err)
	}
	if !ok {
		return nil, operrors.Conflict("Escalation is already resolved or halted")
	}

	out := &Outcome{Escalation: esc}
	out.Events = append(out.Events, event.Must(event.EscalationResolved, esc))

	if in.Unpause && esc.Level.PausesProject() && esc.Status == models.EscalationResolved && esc.ProjectID != "" {
		project, err := repo.GetProject(ctx, esc.ProjectID)
		if err != nil {
			return nil, err
		}
		out.Project = project
		if project.Status == models.ProjectPaused {
			project.Status = models.ProjectActive
			project.PauseReason = ""
			if err := repo.UpdateProject(ctx, project); err != nil {
				return nil, fmt.Errorf("resuming project: %w", err)
			}
			body := fmt.Sprintf("Resumed after L3 escalation resolved: %s", esc.Title)
			if err := repo.InsertNote(ctx, &models.ProjectNote{
				ProjectID: project.ID,
				Type:      models.NoteStatusChange,
				Body:      body,
				Author:    in.Resolver,
				CreatedAt: now,
			}); err != nil {
				return nil, fmt.Errorf("recording resume: %w", err)
			}
			out.ProjectChanged = true
			out.Events = append(out.Events, event.Must(event.ProjectUpdated, ProjectUpdate{Project: project, Reason: body}))
		}
	}

	c.logger.Info().
		Str("escalation_id", esc.ID).
		Str("status", string(esc.Status)).
		Str("resolved_by", esc.ResolvedBy).
		Bool("resumed_project", out.ProjectChanged).
		Msg("escalation closed")
	return out, nil
}

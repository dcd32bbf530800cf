package workflow

import (
	"context"
	"fmt"
	"strings"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/stage"
	"github.com/p-blackswan/opsdesk/internal/store"
)

// NewProject is the input of CreateProject.
type NewProject struct {
	ClientEmail string       `json:"client_email"`
	ClientName  string       `json:"client_name"`
	Tier        models.Tier  `json:"tier"`
	Stage       models.Stage `json:"stage,omitempty"`
	ICP         string       `json:"icp,omitempty"`
	SOPURL      string       `json:"sop_url,omitempty"`
	Actor       string       `json:"-"`
}

// CreateProject opens a project for a client that has none. Stage defaults
// to LEAD and tier to tier_1.
func (s *Service) CreateProject(ctx context.Context, in NewProject) (*models.Project, error) {
	email := strings.TrimSpace(in.ClientEmail)
	if !strings.Contains(email, "@") {
		return nil, operrors.Validation("client_email", "A valid client email is required")
	}
	if in.Tier == "" {
		in.Tier = models.Tier1
	}
	if !in.Tier.Valid() {
		return nil, operrors.Validation("tier", "Unknown tier %q", in.Tier)
	}
	if in.Stage == "" {
		in.Stage = models.StageLead
	}
	if !in.Stage.Valid() {
		return nil, operrors.Validation("stage", "Unknown stage %q", in.Stage)
	}
	name := strings.TrimSpace(in.ClientName)
	if name == "" {
		name = email
	}

	project := &models.Project{
		ClientEmail: email,
		ClientName:  name,
		Tier:        in.Tier,
		Stage:       in.Stage,
		Status:      models.ProjectActive,
		ICP:         strings.TrimSpace(in.ICP),
		SOPURL:      strings.TrimSpace(in.SOPURL),
	}
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		project.CreatedAt = s.clock()
		if err := tx.InsertProject(ctx, project); err != nil {
			return err
		}
		return tx.InsertNote(ctx, &models.ProjectNote{
			ProjectID: project.ID,
			Type:      models.NoteStatusChange,
			Body:      fmt.Sprintf("Project created at %s (%s)", project.Stage, project.Tier),
			Author:    in.Actor,
			CreatedAt: project.CreatedAt,
		})
	})
	if err != nil {
		s.recordError("projects", err)
		return nil, err
	}

	s.publish([]event.Event{event.Must(event.ProjectCreated, project)})
	s.logger.Info().Str("project_id", project.ID).Str("client", project.ClientEmail).Msg("project created")
	return project, nil
}

// StageChange is a requested move of a project's stage.
type StageChange struct {
	To        models.Stage `json:"to"`
	Override  bool         `json:"override"`
	Rationale string       `json:"rationale,omitempty"`
	Actor     string       `json:"-"`
}

// StageOutcome reports what a stage change did.
type StageOutcome struct {
	Project    *models.Project    `json:"project"`
	Verdict    stage.Verdict      `json:"verdict"`
	Reason     string             `json:"reason"`
	Skipped    []models.Stage     `json:"skipped,omitempty"`
	Escalation *models.Escalation `json:"escalation,omitempty"`
}

// ChangeStage runs the transition guard against the project's current stage
// and applies the move when it proceeds. Blocked and rejected moves return a
// ValidationError carrying the guard's reason and change nothing.
func (s *Service) ChangeStage(ctx context.Context, projectID string, req StageChange) (*StageOutcome, error) {
	var (
		out    *StageOutcome
		opened *escalation.Outcome
		events []event.Event
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		out, opened, events = nil, nil, nil

		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		from := p.Stage
		d := stage.Check(stage.Request{From: from, To: req.To, Override: req.Override, Rationale: req.Rationale})
		if s.metrics != nil {
			s.metrics.RecordStage(string(d.Verdict))
		}

		out = &StageOutcome{Project: p, Verdict: d.Verdict, Reason: d.Reason, Skipped: d.Skipped}
		switch d.Verdict {
		case stage.NoOp:
			return nil
		case stage.Blocked, stage.RejectedCheckpoint:
			return operrors.Validation("to", "%s", d.Reason)
		}

		p.Stage = req.To
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		body := fmt.Sprintf("Stage changed from %s to %s", from, req.To)
		if req.Override {
			body += " (override)"
		}
		if r := strings.TrimSpace(req.Rationale); r != "" {
			body += ". Rationale: " + r
		}
		if err := tx.InsertNote(ctx, &models.ProjectNote{
			ProjectID: p.ID,
			Type:      models.NoteStageChange,
			Body:      body,
			Author:    req.Actor,
			CreatedAt: s.clock(),
		}); err != nil {
			return err
		}

		if d.Verdict == stage.AllowedWithEscalation {
			opened, err = s.cascade.StageSkip(ctx, tx, p, d.Escalation, req.Rationale, req.Actor)
			if err != nil {
				return err
			}
			out.Escalation = opened.Escalation
			events = append(events, opened.Events...)
		}
		events = append(events, event.Must(event.ProjectUpdated, escalation.ProjectUpdate{Project: p, Reason: body}))
		return nil
	})
	if err != nil {
		s.recordError("stage", err)
		return nil, err
	}

	s.publish(events)
	if opened != nil {
		s.notify(ctx, []*escalation.Outcome{opened})
	}
	if out.Verdict != stage.NoOp {
		s.logger.Info().
			Str("project_id", out.Project.ID).
			Str("stage", string(out.Project.Stage)).
			Str("verdict", string(out.Verdict)).
			Msg("stage changed")
	}
	return out, nil
}

// SetProjectStatus changes a project's operational status by hand. Setting
// the current status is a no-op that returns the project unchanged.
func (s *Service) SetProjectStatus(ctx context.Context, projectID string, status models.ProjectStatus, reason, actor string) (*models.Project, error) {
	if !status.Valid() {
		return nil, operrors.Validation("status", "Unknown project status %q", status)
	}
	reason = strings.TrimSpace(reason)

	var (
		project *models.Project
		events  []event.Event
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		events = nil
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		project = p
		if p.Status == status {
			return nil
		}

		body := fmt.Sprintf("Status changed from %s to %s", p.Status, status)
		if reason != "" {
			body += ": " + reason
		}
		p.Status = status
		p.PauseReason = ""
		if status == models.ProjectPaused {
			p.PauseReason = reason
			if p.PauseReason == "" {
				p.PauseReason = "Paused manually"
			}
		}
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		if err := tx.InsertNote(ctx, &models.ProjectNote{
			ProjectID: p.ID,
			Type:      models.NoteStatusChange,
			Body:      body,
			Author:    actor,
			CreatedAt: s.clock(),
		}); err != nil {
			return err
		}
		events = append(events, event.Must(event.ProjectUpdated, escalation.ProjectUpdate{Project: p, Reason: body}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return project, nil
}

// ProjectRefresh carries fields an external system may overwrite. Empty
// fields are left alone.
type ProjectRefresh struct {
	Name   string `json:"client_name,omitempty"`
	ICP    string `json:"icp,omitempty"`
	SOPURL string `json:"sop_url,omitempty"`
}

// SOPUpdate is the payload of sop.updated events.
type SOPUpdate struct {
	ProjectID string `json:"project_id"`
	SOPURL    string `json:"sop_url"`
}

// RefreshProject applies a webhook-driven refresh of a client's project.
// It never touches stage or status.
func (s *Service) RefreshProject(ctx context.Context, clientEmail string, r ProjectRefresh) (*models.Project, error) {
	var (
		project *models.Project
		events  []event.Event
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		events = nil
		p, err := tx.GetProjectByEmail(ctx, clientEmail)
		if err != nil {
			return err
		}
		project = p

		dirty := false
		if v := strings.TrimSpace(r.Name); v != "" && v != p.ClientName {
			p.ClientName = v
			dirty = true
		}
		if v := strings.TrimSpace(r.ICP); v != "" && v != p.ICP {
			p.ICP = v
			dirty = true
		}
		sopChanged := false
		if v := strings.TrimSpace(r.SOPURL); v != "" && v != p.SOPURL {
			p.SOPURL = v
			dirty = true
			sopChanged = true
		}
		if !dirty {
			return nil
		}
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		events = append(events, event.Must(event.ProjectUpdated, escalation.ProjectUpdate{Project: p, Reason: "Project refreshed"}))
		if sopChanged {
			events = append(events, event.Must(event.SOPUpdated, SOPUpdate{ProjectID: p.ID, SOPURL: p.SOPURL}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return project, nil
}

// SetBlockers replaces the project's blocker list. Blank entries are dropped.
func (s *Service) SetBlockers(ctx context.Context, projectID string, blockers []string, actor string) (*models.Project, error) {
	cleaned := make([]string, 0, len(blockers))
	for _, b := range blockers {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}

	var project *models.Project
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		p.Blockers = cleaned
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		project = p

		body := "Blockers cleared"
		if len(cleaned) > 0 {
			body = "Blockers: " + strings.Join(cleaned, "; ")
		}
		return tx.InsertNote(ctx, &models.ProjectNote{
			ProjectID: p.ID,
			Type:      models.NoteGeneral,
			Body:      body,
			Author:    actor,
			CreatedAt: s.clock(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish([]event.Event{event.Must(event.ProjectUpdated, escalation.ProjectUpdate{Project: project, Reason: "Blockers updated"})})
	return project, nil
}

// AddNote appends an instruction or free-form note to a project's feed.
// Stage, status and trigger notes are written by the operations that cause
// them.
func (s *Service) AddNote(ctx context.Context, projectID string, typ models.NoteType, body, author string) (*models.ProjectNote, error) {
	if typ == "" {
		typ = models.NoteGeneral
	}
	if typ != models.NoteInstruction && typ != models.NoteGeneral {
		return nil, operrors.Validation("type", "Only %s and %s notes can be added directly", models.NoteInstruction, models.NoteGeneral)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, operrors.Validation("body", "Note body is required")
	}

	note := &models.ProjectNote{ProjectID: projectID, Type: typ, Body: body, Author: author}
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		note.CreatedAt = s.clock()
		return tx.InsertNote(ctx, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

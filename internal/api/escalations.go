package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/store"
)

func (s *Server) listEscalations(c *fiber.Ctx) error {
	f := store.EscalationFilter{
		Status:    models.EscalationStatus(strings.ToUpper(c.Query("status"))),
		ProjectID: c.Query("project_id"),
		Limit:     c.QueryInt("limit", 100),
	}
	escs, err := s.svc.ListEscalations(c.UserContext(), f)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"escalations": nonNil(escs)})
}

func (s *Server) escalationSummary(c *fiber.Ctx) error {
	counts, err := s.svc.OpenEscalationCounts(c.UserContext())
	if err != nil {
		return s.writeError(c, err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return c.JSON(fiber.Map{"open": counts, "total_open": total})
}

func (s *Server) getEscalation(c *fiber.Ctx) error {
	e, err := s.svc.GetEscalation(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(e)
}

type escalationRequest struct {
	ProjectID   string `json:"project_id"`
	Level       string `json:"level"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) createEscalation(c *fiber.Ctx) error {
	var req escalationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	out, err := s.svc.CreateEscalation(c.UserContext(), escalation.Input{
		ProjectID:   req.ProjectID,
		Level:       models.EscalationLevel(strings.ToUpper(req.Level)),
		Category:    models.EscalationCategory(strings.ToUpper(req.Category)),
		Title:       req.Title,
		Description: req.Description,
		CreatedBy:   actor(c),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(outcomeBody(out))
}

type resolveRequest struct {
	Status        string `json:"status"`
	DecisionNotes string `json:"decision_notes"`
	Unpause       bool   `json:"unpause"`
}

func (s *Server) resolveEscalation(c *fiber.Ctx) error {
	var req resolveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	out, err := s.svc.ResolveEscalation(c.UserContext(), escalation.CloseInput{
		ID:       c.Params("id"),
		Status:   models.EscalationStatus(strings.ToUpper(req.Status)),
		Notes:    req.DecisionNotes,
		Resolver: actor(c),
		Unpause:  req.Unpause,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(outcomeBody(out))
}

type escalationResponse struct {
	Escalation     *models.Escalation `json:"escalation"`
	Project        *models.Project    `json:"project,omitempty"`
	ProjectChanged bool               `json:"project_changed"`
}

func outcomeBody(out *escalation.Outcome) escalationResponse {
	return escalationResponse{
		Escalation:     out.Escalation,
		Project:        out.Project,
		ProjectChanged: out.ProjectChanged,
	}
}

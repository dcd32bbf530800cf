package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/opsdesk/internal/workflow"
)

func (s *Server) agentOutput(c *fiber.Ctx) error {
	var d workflow.AgentDelivery
	if err := parseBody(c, &d); err != nil {
		return err
	}
	a, err := s.svc.IngestAgentOutput(c.UserContext(), d)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

type agentEventRequest struct {
	AgentKey string          `json:"agent_key"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) agentEvent(c *fiber.Ctx) error {
	var req agentEventRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := s.svc.RecordAgentEvent(c.UserContext(), req.AgentKey, req.Payload); err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

type refreshRequest struct {
	ClientEmail string `json:"client_email"`
	workflow.ProjectRefresh
}

func (s *Server) projectRefresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := s.svc.RefreshProject(c.UserContext(), req.ClientEmail, req.ProjectRefresh)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(p)
}

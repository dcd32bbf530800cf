package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/store"
	"github.com/p-blackswan/opsdesk/internal/workflow"
)

// parseBody decodes a JSON request body. A malformed body returns
// errInvalidBody, which the error handler renders as a 400 problem; callers
// must return it before touching the service.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return errInvalidBody
	}
	return nil
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	f := store.ProjectFilter{
		Status: models.ProjectStatus(c.Query("status")),
		Stage:  models.Stage(c.Query("stage")),
	}
	projects, err := s.svc.ListProjects(c.UserContext(), f)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"projects": nonNil(projects)})
}

func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.svc.GetProject(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(p)
}

func (s *Server) createProject(c *fiber.Ctx) error {
	var req workflow.NewProject
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.Actor = actor(c)
	p, err := s.svc.CreateProject(c.UserContext(), req)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

type stageRequest struct {
	To        string `json:"to"`
	Override  bool   `json:"override"`
	Rationale string `json:"rationale"`
}

func (s *Server) changeStage(c *fiber.Ctx) error {
	var req stageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	to, ok := models.ParseStage(req.To)
	if !ok {
		return s.writeError(c, operrors.Validation("to", "Unknown stage %q", req.To))
	}
	out, err := s.svc.ChangeStage(c.UserContext(), c.Params("id"), workflow.StageChange{
		To:        to,
		Override:  req.Override,
		Rationale: req.Rationale,
		Actor:     actor(c),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(out)
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) setStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := s.svc.SetProjectStatus(c.UserContext(), c.Params("id"), models.ProjectStatus(req.Status), req.Reason, actor(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(p)
}

type blockersRequest struct {
	Blockers []string `json:"blockers"`
}

func (s *Server) setBlockers(c *fiber.Ctx) error {
	var req blockersRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	p, err := s.svc.SetBlockers(c.UserContext(), c.Params("id"), req.Blockers, actor(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(p)
}

func (s *Server) listNotes(c *fiber.Ctx) error {
	notes, err := s.svc.ListNotes(c.UserContext(), c.Params("id"), c.QueryInt("limit", 50))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"notes": nonNil(notes)})
}

type noteRequest struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

func (s *Server) addNote(c *fiber.Ctx) error {
	var req noteRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	n, err := s.svc.AddNote(c.UserContext(), c.Params("id"), models.NoteType(req.Type), req.Body, actor(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

func (s *Server) listTriggers(c *fiber.Ctx) error {
	triggers, err := s.svc.ListTriggers(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"triggers": nonNil(triggers)})
}

type triggerRequest struct {
	AgentKey string                 `json:"agent_key"`
	Extra    map[string]interface{} `json:"extra"`
}

func (s *Server) triggerAgent(c *fiber.Ctx) error {
	var req triggerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	tr, err := s.svc.TriggerAgent(c.UserContext(), workflow.TriggerRequest{
		ProjectID: c.Params("id"),
		AgentKey:  req.AgentKey,
		Extra:     req.Extra,
		Actor:     actor(c),
	})
	if err != nil {
		p := problemFor(c, err)
		var te *operrors.TransportError
		if tr != nil && errors.As(err, &te) {
			p.TriggerID = tr.ID
		}
		return c.Status(p.Status).JSON(p)
	}
	return c.Status(fiber.StatusCreated).JSON(tr)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

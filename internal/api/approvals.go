package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/policy"
	"github.com/p-blackswan/opsdesk/internal/store"
	"github.com/p-blackswan/opsdesk/internal/workflow"
)

func (s *Server) listApprovals(c *fiber.Ctx) error {
	f := store.ApprovalFilter{
		Status:      models.ApprovalStatus(c.Query("status")),
		ClientEmail: c.Query("client_email"),
		Limit:       c.QueryInt("limit", 100),
	}
	approvals, err := s.svc.ListApprovals(c.UserContext(), f)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"approvals": nonNil(approvals)})
}

func (s *Server) getApproval(c *fiber.Ctx) error {
	a, err := s.svc.GetApproval(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(a)
}

type decisionRequest struct {
	Status         string          `json:"status"`
	Comments       string          `json:"comments"`
	EditedResponse json.RawMessage `json:"edited_response"`
}

func (s *Server) decideApproval(c *fiber.Ctx) error {
	var req decisionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	out, err := s.svc.DecideApproval(c.UserContext(), c.Params("id"), policy.Action{
		Status:         models.ApprovalStatus(req.Status),
		Comments:       req.Comments,
		EditedResponse: req.EditedResponse,
		Reviewer:       actor(c),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) markSent(c *fiber.Ctx) error {
	a, err := s.svc.MarkSent(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(a)
}

type authorizeRequest struct {
	ClientName string `json:"client_name"`
	Tier       string `json:"tier"`
}

func (s *Server) authorizeProject(c *fiber.Ctx) error {
	var req authorizeRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	var tier models.Tier
	if req.Tier != "" {
		tier, _ = models.ParseTier(req.Tier)
		if !tier.Valid() {
			tier = models.Tier(req.Tier)
		}
	}
	p, err := s.svc.AuthorizeProject(c.UserContext(), workflow.AuthorizeRequest{
		ApprovalID: c.Params("id"),
		ClientName: req.ClientName,
		Tier:       tier,
		Actor:      actor(c),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *Server) listAudit(c *fiber.Ctx) error {
	f := store.AuditFilter{
		ApprovalID: c.Query("approval_id"),
		Action:     models.PolicyAction(c.Query("action")),
		Limit:      c.QueryInt("limit", 100),
	}
	entries, err := s.svc.ListAudit(c.UserContext(), f)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{"audit": nonNil(entries)})
}

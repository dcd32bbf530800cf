package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
)

// ProblemDetail follows RFC 7807 for error responses. The trailing fields
// are extension members set only for the errors that carry them.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Field        string `json:"field,omitempty"`
	AuditID      string `json:"audit_id,omitempty"`
	EscalationID string `json:"escalation_id,omitempty"`
	TriggerID    string `json:"trigger_id,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// problemFor translates a core error into its transport response.
func problemFor(c *fiber.Ctx, err error) ProblemDetail {
	p := ProblemDetail{Instance: c.Path(), Detail: operrors.Reason(err)}

	switch operrors.Kind(err) {
	case "validation":
		p.Status, p.Type, p.Title = fiber.StatusUnprocessableEntity, "validation_failed", "Unprocessable Entity"
		var ve *operrors.ValidationError
		if errors.As(err, &ve) {
			p.Field = ve.Field
		}
	case "policy_blocked":
		p.Status, p.Type, p.Title = fiber.StatusConflict, "policy_blocked", "Blocked by Policy"
		var pe *operrors.PolicyError
		if errors.As(err, &pe) {
			p.AuditID = pe.AuditID
			p.EscalationID = pe.EscalationID
		}
	case "conflict":
		p.Status, p.Type, p.Title = fiber.StatusConflict, "conflict", "Conflict"
	case "not_found":
		p.Status, p.Type, p.Title = fiber.StatusNotFound, "not_found", "Not Found"
	case "transport":
		p.Status, p.Type, p.Title = fiber.StatusBadGateway, "agent_unreachable", "Bad Gateway"
	default:
		p.Status, p.Type, p.Title = fiber.StatusInternalServerError, "internal_error", "Internal Server Error"
		p.Detail = "An internal error occurred"
	}
	return p
}

// writeError sends the problem for err. Internal errors are logged.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	p := problemFor(c, err)
	if p.Status == fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("request failed")
	}
	return c.Status(p.Status).JSON(p)
}

// errInvalidBody rejects a request whose body is not valid JSON.
var errInvalidBody = fiber.NewError(fiber.StatusBadRequest, "Request body must be valid JSON")

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Int("status", code).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
		}

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}
		title := utils.StatusMessage(code)
		typ := strings.ToLower(strings.ReplaceAll(title, " ", "_"))
		if errors.Is(err, errInvalidBody) {
			typ = "invalid_body"
		}
		return c.Status(code).JSON(ProblemDetail{
			Type:     typ,
			Title:    title,
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}

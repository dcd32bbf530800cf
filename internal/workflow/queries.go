package workflow

import (
	"context"

	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/store"
)

// GetProject returns one project.
func (s *Service) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p *models.Project
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		p, err = tx.GetProject(ctx, id)
		return err
	})
	return p, err
}

// ListProjects returns projects matching f.
func (s *Service) ListProjects(ctx context.Context, f store.ProjectFilter) ([]models.Project, error) {
	var out []models.Project
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListProjects(ctx, f)
		return err
	})
	return out, err
}

// GetApproval returns one approval.
func (s *Service) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	var a *models.Approval
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		a, err = tx.GetApproval(ctx, id)
		return err
	})
	return a, err
}

// ListApprovals returns approvals matching f.
func (s *Service) ListApprovals(ctx context.Context, f store.ApprovalFilter) ([]models.Approval, error) {
	var out []models.Approval
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListApprovals(ctx, f)
		return err
	})
	return out, err
}

// GetEscalation returns one escalation.
func (s *Service) GetEscalation(ctx context.Context, id string) (*models.Escalation, error) {
	var e *models.Escalation
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		e, err = tx.GetEscalation(ctx, id)
		return err
	})
	return e, err
}

// ListEscalations returns escalations matching f.
func (s *Service) ListEscalations(ctx context.Context, f store.EscalationFilter) ([]models.Escalation, error) {
	var out []models.Escalation
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListEscalations(ctx, f)
		return err
	})
	return out, err
}

// OpenEscalationCounts returns how many escalations are OPEN per level.
func (s *Service) OpenEscalationCounts(ctx context.Context) (map[models.EscalationLevel]int, error) {
	var out map[models.EscalationLevel]int
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.CountOpenEscalations(ctx)
		return err
	})
	return out, err
}

// ListAudit returns policy audit entries matching f, oldest first.
func (s *Service) ListAudit(ctx context.Context, f store.AuditFilter) ([]models.PolicyAuditEntry, error) {
	var out []models.PolicyAuditEntry
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListAudit(ctx, f)
		return err
	})
	return out, err
}

// ListNotes returns a project's activity feed, newest first.
func (s *Service) ListNotes(ctx context.Context, projectID string, limit int) ([]models.ProjectNote, error) {
	var out []models.ProjectNote
	err := s.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListNotes(ctx, projectID, limit)
		return err
	})
	return out, err
}

// ListTriggers returns a project's agent triggers, newest first.
func (s *Service) ListTriggers(ctx context.Context, projectID string) ([]models.Trigger, error) {
	var out []models.Trigger
	err := s.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTriggers(ctx, projectID)
		return err
	})
	return out, err
}

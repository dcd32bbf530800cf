package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/p-blackswan/opsdesk/internal/models"
)

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	ApprovalID string
	Action     models.PolicyAction
	Limit      int
}

// InsertAudit appends a policy audit entry. Entries are never updated.
func (t *Tx) InsertAudit(ctx context.Context, e *models.PolicyAuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}

	_, err := t.q.ExecContext(ctx, `
	INSERT INTO policy_audit (id, approval_id, escalation_id, action, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ApprovalID, nullString(e.EscalationID), e.Action, e.Reason, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries oldest first.
func (t *Tx) ListAudit(ctx context.Context, f AuditFilter) ([]models.PolicyAuditEntry, error) {
	query := `SELECT id, approval_id, escalation_id, action, reason, created_at FROM policy_audit WHERE 1=1`
	var args []interface{}
	if f.ApprovalID != "" {
		query += " AND approval_id = ?"
		args = append(args, f.ApprovalID)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	query += " ORDER BY created_at, rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.PolicyAuditEntry
	for rows.Next() {
		var e models.PolicyAuditEntry
		var escalationID sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.ApprovalID, &escalationID, &e.Action, &e.Reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.EscalationID = escalationID.String
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return out, nil
}

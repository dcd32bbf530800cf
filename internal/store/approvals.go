package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/models"
)

// ApprovalFilter narrows ListApprovals. Zero values match everything.
type ApprovalFilter struct {
	Status      models.ApprovalStatus
	ClientEmail string
	Limit       int
}

const approvalColumns = `id, client_email, agent_key, stage_name, checkpoint_type, input, output,
	status, next_stage, reviewed_by, reviewed_at, admin_comments, edited_response, sent_at,
	created_at, updated_at, tier_hint`

func scanApproval(row rowScanner) (*models.Approval, error) {
	a := &models.Approval{}
	var input, output, edited, reviewedBy sql.NullString
	var reviewedAt, sentAt sql.NullInt64
	var created, updated int64

	err := row.Scan(
		&a.ID, &a.ClientEmail, &a.AgentKey, &a.StageName, &a.CheckpointType, &input, &output,
		&a.Status, &a.NextStage, &reviewedBy, &reviewedAt, &a.AdminComments, &edited, &sentAt,
		&created, &updated, &a.TierHint,
	)
	if err != nil {
		return nil, err
	}

	if input.Valid {
		a.Input = []byte(input.String)
	}
	if output.Valid {
		a.Output = []byte(output.String)
	}
	if edited.Valid {
		a.EditedResponse = []byte(edited.String)
	}
	a.ReviewedBy = reviewedBy.String
	a.ReviewedAt = timePtr(reviewedAt)
	a.SentAt = timePtr(sentAt)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

// GetApproval retrieves an approval by ID.
func (t *Tx) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	a, err := scanApproval(t.q.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, operrors.NotFound("approval", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return a, nil
}

// InsertApproval stores a new approval in whatever status it carries.
func (t *Tx) InsertApproval(ctx context.Context, a *models.Approval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = models.ApprovalPending
	}
	now := t.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	a.ClientEmail = normalizeEmail(a.ClientEmail)

	_, err := t.q.ExecContext(ctx, `
	INSERT INTO approvals (`+approvalColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClientEmail, a.AgentKey, a.StageName, a.CheckpointType, nullBytes(a.Input), nullBytes(a.Output),
		a.Status, a.NextStage, nullString(a.ReviewedBy), nullMillis(a.ReviewedAt), a.AdminComments,
		nullBytes(a.EditedResponse), nullMillis(a.SentAt), toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
		a.TierHint,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

// ResolveApproval writes a's decision fields only if the stored approval is
// still pending. It reports whether the row changed; false means another
// decision won.
func (t *Tx) ResolveApproval(ctx context.Context, a *models.Approval) (bool, error) {
	a.UpdatedAt = t.now()
	res, err := t.q.ExecContext(ctx, `
	UPDATE approvals SET status = ?, reviewed_by = ?, reviewed_at = ?, admin_comments = ?,
		edited_response = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		a.Status, nullString(a.ReviewedBy), nullMillis(a.ReviewedAt), a.AdminComments,
		nullBytes(a.EditedResponse), toMillis(a.UpdatedAt), a.ID, models.ApprovalPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve approval: %w", err)
	}
	return changed(res)
}

// MarkApprovalSent stamps the sent time on an approved or edited approval that
// has not been sent yet.
func (t *Tx) MarkApprovalSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
	UPDATE approvals SET sent_at = ?, updated_at = ?
	WHERE id = ? AND sent_at IS NULL AND status IN (?, ?)`,
		toMillis(at), toMillis(t.now()), id, models.ApprovalApproved, models.ApprovalEdited,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark approval sent: %w", err)
	}
	return changed(res)
}

// CountRejections returns how many approvals for the client and checkpoint
// type are in rejected status.
func (t *Tx) CountRejections(ctx context.Context, clientEmail string, checkpoint models.CheckpointType) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM approvals
	WHERE client_email = ? AND checkpoint_type = ? AND status = ?`,
		normalizeEmail(clientEmail), checkpoint, models.ApprovalRejected,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rejections: %w", err)
	}
	return n, nil
}

// ListApprovals returns approvals, newest first.
func (t *Tx) ListApprovals(ctx context.Context, f ApprovalFilter) ([]models.Approval, error) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ClientEmail != "" {
		where = append(where, "client_email = ?")
		args = append(args, normalizeEmail(f.ClientEmail))
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}
	return out, nil
}

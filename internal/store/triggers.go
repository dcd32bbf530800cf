package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/models"
)

// InsertTrigger records an outbound agent call before it is made.
func (t *Tx) InsertTrigger(ctx context.Context, tr *models.Trigger) error {
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}
	if tr.Status == "" {
		tr.Status = models.TriggerPending
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = t.now()
	}
	tr.UpdatedAt = tr.CreatedAt

	_, err := t.q.ExecContext(ctx, `
	INSERT INTO triggers (id, project_id, agent_key, payload, status, http_status, error, created_by, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.ProjectID, tr.AgentKey, string(tr.Payload), tr.Status, tr.HTTPStatus, tr.Error,
		tr.CreatedBy, toMillis(tr.CreatedAt), toMillis(tr.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trigger: %w", err)
	}
	return nil
}

// FinishTrigger records the outcome of a pending trigger.
func (t *Tx) FinishTrigger(ctx context.Context, tr *models.Trigger) error {
	tr.UpdatedAt = t.now()
	res, err := t.q.ExecContext(ctx, `
	UPDATE triggers SET status = ?, http_status = ?, error = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		tr.Status, tr.HTTPStatus, tr.Error, toMillis(tr.UpdatedAt), tr.ID, models.TriggerPending,
	)
	if err != nil {
		return fmt.Errorf("failed to finish trigger: %w", err)
	}
	ok, err := changed(res)
	if err != nil {
		return fmt.Errorf("failed to finish trigger: %w", err)
	}
	if !ok {
		return operrors.Conflict("Trigger %s is not pending", tr.ID)
	}
	return nil
}

// ListTriggers returns a project's triggers, newest first.
func (t *Tx) ListTriggers(ctx context.Context, projectID string) ([]models.Trigger, error) {
	rows, err := t.q.QueryContext(ctx, `
	SELECT id, project_id, agent_key, payload, status, http_status, error, created_by, created_at, updated_at
	FROM triggers WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var out []models.Trigger
	for rows.Next() {
		var tr models.Trigger
		var payload string
		var created, updated int64
		if err := rows.Scan(&tr.ID, &tr.ProjectID, &tr.AgentKey, &payload, &tr.Status, &tr.HTTPStatus,
			&tr.Error, &tr.CreatedBy, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		tr.Payload = []byte(payload)
		tr.CreatedAt = fromMillis(created)
		tr.UpdatedAt = fromMillis(updated)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}
	return out, nil
}

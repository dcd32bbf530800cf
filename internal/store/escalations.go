package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/models"
)

// EscalationFilter narrows ListEscalations. Zero values match everything.
type EscalationFilter struct {
	Status    models.EscalationStatus
	ProjectID string
	Limit     int
}

const escalationColumns = `id, project_id, level, category, status, title, description,
	decision_notes, resolved_by, resolved_at, created_by, created_at, updated_at`

func scanEscalation(row rowScanner) (*models.Escalation, error) {
	e := &models.Escalation{}
	var projectID, resolvedBy sql.NullString
	var resolvedAt sql.NullInt64
	var created, updated int64

	err := row.Scan(
		&e.ID, &projectID, &e.Level, &e.Category, &e.Status, &e.Title, &e.Description,
		&e.DecisionNotes, &resolvedBy, &resolvedAt, &e.CreatedBy, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	e.ProjectID = projectID.String
	e.ResolvedBy = resolvedBy.String
	e.ResolvedAt = timePtr(resolvedAt)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

// GetEscalation retrieves an escalation by ID.
func (t *Tx) GetEscalation(ctx context.Context, id string) (*models.Escalation, error) {
	e, err := scanEscalation(t.q.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, operrors.NotFound("escalation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation: %w", err)
	}
	return e, nil
}

// InsertEscalation stores a new escalation. Status defaults to OPEN.
func (t *Tx) InsertEscalation(ctx context.Context, e *models.Escalation) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = models.EscalationOpen
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	e.UpdatedAt = e.CreatedAt

	_, err := t.q.ExecContext(ctx, `
	INSERT INTO escalations (`+escalationColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.ProjectID), e.Level, e.Category, e.Status, e.Title, e.Description,
		e.DecisionNotes, nullString(e.ResolvedBy), nullMillis(e.ResolvedAt), e.CreatedBy,
		toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}
	return nil
}

// CloseEscalation writes e's terminal status and decision fields only if the
// stored escalation is still OPEN, and reports whether it did.
func (t *Tx) CloseEscalation(ctx context.Context, e *models.Escalation) (bool, error) {
	e.UpdatedAt = t.now()
	res, err := t.q.ExecContext(ctx, `
	UPDATE escalations SET status = ?, decision_notes = ?, resolved_by = ?, resolved_at = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		e.Status, e.DecisionNotes, nullString(e.ResolvedBy), nullMillis(e.ResolvedAt), toMillis(e.UpdatedAt),
		e.ID, models.EscalationOpen,
	)
	if err != nil {
		return false, fmt.Errorf("failed to close escalation: %w", err)
	}
	return changed(res)
}

// ListEscalations returns escalations, newest first.
func (t *Tx) ListEscalations(ctx context.Context, f EscalationFilter) ([]models.Escalation, error) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}

	query := `SELECT ` + escalationColumns + ` FROM escalations`
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
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	var out []models.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating escalations: %w", err)
	}
	return out, nil
}

// CountOpenEscalations returns the number of OPEN escalations per level.
func (t *Tx) CountOpenEscalations(ctx context.Context) (map[models.EscalationLevel]int, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM escalations WHERE status = ? GROUP BY level`, models.EscalationOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to count open escalations: %w", err)
	}
	defer rows.Close()

	out := make(map[models.EscalationLevel]int)
	for rows.Next() {
		var level models.EscalationLevel
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("failed to scan escalation count: %w", err)
		}
		out[level] = n
	}
	return out, rows.Err()
}

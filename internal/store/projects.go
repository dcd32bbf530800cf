package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/models"
)

// ProjectFilter narrows ListProjects. Zero values match everything.
type ProjectFilter struct {
	Status models.ProjectStatus
	Stage  models.Stage
}

const projectColumns = `id, client_email, client_name, tier, stage, status, icp, sop_url,
	blockers, pause_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var blockers string
	var created, updated int64
	err := row.Scan(
		&p.ID, &p.ClientEmail, &p.ClientName, &p.Tier, &p.Stage, &p.Status, &p.ICP, &p.SOPURL,
		&blockers, &p.PauseReason, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if blockers != "" {
		if err := json.Unmarshal([]byte(blockers), &p.Blockers); err != nil {
			return nil, fmt.Errorf("decoding blockers of project %s: %w", p.ID, err)
		}
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

func encodeBlockers(b []string) (string, error) {
	if b == nil {
		b = []string{}
	}
	raw, err := json.Marshal(b)
	return string(raw), err
}

// GetProject returns the project with the given ID.
func (t *Tx) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(t.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, operrors.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetProjectByEmail returns the project for a client email. Matching is
// case-insensitive.
func (t *Tx) GetProjectByEmail(ctx context.Context, email string) (*models.Project, error) {
	p, err := scanProject(t.q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE client_email = ?`, normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, operrors.NotFound("project for client", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project by email: %w", err)
	}
	return p, nil
}

// InsertProject stores a new project, filling ID and timestamps when unset.
func (t *Tx) InsertProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := t.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	p.ClientEmail = normalizeEmail(p.ClientEmail)

	blockers, err := encodeBlockers(p.Blockers)
	if err != nil {
		return fmt.Errorf("encoding blockers: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
	INSERT INTO projects (`+projectColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ClientEmail, p.ClientName, p.Tier, p.Stage, p.Status, p.ICP, p.SOPURL,
		blockers, p.PauseReason, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return operrors.Conflict("A project already exists for %s", p.ClientEmail)
	}
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// UpdateProject writes every mutable column of p and bumps UpdatedAt.
func (t *Tx) UpdateProject(ctx context.Context, p *models.Project) error {
	blockers, err := encodeBlockers(p.Blockers)
	if err != nil {
		return fmt.Errorf("encoding blockers: %w", err)
	}
	p.UpdatedAt = t.now()

	res, err := t.q.ExecContext(ctx, `
	UPDATE projects SET client_name = ?, tier = ?, stage = ?, status = ?, icp = ?, sop_url = ?,
		blockers = ?, pause_reason = ?, updated_at = ?
	WHERE id = ?`,
		p.ClientName, p.Tier, p.Stage, p.Status, p.ICP, p.SOPURL,
		blockers, p.PauseReason, toMillis(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	ok, err := changed(res)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if !ok {
		return operrors.NotFound("project", p.ID)
	}
	return nil
}

// ListProjects returns projects ordered by most recently updated.
func (t *Tx) ListProjects(ctx context.Context, f ProjectFilter) ([]models.Project, error) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, f.Stage)
	}

	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

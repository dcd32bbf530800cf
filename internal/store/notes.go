package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/p-blackswan/opsdesk/internal/models"
)

// InsertNote appends to a project's activity feed.
func (t *Tx) InsertNote(ctx context.Context, n *models.ProjectNote) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = t.now()
	}

	_, err := t.q.ExecContext(ctx, `
	INSERT INTO project_notes (id, project_id, type, body, author, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.ProjectID, n.Type, n.Body, n.Author, toMillis(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// ListNotes returns a project's notes, newest first.
func (t *Tx) ListNotes(ctx context.Context, projectID string, limit int) ([]models.ProjectNote, error) {
	query := `
	SELECT id, project_id, type, body, author, created_at FROM project_notes
	WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []interface{}{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var out []models.ProjectNote
	for rows.Next() {
		var n models.ProjectNote
		var created int64
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.Type, &n.Body, &n.Author, &created); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.CreatedAt = fromMillis(created)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return out, nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

type migration struct {
	version int
	schema  string
}

var migrations = []migration{
	{version: 1, schema: `
	CREATE TABLE IF NOT EXISTS projects (
		id            TEXT PRIMARY KEY,
		client_email  TEXT NOT NULL UNIQUE,
		client_name   TEXT NOT NULL DEFAULT '',
		tier          TEXT NOT NULL,
		stage         TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'ACTIVE',
		icp           TEXT NOT NULL DEFAULT '',
		blockers      TEXT NOT NULL DEFAULT '[]',
		pause_reason  TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);

	CREATE TABLE IF NOT EXISTS approvals (
		id               TEXT PRIMARY KEY,
		client_email     TEXT NOT NULL,
		agent_key        TEXT NOT NULL,
		stage_name       TEXT NOT NULL DEFAULT '',
		checkpoint_type  TEXT NOT NULL,
		input            TEXT,
		output           TEXT,
		status           TEXT NOT NULL DEFAULT 'pending',
		next_stage       TEXT NOT NULL DEFAULT '',
		reviewed_by      TEXT,
		reviewed_at      INTEGER,
		admin_comments   TEXT NOT NULL DEFAULT '',
		edited_response  TEXT,
		sent_at          INTEGER,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_approvals_history ON approvals(client_email, checkpoint_type, status);

	CREATE TABLE IF NOT EXISTS escalations (
		id              TEXT PRIMARY KEY,
		project_id      TEXT REFERENCES projects(id),
		level           TEXT NOT NULL,
		category        TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'OPEN',
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		decision_notes  TEXT NOT NULL DEFAULT '',
		resolved_by     TEXT,
		resolved_at     INTEGER,
		created_by      TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_escalations_project ON escalations(project_id);

	CREATE TABLE IF NOT EXISTS policy_audit (
		id             TEXT PRIMARY KEY,
		approval_id    TEXT NOT NULL,
		escalation_id  TEXT,
		action         TEXT NOT NULL,
		reason         TEXT NOT NULL,
		created_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_approval ON policy_audit(approval_id, created_at);

	CREATE TABLE IF NOT EXISTS project_notes (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL REFERENCES projects(id),
		type        TEXT NOT NULL,
		body        TEXT NOT NULL,
		author      TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_project ON project_notes(project_id, created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`},
	{version: 2, schema: `
	ALTER TABLE projects ADD COLUMN sop_url TEXT NOT NULL DEFAULT '';

	CREATE TABLE IF NOT EXISTS triggers (
		id           TEXT PRIMARY KEY,
		project_id   TEXT NOT NULL REFERENCES projects(id),
		agent_key    TEXT NOT NULL,
		payload      TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		http_status  INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		created_by   TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_triggers_project ON triggers(project_id, created_at);
	`},
	{version: 3, schema: `
	ALTER TABLE approvals ADD COLUMN tier_hint TEXT NOT NULL DEFAULT '';
	`},
}

func (s *Store) migrate() error {
	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(m); err != nil {
			return err
		}
		s.logger.Info().Int("version", m.version).Msg("applied migration")
	}
	return nil
}

// schemaVersion returns 0 for a fresh database.
func (s *Store) schemaVersion() (int, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	return v, nil
}

func (s *Store) apply(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration v%d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.schema); err != nil {
		return fmt.Errorf("failed to execute migration v%d: %w", m.version, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, strconv.Itoa(m.version)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

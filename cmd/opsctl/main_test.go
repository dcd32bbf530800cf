package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/policy"
	"github.com/p-blackswan/opsdesk/internal/store"
	"github.com/p-blackswan/opsdesk/internal/workflow"
)

// seed creates a database with one paused project and its L3 escalation.
func seed(t *testing.T) (dbPath, projectID, escalationID string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "opsdesk.db")
	db, err := store.New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	svc := workflow.New(workflow.Deps{
		Store:  db,
		Engine: policy.NewEngine(policy.DefaultConfig(), zerolog.Nop()),
		Logger: zerolog.Nop(),
	})
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, workflow.NewProject{
		ClientEmail: "ops@initech.test",
		ClientName:  "Initech",
		Actor:       "seed",
	})
	require.NoError(t, err)

	out, err := svc.CreateEscalation(ctx, escalation.Input{
		ProjectID: p.ID,
		Level:     models.LevelL3,
		Category:  models.CategoryPayment,
		Title:     "Invoice 90 days overdue",
		CreatedBy: "seed",
	})
	require.NoError(t, err)
	require.Equal(t, models.ProjectPaused, out.Project.Status)
	return dbPath, p.ID, out.Escalation.ID
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStageCheck(t *testing.T) {
	out, err := run(t, "stage", "check", "--from", "LEAD", "--to", "QUALIFIED")
	require.NoError(t, err)
	assert.Contains(t, out, "LEAD -> QUALIFIED: allowed")

	out, err = run(t, "stage", "check", "--from", "LEAD", "--to", "DISCOVERY")
	assert.ErrorIs(t, err, errTransitionRefused)
	assert.Contains(t, out, "blocked")
	assert.Contains(t, out, "skipped: QUALIFIED")

	out, err = run(t, "stage", "check", "--from", "lead", "--to", "discovery", "--override", "--json")
	require.NoError(t, err)
	var d struct {
		Verdict    string `json:"Verdict"`
		Escalation *struct {
			Level string `json:"Level"`
		} `json:"Escalation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "allowed_with_escalation", d.Verdict)
	require.NotNil(t, d.Escalation)
	assert.Equal(t, "L2", d.Escalation.Level)
}

func TestStageCheckFromProject(t *testing.T) {
	dbPath, projectID, _ := seed(t)

	out, err := run(t, "--db", dbPath, "stage", "check", "--project", projectID, "--to", "QUALIFIED")
	require.NoError(t, err)
	assert.Contains(t, out, "LEAD -> QUALIFIED")

	_, err = run(t, "--db", dbPath, "stage", "check", "--project", "missing", "--to", "QUALIFIED")
	assert.Error(t, err)
}

func TestStageCheckRequiresCurrentStage(t *testing.T) {
	_, err := run(t, "stage", "check", "--to", "QUALIFIED")
	assert.Error(t, err)
}

func TestEscalationsListAndResolve(t *testing.T) {
	dbPath, projectID, escID := seed(t)

	out, err := run(t, "--db", dbPath, "--json", "escalations", "list", "--status", "open")
	require.NoError(t, err)
	var escs []models.Escalation
	require.NoError(t, json.Unmarshal([]byte(out), &escs))
	require.Len(t, escs, 1)
	assert.Equal(t, escID, escs[0].ID)

	out, err = run(t, "--db", dbPath, "--actor", "dana", "escalations", "resolve", escID,
		"--notes", "paid in full", "--unpause")
	require.NoError(t, err)
	assert.Contains(t, out, "is RESOLVED")
	assert.Contains(t, out, "Project "+projectID+" is ACTIVE")

	out, err = run(t, "--db", dbPath, "esc", "list", "--status", "OPEN")
	require.NoError(t, err)
	assert.Contains(t, out, "No escalations.")

	_, err = run(t, "--db", dbPath, "escalations", "resolve", escID)
	assert.Error(t, err, "closing twice is rejected")
}

func TestAuditListEmpty(t *testing.T) {
	dbPath, _, _ := seed(t)

	out, err := run(t, "--db", dbPath, "audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No audit entries.")

	out, err = run(t, "--db", dbPath, "--json", "audit", "list")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "token", "issue", "--subject", "dana")
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "cli-secret")
	out, err := run(t, "token", "issue", "--subject", "dana", "--role", "admin")
	require.NoError(t, err)
	assert.Regexp(t, `^[\w-]+\.[\w-]+\.[\w-]+\n$`, out)

	_, err = run(t, "token", "issue", "--subject", "dana", "--role", "root")
	assert.Error(t, err)
}

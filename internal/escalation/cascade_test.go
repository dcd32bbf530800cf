package escalation_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/stage"
	"github.com/p-blackswan/opsdesk/internal/store"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	cascade *escalation.Cascade
	project *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "esc.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p := &models.Project{
		ClientEmail: "ceo@acme.test",
		ClientName:  "Acme",
		Tier:        models.Tier2,
		Stage:       models.StageDiscovery,
		Status:      models.ProjectActive,
	}
	require.NoError(t, s.InTx(context.Background(), func(tx *store.Tx) error {
		return tx.InsertProject(context.Background(), p)
	}))

	return &fixture{
		store:   s,
		cascade: escalation.New(zerolog.Nop()).WithClock(func() time.Time { return fixedNow }),
		project: p,
	}
}

func (f *fixture) open(t *testing.T, in escalation.Input) (*escalation.Outcome, error) {
	t.Helper()
	var out *escalation.Outcome
	err := f.store.InTx(context.Background(), func(tx *store.Tx) (err error) {
		out, err = f.cascade.Open(context.Background(), tx, in)
		return err
	})
	return out, err
}

func (f *fixture) close(t *testing.T, in escalation.CloseInput) (*escalation.Outcome, error) {
	t.Helper()
	var out *escalation.Outcome
	err := f.store.InTx(context.Background(), func(tx *store.Tx) (err error) {
		out, err = f.cascade.Close(context.Background(), tx, in)
		return err
	})
	return out, err
}

func (f *fixture) reload(t *testing.T) *models.Project {
	t.Helper()
	var p *models.Project
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) (err error) {
		p, err = tx.GetProject(context.Background(), f.project.ID)
		return err
	}))
	return p
}

func (f *fixture) notes(t *testing.T) []models.ProjectNote {
	t.Helper()
	var notes []models.ProjectNote
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) (err error) {
		notes, err = tx.ListNotes(context.Background(), f.project.ID, 0)
		return err
	}))
	return notes
}

func eventTypes(evs []event.Event) []event.Type {
	out := make([]event.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestOpen_L3PausesProject(t *testing.T) {
	f := newFixture(t)
	out, err := f.open(t, escalation.Input{
		ProjectID: f.project.ID,
		Level:     models.LevelL3,
		Category:  models.CategoryPayment,
		Title:     "Client disputes invoice",
		CreatedBy: "ops",
	})
	require.NoError(t, err)

	assert.Equal(t, models.EscalationOpen, out.Escalation.Status)
	assert.True(t, out.ProjectChanged)
	assert.Equal(t, []event.Type{event.EscalationCreated, event.ProjectUpdated}, eventTypes(out.Events))

	var upd escalation.ProjectUpdate
	require.NoError(t, json.Unmarshal(out.Events[1].Data, &upd))
	assert.Equal(t, models.ProjectPaused, upd.Project.Status)
	assert.Contains(t, upd.Reason, "Client disputes invoice")

	p := f.reload(t)
	assert.Equal(t, models.ProjectPaused, p.Status)
	assert.Contains(t, p.PauseReason, "L3")

	notes := f.notes(t)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NoteStatusChange, notes[0].Type)
}

func TestOpen_L3OnPausedProjectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	in := escalation.Input{ProjectID: f.project.ID, Level: models.LevelL3, Category: models.CategoryTechnical, Title: "Outage"}

	_, err := f.open(t, in)
	require.NoError(t, err)

	in.Title = "Second outage"
	out, err := f.open(t, in)
	require.NoError(t, err)
	assert.False(t, out.ProjectChanged)
	assert.Equal(t, []event.Type{event.EscalationCreated}, eventTypes(out.Events))
	assert.Len(t, f.notes(t), 1)
	assert.Contains(t, f.reload(t).PauseReason, "Outage")
}

func TestOpen_LowerLevelsDoNotPause(t *testing.T) {
	f := newFixture(t)
	for _, lvl := range []models.EscalationLevel{models.LevelL1, models.LevelL2} {
		out, err := f.open(t, escalation.Input{ProjectID: f.project.ID, Level: lvl, Category: models.CategoryQuality, Title: "Typo in deliverable"})
		require.NoError(t, err)
		assert.False(t, out.ProjectChanged)
	}
	assert.Equal(t, models.ProjectActive, f.reload(t).Status)
}

func TestOpen_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []escalation.Input{
		{ProjectID: f.project.ID, Level: "L4", Category: models.CategoryScope, Title: "x"},
		{ProjectID: f.project.ID, Level: models.LevelL1, Category: "LEGAL", Title: "x"},
		{ProjectID: f.project.ID, Level: models.LevelL1, Category: models.CategoryScope, Title: "   "},
	}
	for _, in := range cases {
		_, err := f.open(t, in)
		assert.ErrorIs(t, err, operrors.ErrValidation)
	}

	_, err := f.open(t, escalation.Input{ProjectID: "missing", Level: models.LevelL1, Category: models.CategoryScope, Title: "x"})
	assert.ErrorIs(t, err, operrors.ErrNotFound)
}

func TestOpen_WithoutProject(t *testing.T) {
	f := newFixture(t)
	out, err := f.open(t, escalation.Input{Level: models.LevelL3, Category: models.CategoryScope, Title: "Orphan approval issue"})
	require.NoError(t, err)
	assert.Empty(t, out.Escalation.ProjectID)
	assert.Nil(t, out.Project)
	assert.False(t, out.ProjectChanged)
}

func TestStageSkip(t *testing.T) {
	f := newFixture(t)
	d := stage.Check(stage.Request{From: models.StageDiscovery, To: models.StageClosed, Override: true})
	require.Equal(t, stage.AllowedWithEscalation, d.Verdict)

	var out *escalation.Outcome
	require.NoError(t, f.store.InTx(context.Background(), func(tx *store.Tx) (err error) {
		out, err = f.cascade.StageSkip(context.Background(), tx, f.project, d.Escalation, "client signed early", "dana")
		return err
	}))

	e := out.Escalation
	assert.Equal(t, models.LevelL2, e.Level)
	assert.Equal(t, models.CategoryScope, e.Category)
	assert.Contains(t, e.Description, "DISCOVERY")
	assert.Contains(t, e.Description, "CLOSED")
	assert.Contains(t, e.Description, "client signed early")
	assert.Equal(t, "dana", e.CreatedBy)
	assert.False(t, out.ProjectChanged)
}

func TestClose_L3ResolveWithUnpause(t *testing.T) {
	f := newFixture(t)
	opened, err := f.open(t, escalation.Input{ProjectID: f.project.ID, Level: models.LevelL3, Category: models.CategoryPayment, Title: "Invoice"})
	require.NoError(t, err)

	out, err := f.close(t, escalation.CloseInput{
		ID:       opened.Escalation.ID,
		Status:   models.EscalationResolved,
		Notes:    "Paid in full",
		Resolver: "ops-lead",
		Unpause:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EscalationResolved, out.Escalation.Status)
	require.NotNil(t, out.Escalation.ResolvedAt)
	assert.Equal(t, fixedNow, *out.Escalation.ResolvedAt)
	assert.True(t, out.ProjectChanged)
	assert.Equal(t, []event.Type{event.EscalationResolved, event.ProjectUpdated}, eventTypes(out.Events))

	p := f.reload(t)
	assert.Equal(t, models.ProjectActive, p.Status)
	assert.Empty(t, p.PauseReason)
}

func TestClose_ResolveWithoutUnpauseKeepsPause(t *testing.T) {
	f := newFixture(t)
	opened, err := f.open(t, escalation.Input{ProjectID: f.project.ID, Level: models.LevelL3, Category: models.CategoryPayment, Title: "Invoice"})
	require.NoError(t, err)

	out, err := f.close(t, escalation.CloseInput{ID: opened.Escalation.ID, Status: models.EscalationResolved, Notes: "Partially paid"})
	require.NoError(t, err)
	assert.False(t, out.ProjectChanged)
	assert.Equal(t, []event.Type{event.EscalationResolved}, eventTypes(out.Events))
	assert.Equal(t, models.ProjectPaused, f.reload(t).Status)
}

func TestClose_HaltIgnoresUnpause(t *testing.T) {
	f := newFixture(t)
	opened, err := f.open(t, escalation.Input{ProjectID: f.project.ID, Level: models.LevelL3, Category: models.CategoryRelationship, Title: "Client unhappy"})
	require.NoError(t, err)

	out, err := f.close(t, escalation.CloseInput{ID: opened.Escalation.ID, Status: models.EscalationHalted, Notes: "Engagement stopped", Unpause: true})
	require.NoError(t, err)
	assert.False(t, out.ProjectChanged)
	assert.Equal(t, models.ProjectPaused, f.reload(t).Status)
}

func TestClose_NotesRequiredForL2L3(t *testing.T) {
	f := newFixture(t)
	opened, err := f.open(t, escalation.Input{ProjectID: f.project.ID, Level: models.LevelL2, Category: models.CategoryTimeline, Title: "Slipping"})
	require.NoError(t, err)

	_, err = f.close(t, escalation.CloseInput{ID: opened.Escalation.ID, Status: models.EscalationResolved, Notes: "  "})
	require.ErrorIs(t, err, operrors.ErrValidation)
	assert.Equal(t, "Decision notes are required when resolving L2/L3 escalations", operrors.Reason(err))

	// Nothing changed, so a proper resolution still works.
	_, err = f.close(t, escalation.CloseInput{ID: opened.Escalation.ID, Status: models.EscalationResolved, Notes: "Re-planned"})
	assert.NoError(t, err)
}

func TestClose_L1WithoutNotes(t *testing.T) {
	f := newFixture(t)
	opened, err := f.open(t, escalation.Input{ProjectID: f.project.ID, Level: models.LevelL1, Category: models.CategoryQuality, Title: "Minor"})
	require.NoError(t, err)

	out, err := f.close(t, escalation.CloseInput{ID: opened.Escalation.ID, Status: models.EscalationHalted})
	require.NoError(t, err)
	assert.Equal(t, models.EscalationHalted, out.Escalation.Status)
}

func TestClose_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	opened, err := f.open(t, escalation.Input{ProjectID: f.project.ID, Level: models.LevelL1, Category: models.CategoryQuality, Title: "Minor"})
	require.NoError(t, err)

	_, err = f.close(t, escalation.CloseInput{ID: opened.Escalation.ID, Status: models.EscalationResolved})
	require.NoError(t, err)

	_, err = f.close(t, escalation.CloseInput{ID: opened.Escalation.ID, Status: models.EscalationHalted})
	require.ErrorIs(t, err, operrors.ErrConflict)
	assert.Equal(t, "Escalation is already resolved or halted", operrors.Reason(err))
}

func TestClose_BadStatusAndMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.close(t, escalation.CloseInput{ID: "x", Status: models.EscalationOpen})
	assert.ErrorIs(t, err, operrors.ErrValidation)

	_, err = f.close(t, escalation.CloseInput{ID: "missing", Status: models.EscalationResolved})
	assert.ErrorIs(t, err, operrors.ErrNotFound)
}

// racingRepo reports the compare-and-swap as lost, as if another resolver
// committed between the read and the write.
type racingRepo struct {
	escalation.Repo
	esc *models.Escalation
}

func (r racingRepo) GetEscalation(context.Context, string) (*models.Escalation, error) {
	cp := *r.esc
	return &cp, nil
}

func (r racingRepo) CloseEscalation(context.Context, *models.Escalation) (bool, error) {
	return false, nil
}

func TestClose_LostRaceIsConflict(t *testing.T) {
	c := escalation.New(zerolog.Nop())
	repo := racingRepo{esc: &models.Escalation{ID: "e1", Level: models.LevelL1, Status: models.EscalationOpen}}
	_, err := c.Close(context.Background(), repo, escalation.CloseInput{ID: "e1", Status: models.EscalationResolved})
	assert.ErrorIs(t, err, operrors.ErrConflict)
}

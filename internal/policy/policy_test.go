package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/policy"
)

type fakeHistory struct {
	rejections int
	err        error
	calls      int
}

func (f *fakeHistory) CountRejections(_ context.Context, _ string, _ models.CheckpointType) (int, error) {
	f.calls++
	return f.rejections, f.err
}

func newEngine() *policy.Engine {
	return policy.NewEngine(policy.DefaultConfig(), zerolog.Nop())
}

func pending(cp models.CheckpointType) *models.Approval {
	return &models.Approval{
		ID:             "appr-1",
		ClientEmail:    "ceo@acme.test",
		AgentKey:       "proposal-writer",
		CheckpointType: cp,
		Status:         models.ApprovalPending,
	}
}

func TestEvaluate_AlreadyResolved(t *testing.T) {
	e := newEngine()
	for _, st := range []models.ApprovalStatus{models.ApprovalApproved, models.ApprovalRejected, models.ApprovalEdited} {
		a := pending(models.CheckpointQualityCheck)
		a.Status = st
		res, err := e.Evaluate(context.Background(), &fakeHistory{}, a, policy.Action{Status: models.ApprovalApproved})
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Contains(t, res.Reason, "already resolved")
		assert.Nil(t, res.AutoEscalation)
	}
}

func TestEvaluate_UnknownStatus(t *testing.T) {
	_, err := newEngine().Evaluate(context.Background(), nil, pending(models.CheckpointQualityCheck), policy.Action{Status: models.ApprovalPending})
	require.Error(t, err)
	assert.Equal(t, "validation", operrors.Kind(err))
	assert.Contains(t, operrors.Reason(err), "pending")

	assert.Error(t, policy.ValidateAction(policy.Action{}))
	assert.NoError(t, policy.ValidateAction(policy.Action{Status: models.ApprovalEdited}))
}

func TestEvaluate_EditedNeedsPayload(t *testing.T) {
	e := newEngine()
	res, err := e.Evaluate(context.Background(), nil, pending(models.CheckpointDiscoverySummary), policy.Action{Status: models.ApprovalEdited, EditedResponse: []byte("  ")})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "edited response")

	res, err = e.Evaluate(context.Background(), nil, pending(models.CheckpointDiscoverySummary), policy.Action{Status: models.ApprovalEdited, EditedResponse: []byte(`{"summary":"tightened"}`)})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEvaluate_RejectProposalWithoutRationale(t *testing.T) {
	res, err := newEngine().Evaluate(context.Background(), nil, pending(models.CheckpointProposalReview), policy.Action{Status: models.ApprovalRejected, Reviewer: "dana"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "rationale")
	require.NotNil(t, res.AutoEscalation)
	assert.Equal(t, models.LevelL1, res.AutoEscalation.Level)
	assert.Equal(t, models.CategoryScope, res.AutoEscalation.Category)
	assert.Contains(t, res.AutoEscalation.Description, "dana")
}

func TestEvaluate_RejectProposalWithRationale(t *testing.T) {
	res, err := newEngine().Evaluate(context.Background(), nil, pending(models.CheckpointProposalReview),
		policy.Action{Status: models.ApprovalRejected, Comments: "pricing misaligned with budget"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Nil(t, res.AutoEscalation)
}

func TestEvaluate_RejectInternalCheckpointWithoutComments(t *testing.T) {
	res, err := newEngine().Evaluate(context.Background(), nil, pending(models.CheckpointQualityCheck), policy.Action{Status: models.ApprovalRejected})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEvaluate_RepeatedRejectionsEscalate(t *testing.T) {
	h := &fakeHistory{rejections: 2}
	res, err := newEngine().Evaluate(context.Background(), h, pending(models.CheckpointProposalReview), policy.Action{Status: models.ApprovalApproved})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	require.NotNil(t, res.AutoEscalation)
	assert.Equal(t, models.LevelL2, res.AutoEscalation.Level)
	assert.Equal(t, models.CategoryRelationship, res.AutoEscalation.Category)
	assert.Equal(t, 1, h.calls)
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	res, err := newEngine().Evaluate(context.Background(), &fakeHistory{rejections: 1}, pending(models.CheckpointProposalReview), policy.Action{Status: models.ApprovalApproved})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Nil(t, res.AutoEscalation)
}

func TestEvaluate_HistoryError(t *testing.T) {
	_, err := newEngine().Evaluate(context.Background(), &fakeHistory{err: errors.New("db gone")}, pending(models.CheckpointTierExecution), policy.Action{Status: models.ApprovalApproved})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestLoadConfigBytes(t *testing.T) {
	t.Setenv("OPSDESK_REPEAT", "3")
	cfg, err := policy.LoadConfigBytes([]byte(`
repeat_rejection_threshold: ${OPSDESK_REPEAT}
rationale_required: [proposal_review, discovery_summary]
repeat_escalation_level: L3
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RepeatRejectionThreshold)
	assert.Equal(t, []models.CheckpointType{models.CheckpointProposalReview, models.CheckpointDiscoverySummary}, cfg.RationaleRequired)
	assert.Equal(t, models.LevelL3, cfg.RepeatEscalationLevel)
	assert.Equal(t, models.LevelL1, cfg.RationaleEscalationLevel)
}

func TestLoadConfigBytes_Invalid(t *testing.T) {
	_, err := policy.LoadConfigBytes([]byte("repeat_rejection_threshold: 0\n"))
	assert.Error(t, err)

	_, err = policy.LoadConfigBytes([]byte("rationale_required: [contract_review]\n"))
	assert.Error(t, err)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := policy.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultConfig(), cfg)

	cfg, err = policy.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.RepeatRejectionThreshold)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repeat_rejection_threshold: 4\n"), 0o600))
	cfg, err := policy.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.RepeatRejectionThreshold)
}

func TestEngine_CustomThreshold(t *testing.T) {
	cfg := policy.DefaultConfig()
	cfg.RepeatRejectionThreshold = 5
	e := policy.NewEngine(cfg, zerolog.Nop())
	res, err := e.Evaluate(context.Background(), &fakeHistory{rejections: 4}, pending(models.CheckpointProposalReview), policy.Action{Status: models.ApprovalApproved})
	require.NoError(t, err)
	assert.Nil(t, res.AutoEscalation)
}

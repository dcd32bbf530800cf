package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/opsdesk/internal/models"
)

func TestCheck_AdjacentForwardAllowed(t *testing.T) {
	stages := models.Stages()
	for i := 0; i < len(stages)-1; i++ {
		for _, override := range []bool{false, true} {
			d := Check(Request{From: stages[i], To: stages[i+1], Override: override, Rationale: "fit confirmed"})
			assert.Equal(t, Allowed, d.Verdict, "%s -> %s", stages[i], stages[i+1])
			assert.Nil(t, d.Escalation)
			assert.True(t, d.Proceeds())
		}
	}
}

func TestCheck_ForwardSkipBlockedWithoutOverride(t *testing.T) {
	stages := models.Stages()
	for i := range stages {
		for j := i + 2; j < len(stages); j++ {
			d := Check(Request{From: stages[i], To: stages[j], Rationale: "x"})
			assert.Equal(t, Blocked, d.Verdict, "%s -> %s", stages[i], stages[j])
			assert.False(t, d.Proceeds())
			assert.Nil(t, d.Escalation)
			assert.Len(t, d.Skipped, j-i-1)
		}
	}
}

func TestCheck_ForwardSkipWithOverrideEscalates(t *testing.T) {
	stages := models.Stages()
	for i := range stages {
		for j := i + 2; j < len(stages); j++ {
			d := Check(Request{From: stages[i], To: stages[j], Override: true})
			require.Equal(t, AllowedWithEscalation, d.Verdict, "%s -> %s", stages[i], stages[j])
			require.NotNil(t, d.Escalation)
			assert.Equal(t, models.LevelL2, d.Escalation.Level)
			assert.Equal(t, models.CategoryScope, d.Escalation.Category)
			assert.Contains(t, d.Escalation.Description, string(stages[i]))
			assert.Contains(t, d.Escalation.Description, string(stages[j]))
		}
	}
}

func TestCheck_DiscoveryToProposalOverride(t *testing.T) {
	d := Check(Request{From: models.StageDiscovery, To: models.StageProposal, Override: true})
	require.Equal(t, AllowedWithEscalation, d.Verdict)
	assert.Equal(t, []models.Stage{models.StageFitDecision}, d.Skipped)
	assert.Contains(t, d.Escalation.Description, "FIT_DECISION")
}

func TestCheck_FitDecisionCheckpoint(t *testing.T) {
	for _, override := range []bool{false, true} {
		for _, rationale := range []string{"", "   "} {
			d := Check(Request{From: models.StageFitDecision, To: models.StageProposal, Override: override, Rationale: rationale})
			assert.Equal(t, RejectedCheckpoint, d.Verdict)
			assert.Contains(t, d.Reason, "rationale")
			assert.False(t, d.Proceeds())
		}
	}

	d := Check(Request{From: models.StageFitDecision, To: models.StageProposal, Rationale: "budget and scope fit"})
	assert.Equal(t, Allowed, d.Verdict)
}

func TestCheck_Backward(t *testing.T) {
	d := Check(Request{From: models.StageProposal, To: models.StageDiscovery})
	assert.Equal(t, Blocked, d.Verdict)
	assert.Contains(t, d.Reason, "override")

	d = Check(Request{From: models.StageProposal, To: models.StageDiscovery, Override: true})
	assert.Equal(t, Allowed, d.Verdict)
	assert.Nil(t, d.Escalation)
}

func TestCheck_SameStageNoOp(t *testing.T) {
	d := Check(Request{From: models.StageDelivery, To: models.StageDelivery})
	assert.Equal(t, NoOp, d.Verdict)
	assert.False(t, d.Proceeds())
}

func TestCheck_UnknownStages(t *testing.T) {
	d := Check(Request{From: "NEGOTIATION", To: models.StageProposal, Override: true})
	assert.Equal(t, Blocked, d.Verdict)
	assert.Contains(t, d.Reason, "NEGOTIATION")

	d = Check(Request{From: models.StageLead, To: "", Override: true})
	assert.Equal(t, Blocked, d.Verdict)
}

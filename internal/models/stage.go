package models

import "strings"

// Stage is one of the nine ordered pipeline phases a project passes through.
type Stage string

const (
	StageLead        Stage = "LEAD"
	StageQualified   Stage = "QUALIFIED"
	StageDiscovery   Stage = "DISCOVERY"
	StageFitDecision Stage = "FIT_DECISION"
	StageProposal    Stage = "PROPOSAL"
	StageClosed      Stage = "CLOSED"
	StageOnboarding  Stage = "ONBOARDING"
	StageDelivery    Stage = "DELIVERY"
	StageComplete    Stage = "COMPLETE"
)

var pipeline = []Stage{
	StageLead,
	StageQualified,
	StageDiscovery,
	StageFitDecision,
	StageProposal,
	StageClosed,
	StageOnboarding,
	StageDelivery,
	StageComplete,
}

// Stages returns the pipeline in order.
func Stages() []Stage {
	out := make([]Stage, len(pipeline))
	copy(out, pipeline)
	return out
}

// Index returns the position of s in the pipeline, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range pipeline {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.Index() >= 0 }

// Next returns the stage immediately after s. ok is false for COMPLETE and
// unknown stages.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i == len(pipeline)-1 {
		return "", false
	}
	return pipeline[i+1], true
}

// Between returns the stages strictly between from and to, in pipeline order.
// Empty when to does not lie ahead of from.
func Between(from, to Stage) []Stage {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 || j <= i+1 {
		return nil
	}
	out := make([]Stage, 0, j-i-1)
	out = append(out, pipeline[i+1:j]...)
	return out
}

// ParseStage accepts any casing and "-" or " " separators.
func ParseStage(raw string) (Stage, bool) {
	s := Stage(strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(raw))))
	return s, s.Valid()
}

package workflow

import (
	"context"

	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/store"
)

// CreateEscalation opens a human-raised escalation.
func (s *Service) CreateEscalation(ctx context.Context, in escalation.Input) (*escalation.Outcome, error) {
	var out *escalation.Outcome
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = s.cascade.Open(ctx, tx, in)
		return err
	})
	if err != nil {
		s.recordError("escalation", err)
		return nil, err
	}
	s.publish(out.Events)
	s.notify(ctx, []*escalation.Outcome{out})
	return out, nil
}

// ResolveEscalation resolves or halts an OPEN escalation, resuming its
// project when asked to and the escalation allows it.
func (s *Service) ResolveEscalation(ctx context.Context, in escalation.CloseInput) (*escalation.Outcome, error) {
	var out *escalation.Outcome
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = s.cascade.Close(ctx, tx, in)
		return err
	})
	if err != nil {
		s.recordError("escalation", err)
		return nil, err
	}
	s.publish(out.Events)
	if s.metrics != nil {
		s.metrics.RecordEscalationClosed(string(out.Escalation.Level), string(out.Escalation.Status))
	}
	return out, nil
}

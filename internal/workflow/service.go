// Package workflow runs every decision as one transaction: re-read current
// state, consult the guard or policy engine, mutate, audit, then publish
// events and notify humans once the transaction has committed.
package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/metrics"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/policy"
	"github.com/p-blackswan/opsdesk/internal/store"
	"github.com/p-blackswan/opsdesk/internal/trigger"
)

// Agents fires outbound agent webhooks. *trigger.Client satisfies it.
type Agents interface {
	Configured(agentKey string) bool
	Fire(ctx context.Context, agentKey string, payload []byte) (trigger.Delivery, error)
}

// Deps are the collaborators of a Service. Store, Engine and Events are
// required; the rest may be nil.
type Deps struct {
	Store    *store.Store
	Engine   *policy.Engine
	Cascade  *escalation.Cascade
	Events   event.Publisher
	Notifier escalation.Notifier
	Agents   Agents
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Service is the orchestration layer between transports and the core.
type Service struct {
	store    *store.Store
	engine   *policy.Engine
	cascade  *escalation.Cascade
	events   event.Publisher
	notifier escalation.Notifier
	agents   Agents
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	clock    func() time.Time
}

// New builds a Service.
func New(d Deps) *Service {
	cascade := d.Cascade
	if cascade == nil {
		cascade = escalation.New(d.Logger)
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = escalation.NewLogNotifier(d.Logger)
	}
	return &Service{
		store:    d.Store,
		engine:   d.Engine,
		cascade:  cascade,
		events:   d.Events,
		notifier: notifier,
		agents:   d.Agents,
		metrics:  d.Metrics,
		logger:   d.Logger.With().Str("component", "workflow").Logger(),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) publish(events []event.Event) {
	if s.events == nil {
		return
	}
	event.PublishAll(s.events, events)
}

// notify tells humans about escalations opened by a committed transaction.
// Failures are logged only.
func (s *Service) notify(ctx context.Context, opened []*escalation.Outcome) {
	for _, out := range opened {
		if out == nil || out.Escalation == nil {
			continue
		}
		n := escalation.Notice{Escalation: *out.Escalation}
		if out.Project != nil {
			n.ClientName = out.Project.ClientName
		}

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err := s.notifier.Notify(nctx, n)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("escalation_id", out.Escalation.ID).Msg("escalation notice failed")
			s.recordError("notifier", err)
		}
		if s.metrics != nil {
			s.metrics.RecordEscalationOpened(string(out.Escalation.Level), string(out.Escalation.Category))
		}
	}
}

func (s *Service) recordError(module string, err error) {
	if s.metrics != nil {
		s.metrics.RecordError(module, operrors.Kind(err))
	}
}

// projectForClient returns the client's project, or nil when there is none.
func projectForClient(ctx context.Context, tx *store.Tx, email string) (*models.Project, error) {
	p, err := tx.GetProjectByEmail(ctx, email)
	if operrors.Kind(err) == "not_found" {
		return nil, nil
	}
	return p, err
}

func projectID(p *models.Project) string {
	if p == nil {
		return ""
	}
	return p.ID
}

package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/retry"
)

// Notice is what humans are told about a newly opened escalation.
type Notice struct {
	Escalation models.Escalation
	ClientName string
}

// Notifier tells a human that an escalation needs judgment. Delivery failures
// are reported to the caller, which logs them; they never undo the escalation.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// MultiNotifier fans out to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(ns ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: ns}
}

func (m *MultiNotifier) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier logs escalations (useful for testing/dev).
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "escalation_notifier").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, n Notice) error {
	e := n.Escalation
	l.logger.Warn().
		Str("escalation_id", e.ID).
		Str("level", string(e.Level)).
		Str("category", string(e.Category)).
		Str("project_id", e.ProjectID).
		Str("client", n.ClientName).
		Str("title", e.Title).
		Msg("escalation opened")
	return nil
}

// SlackPoster is the slice of the Slack client the notifier uses.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts escalations to a Slack channel. Rate-limit and 5xx
// responses are retried with backoff within the caller's deadline.
type SlackNotifier struct {
	client  SlackPoster
	channel string
	retry   retry.Config
	logger  zerolog.Logger
}

// NewSlackNotifier creates a notifier posting to channel.
func NewSlackNotifier(client SlackPoster, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  client,
		channel: channel,
		retry:   retry.DefaultConfig(),
		logger:  logger.With().Str("component", "escalation_slack").Logger(),
	}
}

// WithRetry overrides the retry policy.
func (s *SlackNotifier) WithRetry(cfg retry.Config) *SlackNotifier {
	s.retry = cfg
	return s
}

// Notify posts a Block Kit message describing the escalation.
func (s *SlackNotifier) Notify(ctx context.Context, n Notice) error {
	var ts string
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		_, ts, err = s.client.PostMessageContext(ctx, s.channel,
			slack.MsgOptionText(Summary(n), false),
			slack.MsgOptionBlocks(Blocks(n)...),
		)
		if err != nil && retry.IsRetryable(err) {
			s.logger.Debug().Err(err).Str("escalation_id", n.Escalation.ID).Msg("slack post rejected with retryable error")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("slack escalation notice: %w", err)
	}
	s.logger.Debug().Str("escalation_id", n.Escalation.ID).Str("ts", ts).Msg("escalation posted")
	return nil
}

// Summary is the one-line fallback text for a notice.
func Summary(n Notice) string {
	e := n.Escalation
	s := fmt.Sprintf("%s %s %s escalation: %s", levelEmoji(e.Level), e.Level, e.Category, e.Title)
	if n.ClientName != "" {
		s += " (" + n.ClientName + ")"
	}
	return s
}

// Blocks renders a notice as Slack blocks.
func Blocks(n Notice) []slack.Block {
	e := n.Escalation
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*", Summary(n)), false, false),
			nil, nil,
		),
	}
	if e.Description != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", e.Description, false, false),
			nil, nil,
		))
	}

	ctxText := fmt.Sprintf("Escalation `%s`", e.ID)
	if e.CreatedBy != "" {
		ctxText += " raised by " + e.CreatedBy
	}
	if e.Level.PausesProject() && e.ProjectID != "" {
		ctxText += " · project paused"
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", ctxText, false, false),
	))
	return blocks
}

func levelEmoji(l models.EscalationLevel) string {
	switch l {
	case models.LevelL3:
		return "🚨"
	case models.LevelL2:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

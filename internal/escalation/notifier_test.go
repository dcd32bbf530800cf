package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/retry"
)

type mockSlack struct {
	channel string
	options int
	calls   int
	err     error

	// failFirst makes the first n calls fail with a rate limit.
	failFirst int
}

func (m *mockSlack) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	m.calls++
	m.channel = channelID
	m.options = len(options)
	if m.calls <= m.failFirst {
		return "", "", &slack.RateLimitedError{RetryAfter: time.Millisecond}
	}
	return channelID, "1700000000.000100", m.err
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notice) error {
	c.calls++
	return c.err
}

func sampleNotice() Notice {
	return Notice{
		Escalation: models.Escalation{
			ID:          "esc-1",
			ProjectID:   "proj-1",
			Level:       models.LevelL3,
			Category:    models.CategoryPayment,
			Title:       "Invoice disputed",
			Description: "Client disputes the second milestone.",
			CreatedBy:   "ops",
		},
		ClientName: "Acme",
	}
}

func TestLogNotifier_Notify(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), sampleNotice()))
}

func TestMultiNotifier_AllCalled(t *testing.T) {
	failing := &countingNotifier{err: errors.New("slack down")}
	ok := &countingNotifier{}

	err := NewMultiNotifier(failing, ok).Notify(context.Background(), sampleNotice())
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	assert.NoError(t, NewMultiNotifier(ok).Notify(context.Background(), sampleNotice()))
}

func TestSlackNotifier_Posts(t *testing.T) {
	m := &mockSlack{}
	n := NewSlackNotifier(m, "C0ESCALATE", zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), sampleNotice()))
	assert.Equal(t, "C0ESCALATE", m.channel)
	assert.Equal(t, 2, m.options)
}

func TestSlackNotifier_Error(t *testing.T) {
	m := &mockSlack{err: errors.New("channel_not_found")}
	err := NewSlackNotifier(m, "C0", zerolog.Nop()).Notify(context.Background(), sampleNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Equal(t, 1, m.calls, "permanent errors are not retried")
}

func TestSlackNotifier_RetriesRateLimit(t *testing.T) {
	fast := retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	m := &mockSlack{failFirst: 2}
	n := NewSlackNotifier(m, "C0", zerolog.Nop()).WithRetry(fast)
	require.NoError(t, n.Notify(context.Background(), sampleNotice()))
	assert.Equal(t, 3, m.calls)

	m = &mockSlack{failFirst: 5}
	err := NewSlackNotifier(m, "C0", zerolog.Nop()).WithRetry(fast).Notify(context.Background(), sampleNotice())
	require.Error(t, err)
	assert.Equal(t, 3, m.calls)
}

func TestSummaryAndBlocks(t *testing.T) {
	n := sampleNotice()
	s := Summary(n)
	assert.Contains(t, s, "L3 PAYMENT escalation: Invoice disputed")
	assert.Contains(t, s, "(Acme)")

	blocks := Blocks(n)
	require.Len(t, blocks, 3)
	assert.Equal(t, slack.MBTSection, blocks[0].BlockType())
	assert.Equal(t, slack.MBTContext, blocks[2].BlockType())

	n.Escalation.Description = ""
	assert.Len(t, Blocks(n), 2)
}

func TestLevelEmoji(t *testing.T) {
	assert.Equal(t, "🚨", levelEmoji(models.LevelL3))
	assert.Equal(t, "⚠️", levelEmoji(models.LevelL2))
	assert.Equal(t, "ℹ️", levelEmoji(models.LevelL1))
}

package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(RateLimitConfig{RPS: 2, Burst: 2})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "buckets are per client")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
}

func TestRateLimiter_ForgetsClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1, MaxClients: 2})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	rl.allow("b")
	rl.allow("c")
	assert.Equal(t, 2, rl.clients.Len())
	assert.True(t, rl.allow("a"), "evicted client starts over")

	now = now.Add(bucketIdleTTL + time.Second)
	rl.allow("d")
	assert.LessOrEqual(t, rl.clients.Len(), 2)
}

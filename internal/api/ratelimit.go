package api

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/opsdesk/internal/lru"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS        int // requests per second
	Burst      int // burst size
	MaxClients int // tracked client buckets; least recently seen are forgotten first
}

const (
	defaultMaxClients = 10000
	bucketIdleTTL     = 10 * time.Minute
)

type rateLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache[string, *tokenBucket]
	rps     int
	burst   int
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = cfg.RPS
	}
	maxClients := cfg.MaxClients
	if maxClients < 1 {
		maxClients = defaultMaxClients
	}
	rl := &rateLimiter{
		rps:   cfg.RPS,
		burst: burst,
		now:   time.Now,
	}
	rl.clients = lru.New[string, *tokenBucket](maxClients).
		WithIdleTTL(bucketIdleTTL).
		WithClock(func() time.Time { return rl.now() })
	return rl
}

// allow takes a token for client. A forgotten client starts with a full
// bucket.
func (rl *rateLimiter) allow(client string) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.clients.Get(client)
	if !ok {
		bucket = newTokenBucket(rl.rps, rl.burst, now)
		rl.clients.Put(client, bucket)
	}
	return bucket.allow(now)
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	rl := newRateLimiter(cfg)
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		if !rl.allow(c.IP()) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(1))
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}

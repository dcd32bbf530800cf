// Package trigger calls agent webhooks. Each call is a single attempt with a
// bounded timeout; callers record the outcome and never retry automatically.
package trigger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	operrors "github.com/p-blackswan/opsdesk/internal/errors"
)

// DefaultTimeout bounds a single agent call.
const DefaultTimeout = 15 * time.Second

// Delivery is a successful call.
type Delivery struct {
	StatusCode int
	Duration   time.Duration
}

// Client posts trigger payloads to per-agent webhook URLs.
type Client struct {
	client *http.Client
	urls   map[string]string
	secret string
	logger zerolog.Logger
}

// New creates a client. A non-positive timeout uses DefaultTimeout.
func New(urls map[string]string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cp := make(map[string]string, len(urls))
	for k, v := range urls {
		cp[k] = v
	}
	return &Client{
		client: &http.Client{Timeout: timeout},
		urls:   cp,
		logger: logger.With().Str("component", "trigger").Logger(),
	}
}

// WithSecret sends secret in the X-Webhook-Secret header of every call.
func (c *Client) WithSecret(secret string) *Client {
	c.secret = secret
	return c
}

// Agents lists configured agent keys in order.
func (c *Client) Agents() []string {
	keys := make([]string, 0, len(c.urls))
	for k := range c.urls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Configured reports whether agentKey has a webhook.
func (c *Client) Configured(agentKey string) bool {
	_, ok := c.urls[agentKey]
	return ok
}

// Fire posts payload to the agent's webhook. Non-2xx responses, timeouts and
// connection errors all return a *errors.TransportError.
func (c *Client) Fire(ctx context.Context, agentKey string, payload []byte) (Delivery, error) {
	target, ok := c.urls[agentKey]
	if !ok {
		return Delivery{}, operrors.Validation("agent_key", "No webhook configured for agent %q", agentKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return Delivery{}, fmt.Errorf("creating trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "opsdesk-trigger/1.0")
	if c.secret != "" {
		req.Header.Set("X-Webhook-Secret", c.secret)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn().Err(err).Str("agent", agentKey).Dur("elapsed", elapsed).Msg("agent trigger failed")
		return Delivery{}, &operrors.TransportError{Service: "agent:" + agentKey, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Str("agent", agentKey).
			Int("status_code", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("agent trigger returned non-2xx")
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Delivery{}, &operrors.TransportError{Service: "agent:" + agentKey, StatusCode: resp.StatusCode, Message: msg}
	}

	c.logger.Info().
		Str("agent", agentKey).
		Int("status_code", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("agent triggered")
	return Delivery{StatusCode: resp.StatusCode, Duration: elapsed}, nil
}

// ParseWebhooks parses "key=url,key=url" into a map. Blank input yields an
// empty map.
func ParseWebhooks(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, target, ok := strings.Cut(part, "=")
		key, target = strings.TrimSpace(key), strings.TrimSpace(target)
		if !ok || key == "" || target == "" {
			return nil, fmt.Errorf("agent webhook %q: expected key=url", part)
		}
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("agent webhook %q: invalid url %q", key, target)
		}
		out[key] = target
	}
	return out, nil
}

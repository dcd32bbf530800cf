package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/opsdesk/internal/config"
)

// Role defines the access level of a caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleReadOnly Role = "readonly"
)

var roleLevel = map[Role]int{
	RoleReadOnly: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ActorHeader names the human behind an api-key request.
const ActorHeader = "X-Actor"

const (
	localsRole  = "role"
	localsActor = "actor"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // config.AuthNone, config.AuthAPIKey or config.AuthJWT
	APIKey    string
	JWTSecret string
}

// Claims are the JWT claims the API accepts. Subject is the actor.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// SignToken issues an HS256 token for subject with the given role.
func SignToken(secret, subject string, role Role, ttl time.Duration) (string, error) {
	if _, ok := roleLevel[role]; !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "opsdesk",
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token subject is required")
	}
	if _, ok := roleLevel[claims.Role]; !ok {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

func isPublicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/webhooks/")
}

// NewAuthMiddleware authenticates /api requests and records the caller's
// role and actor. Webhooks carry their own shared secret.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if isPublicPath(path) {
			return c.Next()
		}

		if cfg.Mode == config.AuthNone {
			c.Locals(localsRole, RoleAdmin)
			c.Locals(localsActor, actorHeader(c, "anonymous"))
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case config.AuthAPIKey:
			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				c.Locals(localsRole, RoleAdmin)
				c.Locals(localsActor, actorHeader(c, "api-key"))
				return c.Next()
			}
		case config.AuthJWT:
			claims, err := parseToken(cfg.JWTSecret, token)
			if err == nil {
				c.Locals(localsRole, claims.Role)
				c.Locals(localsActor, claims.Subject)
				return c.Next()
			}
			logger.Debug().Err(err).Msg("jwt rejected")
		}

		logger.Warn().
			Str("path", path).
			Str("method", c.Method()).
			Str("mode", cfg.Mode).
			Msg("unauthorized request: invalid credentials")

		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_credentials", "Unauthorized",
			"Invalid or expired credentials")
	}
}

// requireRole returns a middleware that enforces a minimum role level.
func requireRole(minRole Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(localsRole).(Role)
		if roleLevel[role] < roleLevel[minRole] {
			return problemResponse(c, fiber.StatusForbidden,
				"insufficient_role", "Forbidden",
				"Insufficient permissions for this operation")
		}
		return c.Next()
	}
}

// webhookAuth checks the shared secret agents send with every delivery.
// With no secret configured, webhooks are disabled.
func webhookAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return problemResponse(c, fiber.StatusServiceUnavailable,
				"webhooks_disabled", "Service Unavailable",
				"WEBHOOK_SECRET is not configured")
		}
		got := c.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_webhook_secret", "Unauthorized",
				"Webhook secret is missing or wrong")
		}
		return c.Next()
	}
}

func actorHeader(c *fiber.Ctx, fallback string) string {
	if a := strings.TrimSpace(c.Get(ActorHeader)); a != "" {
		return a
	}
	return fallback
}

// actor returns who is making the request.
func actor(c *fiber.Ctx) string {
	a, _ := c.Locals(localsActor).(string)
	return a
}

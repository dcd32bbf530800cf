// Package api exposes the operations desk over HTTP: the dashboard and
// operator routes under /api/v1, agent webhooks under /webhooks, and the
// probe and metrics endpoints.
package api

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/health"
	"github.com/p-blackswan/opsdesk/internal/metrics"
	"github.com/p-blackswan/opsdesk/internal/requestid"
	"github.com/p-blackswan/opsdesk/internal/workflow"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr    string
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	CORSOrigins   string
	TLSCert       string
	TLSKey        string
	WebhookSecret string
	EventBuffer   int
	Heartbeat     time.Duration
}

// Server is the API Fiber application.
type Server struct {
	app     *fiber.App
	svc     *workflow.Service
	hub     *event.Hub
	checker *health.Checker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  ServerConfig

	done     chan struct{}
	doneOnce sync.Once
}

// NewServer creates and configures the API server. hub, checker and m may
// be nil.
func NewServer(
	cfg ServerConfig,
	svc *workflow.Service,
	hub *event.Hub,
	checker *health.Checker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
		BodyLimit:             2 * 1024 * 1024,
	})

	s := &Server{
		app:     app,
		svc:     svc,
		hub:     hub,
		checker: checker,
		metrics: m,
		logger:  logger.With().Str("component", "api").Logger(),
		config:  cfg,
		done:    make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	cfg := s.config

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Actor",
			AllowMethods: "GET, POST, PUT, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, s.logger))

	// Request log and metrics; probes stay quiet.
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		if s.metrics != nil {
			s.metrics.RecordRequest(c.Route().Path, strconv.Itoa(status), time.Since(start).Seconds())
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Str("ip", c.IP()).
			Str("actor", actor(c)).
			Str("request_id", requestid.FromFiber(c)).
			Dur("elapsed", time.Since(start)).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.liveness)
	s.app.Get("/readyz", s.readiness)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	hooks := s.app.Group("/webhooks", webhookAuth(s.config.WebhookSecret))
	hooks.Post("/agent", s.agentOutput)
	hooks.Post("/agent-event", s.agentEvent)
	hooks.Post("/project-refresh", s.projectRefresh)

	v1 := s.app.Group("/api/v1")
	write := requireRole(RoleOperator)

	v1.Get("/projects", s.listProjects)
	v1.Post("/projects", write, s.createProject)
	v1.Get("/projects/:id", s.getProject)
	v1.Post("/projects/:id/stage", write, s.changeStage)
	v1.Post("/projects/:id/status", write, s.setStatus)
	v1.Put("/projects/:id/blockers", write, s.setBlockers)
	v1.Get("/projects/:id/notes", s.listNotes)
	v1.Post("/projects/:id/notes", write, s.addNote)
	v1.Get("/projects/:id/triggers", s.listTriggers)
	v1.Post("/projects/:id/triggers", write, s.triggerAgent)

	v1.Get("/approvals", s.listApprovals)
	v1.Get("/approvals/:id", s.getApproval)
	v1.Post("/approvals/:id/decision", write, s.decideApproval)
	v1.Post("/approvals/:id/sent", write, s.markSent)
	v1.Post("/approvals/:id/authorize-project", requireRole(RoleAdmin), s.authorizeProject)

	v1.Get("/escalations", s.listEscalations)
	v1.Get("/escalations/summary", s.escalationSummary)
	v1.Get("/escalations/:id", s.getEscalation)
	v1.Post("/escalations", write, s.createEscalation)
	v1.Post("/escalations/:id/resolve", write, s.resolveEscalation)

	v1.Get("/audit", s.listAudit)
	v1.Get("/events", s.streamEvents)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}

	s.logger.Info().Str("addr", addr).Bool("tls", s.config.TLSCert != "").Msg("api server starting")

	if s.config.TLSCert != "" && s.config.TLSKey != "" {
		return s.app.ListenTLS(addr, s.config.TLSCert, s.config.TLSKey)
	}
	return s.app.Listen(addr)
}

// Shutdown ends open event streams and gracefully shuts the server down.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("api server shutting down")
	s.doneOnce.Do(func() { close(s.done) })
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) readiness(c *fiber.Ctx) error {
	if s.checker == nil {
		return c.JSON(health.Report{Status: "ready", Checks: map[string]health.Status{}})
	}
	report, ready := s.checker.Readiness(c.UserContext())
	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

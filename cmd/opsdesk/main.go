package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/opsdesk/internal/api"
	"github.com/p-blackswan/opsdesk/internal/config"
	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/event"
	"github.com/p-blackswan/opsdesk/internal/health"
	"github.com/p-blackswan/opsdesk/internal/metrics"
	"github.com/p-blackswan/opsdesk/internal/policy"
	"github.com/p-blackswan/opsdesk/internal/store"
	"github.com/p-blackswan/opsdesk/internal/trigger"
	"github.com/p-blackswan/opsdesk/internal/workflow"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("auth_mode", cfg.AuthMode).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("redis_enabled", cfg.RedisEnabled()).
		Msg("starting opsdesk")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}
	defer db.Close()

	policyCfg, err := policy.LoadConfig(cfg.PolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PolicyFile).Msg("failed to load policy")
	}
	engine := policy.NewEngine(policyCfg, logger)

	m := metrics.New()
	m.WatchStoreSize(db.DBSizeBytes)
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(db))

	// Events: local hub, optionally relayed across instances through Redis.
	hub := event.NewHub(logger)
	hub.OnPublish = func(t event.Type, delivered int) {
		m.RecordPublish(string(t), delivered)
		m.SetSubscribers(hub.Len())
	}
	hub.OnDrop = m.RecordDrop
	var publisher event.Publisher = hub

	var wg sync.WaitGroup

	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		checker.Register("redis", health.RedisCheck(rdb))

		relay := event.NewRedisRelay(rdb, cfg.RedisChannel, hub, logger)
		publisher = relay
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx, nil); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
	} else {
		logger.Info().Msg("Redis not configured, events stay in-process")
	}

	// Escalation notices: always logged, and posted to Slack when configured.
	notifiers := []escalation.Notifier{escalation.NewLogNotifier(logger)}
	if cfg.SlackEnabled() {
		sc := slack.New(cfg.SlackBotToken)
		notifiers = append(notifiers, escalation.NewSlackNotifier(sc, cfg.SlackEscalationChannel, logger))
		logger.Info().Str("channel", cfg.SlackEscalationChannel).Msg("Slack escalation notices enabled")
	}

	webhooks, err := trigger.ParseWebhooks(cfg.AgentWebhooks)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid AGENT_WEBHOOKS")
	}
	agents := trigger.New(webhooks, cfg.AgentTriggerTimeout, logger).WithSecret(cfg.WebhookSecret)
	logger.Info().Strs("agents", agents.Agents()).Msg("agent webhooks configured")

	svc := workflow.New(workflow.Deps{
		Store:    db,
		Engine:   engine,
		Events:   publisher,
		Notifier: escalation.NewMultiNotifier(notifiers...),
		Agents:   agents,
		Metrics:  m,
		Logger:   logger,
	})

	srv := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		Auth: api.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins:   cfg.CORSOrigins,
		TLSCert:       cfg.TLSCert,
		TLSKey:        cfg.TLSKey,
		WebhookSecret: cfg.WebhookSecret,
		EventBuffer:   cfg.EventBuffer,
	}, svc, hub, checker, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
			cancel()
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case <-ctx.Done():
		logger.Warn().Msg("shutting down after server failure")
	}

	cancel()

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("opsdesk stopped")
}

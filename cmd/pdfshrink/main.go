package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberredis "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/pdfshrink/pdfshrink/app/controllers"
	"github.com/pdfshrink/pdfshrink/internal/pkg/apidocs"
	"github.com/pdfshrink/pdfshrink/internal/pkg/billing"
	"github.com/pdfshrink/pdfshrink/internal/pkg/broker"
	"github.com/pdfshrink/pdfshrink/internal/pkg/cache"
	"github.com/pdfshrink/pdfshrink/internal/pkg/database"
	"github.com/pdfshrink/pdfshrink/internal/pkg/env"
	"github.com/pdfshrink/pdfshrink/internal/pkg/housekeeping"
	"github.com/pdfshrink/pdfshrink/internal/pkg/metrics/counter"
	"github.com/pdfshrink/pdfshrink/internal/pkg/router"
	"github.com/pdfshrink/pdfshrink/internal/pkg/s3backup"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhook"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

const limiterRedisDB = 2

func main() {
	app, shutdown := NewApplication()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("[Main] Shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[Main] Server shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	shutdown()
	if err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the webhook service. The returned func releases
// background workers and flushes pending log records.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	setupSentry()
	database.SetupDatabase()

	cfg := webhook.LoadConfig()
	if strings.TrimSpace(cfg.Secret) == "" {
		log.Error("[Main] WEBHOOK_SECRET is not set, every webhook call will be rejected")
	}

	// shared state
	var (
		opts        []webhook.Option
		redisClient *redis.Client
	)
	if strings.EqualFold(env.GetEnv("WEBHOOK_STATE_BACKEND", "memory"), "redis") {
		cache.SetupCache()
		redisClient = cache.GetClient()
		host, port, password := cache.Endpoint(redisClient)
		opts = append(opts,
			webhook.WithIdempotencyStore(webhook.NewRedisIdempotencyStore(redisClient, cfg.IdempotencyWindow, cfg.IdempotencyRetention)),
			webhook.WithLimiterStorage(fiberredis.New(fiberredis.Config{
				Host:     host,
				Port:     port,
				Password: password,
				Database: limiterRedisDB,
			})),
		)
		log.Info("[Main] Using Redis for idempotency records and rate-limit counters")
	}

	// billing handler
	svc := billing.NewServiceFromDB(database.GetDB())
	var publisher *broker.KafkaPublisher
	if kafkaCfg := broker.LoadConfig(); kafkaCfg.Enabled() {
		p, err := broker.NewKafkaPublisher(kafkaCfg)
		if err != nil {
			log.Errorf("[Main] Kafka publisher disabled: %v", err)
		} else {
			publisher = p
			svc.WithPublisher(p)
		}
	}

	// event log
	store, err := webhooklog.NewStore(env.GetEnv("WEBHOOK_LOG_DIR", "logs/webhooks"))
	if err != nil {
		panic(err)
	}
	eventLogger := webhooklog.NewLogger(store, env.GetInt("WEBHOOK_LOG_QUEUE_SIZE", 1024))

	hk := housekeeping.NewManager(store, housekeeping.Config{
		RetentionDays: env.GetInt("WEBHOOK_LOG_RETENTION_DAYS", webhooklog.DefaultRetentionDays),
		Archiver:      setupArchiver(),
	})
	hk.Start()

	app := fiber.New(fiber.Config{
		AppName:   "pdfshrink-webhooks",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	opsUsers := map[string]string{}
	if pw := env.GetEnv("METRICS_PASSWORD", ""); pw != "" {
		opsUsers[env.GetEnv("METRICS_USER", "admin")] = pw
	}

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{Authorizer: router.OpsAuthorizer(opsUsers)}), monitor.New())

	// SWAGGER / OPENAPI
	if docsPath := env.GetEnv("API_DOCS_FILE", "docs/openapi.yml"); docsPath != "" {
		if _, err := apidocs.Load(docsPath); err != nil {
			log.Warnf("[Main] API docs disabled: %v", err)
		} else {
			app.Use(apidocs.Middleware(docsPath))
		}
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Pipeline:        webhook.NewPipeline(cfg, opts...),
		Logger:          eventLogger,
		Controller:      controllers.NewWebhookController(svc, store, counter.New(redisClient)),
		SignatureHeader: cfg.SignatureHeader,
		TrustProxy:      cfg.TrustProxy,
		OpsUsers:        opsUsers,
	})

	shutdown := func() {
		hk.Stop()
		eventLogger.Close()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				log.Errorf("[Main] Kafka publisher close: %v", err)
			}
		}
		sentry.Flush(2 * time.Second)
	}
	return app, shutdown
}

func setupSentry() {
	dsn := env.GetEnv("SENTRY_DSN", "")
	if dsn == "" {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env.GetEnv("APP_ENV", "prod"),
	}); err != nil {
		log.Errorf("[Main] Sentry init failed: %v", err)
		return
	}
	log.Info("[Main] Sentry error reporting enabled")
}

func setupArchiver() webhooklog.Archiver {
	cfg, err := s3backup.LoadArchiveConfig(false)
	if err != nil {
		log.Errorf("[Main] Log archiving disabled: %v", err)
		return nil
	}
	if !cfg.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := s3backup.NewClient(ctx, cfg)
	if err != nil {
		log.Errorf("[Main] Log archiving disabled: %v", err)
		return nil
	}
	log.Infof("[Main] Archiving expired log partitions to bucket %s", cfg.Bucket)
	return client
}

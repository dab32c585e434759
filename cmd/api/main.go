package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/case-messaging/internal/api/http"
	"github.com/spec-kit/case-messaging/internal/api/http/handlers"
	"github.com/spec-kit/case-messaging/internal/auth"
	"github.com/spec-kit/case-messaging/internal/broker"
	"github.com/spec-kit/case-messaging/internal/config"
	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/messaging"
	"github.com/spec-kit/case-messaging/internal/observability"
	"github.com/spec-kit/case-messaging/internal/persistence"
	"github.com/spec-kit/case-messaging/internal/repository"
	"github.com/spec-kit/case-messaging/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Without a database the service runs entirely in memory. Single-process
	// only; useful for development and demos.
	var (
		threadRepo  repository.ThreadRepository
		messageRepo repository.MessageRepository
		eventBroker broker.Broker
		redisHandle *persistence.Redis
	)
	if pool := pg.PoolHandle(); pool != nil {
		threadRepo = repository.NewThreadRepository(pool)
		messageRepo = repository.NewMessageRepository(pool)

		redisHandle = persistence.NewRedis(cfg.Redis, logger)
		defer redisHandle.Close()
		eventBroker = broker.NewRedisBroker(redisHandle.Client, logger)
	} else {
		logger.Warn("running with in-memory repositories and broker")
		threadRepo = repository.NewMemoryThreadRepository()
		messageRepo = repository.NewMemoryMessageRepository()
		eventBroker = broker.NewMemoryBroker()
	}

	store := messaging.NewStore(threadRepo, messageRepo, eventBroker, logger)
	threadService := service.NewThreadService(threadRepo, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	reconnBase, reconnMax := cfg.Messaging.ReconnectBackoff()
	presenceFor := func(self domain.Identity) *messaging.PresenceTracker {
		return messaging.NewPresenceTracker(messaging.PresenceConfig{
			Broker:           eventBroker,
			Self:             self,
			TypingTTL:        cfg.Messaging.TypingTTL(),
			HeartbeatTimeout: cfg.Messaging.HeartbeatTimeout(),
			Backoff:          messaging.Backoff{Base: reconnBase, Max: reconnMax},
			Logger:           logger,
			Metrics:          metrics,
		})
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: cfg.App.Env == "production",
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redisHandle)
	threadsHandler := handlers.NewThreadsHandler(threadService)
	messagesHandler := handlers.NewMessagesHandler(store, presenceFor, cfg.Messaging.HistoryPageSize)
	streamHandler := handlers.NewStreamHandler(store, eventBroker, cfg.Messaging, logger, metrics)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Threads:        threadsHandler,
		Messages:       messagesHandler,
		Stream:         streamHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

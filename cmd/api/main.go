package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/helpdesk/internal/api/http"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/push"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name, cfg.App.Version)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	if pg.PoolHandle() == nil {
		logger.Fatal("POSTGRES_DSN is required")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	concernRepo := repository.NewConcernRepository(pool)
	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())

	hub := push.NewHub(tokens.Authenticate, cfg.Push.PingInterval(), logger.Named("push"))
	relay := worker.NewRelay(hub, metrics, logger.Named("relay"))

	// Events go through the shared Redis channel so every store instance
	// pushes to its own sessions; without Redis the hub is fed directly.
	var (
		publisher service.Publisher = relay
		bridge    *events.RedisBridge
	)
	dependencies := map[string]handlers.Pinger{"postgres": pg}
	if err := redis.Ping(ctx); err == nil {
		bridge = redis.Bridge(cfg.Push.Channel, logger.Named("bridge"))
		publisher = bridge
		dependencies["redis"] = redis
	} else {
		logger.Warn("redis unavailable; pushing events from this instance only", zap.Error(err))
	}
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, publisher, logger.Named("notifications")))

	workflowService := service.NewWorkflowService(service.WorkflowDependencies{
		Tx:          repository.NewTransactor(pool),
		ConcernRepo: concernRepo,
		Dispatcher:  dispatcher,
		Clock:       clock.NewSystem(),
		Logger:      logger.Named("workflow"),
	})
	queryService := service.NewQueryService(service.QueryDependencies{
		ConcernRepo: concernRepo,
		RequestRepo: repository.NewRequestRepository(pool),
		HistoryRepo: repository.NewHistoryRepository(pool),
		CountRepo:   repository.NewCountRepository(pool),
		ChannelRepo: repository.NewChannelRepository(pool),
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies, metrics),
		Concerns:       handlers.NewConcernsHandler(workflowService, queryService),
		Requests:       handlers.NewRequestsHandler(workflowService, queryService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	pushServer := &http.Server{Addr: cfg.Push.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("store listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		logger.Info("push hub listening", zap.String("addr", cfg.Push.Addr))
		if err := pushServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error { return relay.Run(gctx, bridge) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		_ = pushServer.Shutdown(shutdownCtx)
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/user-service/internal/api/http"
	"github.com/spec-kit/user-service/internal/api/http/handlers"
	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/cache"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/persistence"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/service"
	"github.com/spec-kit/user-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var userRepo repository.UserRepository
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, cfg.Postgres.DSN, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		userRepo = repository.NewUserRepository(pg.PoolHandle())
	} else {
		logger.Warn("using in-memory user store; data is lost on restart")
		userRepo = repository.NewMemoryUserRepository()
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var principals cache.PrincipalCache = cache.NopPrincipalCache{}
	if redis.Enabled() {
		principals = cache.NewRedisPrincipalCache(redis.Client, cfg.Redis.PrincipalTTL())
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger, cfg.Notification))
	worker.StartAuditWorker(dispatcher, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())
	userService := service.NewUserService(service.UserDependencies{
		UserRepo:   userRepo,
		Hasher:     auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:     tokens,
		Principals: principals,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	routes := httptransport.UserRoutes(handlers.NewUsersHandler(userService))
	routeTable, err := httptransport.BuildRouteTable(routes)
	if err != nil {
		logger.Fatal("invalid route table", zap.Error(err))
	}
	guard := auth.NewGuard(tokens, userRepo, principals, routeTable, logger)

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics, map[string]handlers.Dependency{
			"postgres": pg,
			"redis":    redis,
		}),
		Guard:  guard,
		Routes: routes,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
	}
}

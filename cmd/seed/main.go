package main

import (
	"context"
	"errors"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/persistence"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/service"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

// fixtures are activated accounts for local development.
var fixtures = []service.CreateUserInput{
	{Name: "Kia", Email: "kia@fake-mail.com", Password: "kia-password", EmailConfirmed: true},
	{Name: "Kia2", Email: "kia2@fake-mail.com", Password: "kia2-password", EmailConfirmed: true},
	{Name: "Mama", Email: "mama@fake-mail.com", Password: "mama-password", EmailConfirmed: true},
	{Name: "Admin", Email: "admin@fake-mail.com", Password: "admin-password", EmailConfirmed: true, IsAdmin: true},
	{Name: "Admin2", Email: "admin2@fake-mail.com", Password: "admin2-password", EmailConfirmed: true, IsAdmin: true},
}

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

	ctx := context.Background()
	if cfg.Postgres.DSN == "" {
		logger.Error("POSTGRES_DSN is required for seeding")
		os.Exit(1)
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if err := persistence.RunMigrations(ctx, cfg.Postgres.DSN, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	users := service.NewUserService(service.UserDependencies{
		UserRepo: repository.NewUserRepository(pg.PoolHandle()),
		Hasher:   auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL()),
		Logger:   logger,
	})

	created := 0
	for _, in := range fixtures {
		_, err := users.Create(ctx, in)
		switch {
		case errors.Is(err, apperrors.ErrDuplicateEmail):
			logger.Info("fixture already present", zap.String("email", in.Email))
		case err != nil:
			logger.Fatal("failed to seed user", zap.String("email", in.Email), zap.Error(err))
		default:
			created++
		}
	}
	logger.Info("seed complete", zap.Int("created", created), zap.Int("fixtures", len(fixtures)))
}

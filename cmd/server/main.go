package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newtab/auth/internal/config"
	domain "newtab/auth/internal/domain/auth"
	"newtab/auth/internal/httpserver"
	"newtab/auth/internal/infrastructure/postgres"
	redisledger "newtab/auth/internal/infrastructure/redis"
	"newtab/auth/internal/infrastructure/token"
	authusecase "newtab/auth/internal/usecase/auth"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	rootCtx := context.Background()
	db, err := postgres.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(rootCtx); err != nil {
		logger.Error("failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}

	ledger, cleanup, err := newLedger(rootCtx, cfg, db)
	if err != nil {
		logger.Error("failed to initialise refresh token ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	tokenManager := token.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer)
	verifier := authusecase.NewCredentialVerifier(postgres.NewUserRepository(db.Pool))
	authService := authusecase.NewService(
		verifier,
		ledger,
		tokenManager,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
		logger,
	)

	server := httpserver.NewServer(cfg, authService, logger)
	logger.Info("HTTP server listening",
		slog.String("addr", server.Addr()),
		slog.String("refresh_store", cfg.RefreshStore))

	go func() {
		if err := server.Start(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				logger.Info("HTTP server closed")
				return
			}
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("graceful shutdown completed")
	}
}

func newLedger(ctx context.Context, cfg config.Config, db *postgres.Database) (domain.RefreshTokenRepository, func(), error) {
	if cfg.RefreshStore == config.RefreshStoreRedis {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return redisledger.NewRefreshTokenRepository(client), func() { _ = client.Close() }, nil
	}
	return postgres.NewRefreshTokenRepository(db.Pool), func() {}, nil
}

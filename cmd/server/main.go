package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/cache"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/config"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/httpapi"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/logging"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/observability"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/service"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store/memory"
	pgstore "github.com/Alexstones/Punto-de-Venta-POS/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.Any("err", err))
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.DBAutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			logger.Info("schema ensured")
		}
		repo = pg
		logger.Info("repository ready", slog.String("backend", "postgres"))
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository ready", slog.String("backend", "memory"))
	}

	idem := cache.IdempotencyStore(cache.NoopIdempotencyStore{})
	if cfg.RedisAddr != "" {
		redisIdem := cache.NewRedisIdempotencyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisIdem.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, checkout idempotency disabled", slog.Any("err", err))
			_ = redisIdem.Close()
		} else {
			idem = redisIdem
			closers = append(closers, redisIdem.Close)
			logger.Info("idempotency store ready", slog.String("backend", "redis"))
		}
	} else {
		logger.Info("idempotency store ready", slog.String("backend", "noop"))
	}

	metrics := observability.NewMetrics()
	svc := service.New(repo, idem, service.Options{
		Logger:         logger,
		Metrics:        metrics,
		Location:       loc,
		PublicBaseURL:  cfg.PublicBaseURL,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:      cfg.AllowedOrigin,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("POS backend listening", slog.String("addr", cfg.Address()), slog.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("err", err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", slog.Any("err", err))
		}
	}

	logger.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.Count(cfg.AuthSecret, cfg.AuthSecret[:1]) == len(cfg.AuthSecret) {
		return fmt.Errorf("AUTH_SECRET must not repeat a single character")
	}
	if cfg.PublicBaseURL != "" && !strings.HasPrefix(cfg.PublicBaseURL, "http://") && !strings.HasPrefix(cfg.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://")
	}
	return nil
}

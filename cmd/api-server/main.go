package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/api"
	"github.com/hackgods/healthbook-scheduling/internal/appointment"
	"github.com/hackgods/healthbook-scheduling/internal/auth"
	"github.com/hackgods/healthbook-scheduling/internal/authz"
	"github.com/hackgods/healthbook-scheduling/internal/config"
	"github.com/hackgods/healthbook-scheduling/internal/db"
	"github.com/hackgods/healthbook-scheduling/internal/logging"
	redisclient "github.com/hackgods/healthbook-scheduling/internal/redis"
	"github.com/hackgods/healthbook-scheduling/internal/seed"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Bool("redis", cfg.RedisEnabled()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   appointment.Repository
		checks []api.HealthCheck
	)

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres setup error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		repo = appointment.NewPgRepository(pgPool)
		checks = append(checks, api.HealthCheck{Name: "postgres", Ping: pgPool.Ping})

	case config.StoreMemory:
		mem := appointment.NewMemRepository()
		if cfg.SeedDemo {
			res, err := seed.Run(rootCtx, mem, seed.NewGenerator(0), 5, 20, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("seed demo data")
			}
			logger.Info().
				Int("providers", len(res.Providers)).
				Int("patients", len(res.Patients)).
				Msg("demo directory seeded")
			if err := logDemoTokens(logger, res.SampleActors(), cfg.JWTSecret, cfg.TokenTTL); err != nil {
				logger.Fatal().Err(err).Msg("demo tokens")
			}
		}
		repo = mem
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	}

	var locker redisclient.Locker
	if cfg.RedisEnabled() {
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)
		checks = append(checks, api.HealthCheck{Name: "redis", Ping: redisPing(rdb), Optional: true})
	}

	svc := appointment.NewService(repo, locker, cfg, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		HealthChecks:   checks,
		JWTSecret:      cfg.JWTSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func redisPing(rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// logDemoTokens logs a bearer token per actor so the seeded in-memory store
// can be used without running the seeder.
func logDemoTokens(logger zerolog.Logger, actors []authz.Actor, secret string, ttl time.Duration) error {
	for _, a := range actors {
		tok, err := auth.MakeToken(a, secret, ttl)
		if err != nil {
			return fmt.Errorf("token for %s: %w", a, err)
		}
		logger.Info().Str("actor", a.String()).Str("token", tok).Msg("demo token")
	}
	return nil
}

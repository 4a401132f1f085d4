package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/appointment"
	"github.com/hackgods/healthbook-scheduling/internal/auth"
	"github.com/hackgods/healthbook-scheduling/internal/authz"
	"github.com/hackgods/healthbook-scheduling/internal/config"
	"github.com/hackgods/healthbook-scheduling/internal/db"
	"github.com/hackgods/healthbook-scheduling/internal/logging"
	"github.com/hackgods/healthbook-scheduling/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	if cfg.StoreDriver != config.StorePostgres {
		logger.Fatal().Str("store", cfg.StoreDriver).Msg("seed needs STORE_DRIVER=postgres")
	}

	providers := envInt("SEED_PROVIDERS", 100)
	patients := envInt("SEED_PATIENTS", 9000)
	fakerSeed, _ := strconv.ParseUint(os.Getenv("SEED_RANDOM"), 10, 64)

	logger.Info().Int("providers", providers).Int("patients", patients).Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	repo := appointment.NewPgRepository(pool)
	res, err := seed.Run(ctx, repo, seed.NewGenerator(fakerSeed), providers, patients, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}

	logger.Info().Msg("seed complete")

	// Sample tokens so the API can be tried straight away.
	if err := writeTokens(os.Stdout, res.SampleActors(), cfg.JWTSecret, cfg.TokenTTL); err != nil {
		logger.Fatal().Err(err).Msg("make token")
	}
}

// writeTokens prints one "actor<TAB>token" line per actor.
func writeTokens(w io.Writer, actors []authz.Actor, secret string, ttl time.Duration) error {
	for _, a := range actors {
		tok, err := auth.MakeToken(a, secret, ttl)
		if err != nil {
			return fmt.Errorf("token for %s: %w", a, err)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", a, tok); err != nil {
			return err
		}
	}
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

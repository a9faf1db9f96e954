package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"postline/internal/adapters/oauth"
	"postline/internal/adapters/platforms"
	"postline/internal/adapters/repo"
	"postline/internal/domain"
	"postline/internal/infra/cache"
	"postline/internal/infra/config"
	"postline/internal/infra/crypto"
	"postline/internal/infra/db"
	infralog "postline/internal/infra/log"
	"postline/internal/infra/metrics"
	"postline/internal/usecase/runner"
)

func main() {
	cfg := config.Load()
	logger := infralog.NewLogger(cfg.AppEnv, "scheduler")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: некорректный ключ шифрования")
	}

	var passCache domain.Cache
	if cfg.RedisAddr != "" {
		passCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	repoAdapter := repo.NewPostgres(pool)
	runnerService := runner.NewService(repoAdapter, repoAdapter, repoAdapter,
		platforms.NewRegistry(cfg.PublishTimeout), vault, oauth.NewProviders(cfg), passCache,
		runner.Options{
			Policy: domain.RetryPolicy{
				MaxAttempts: cfg.Retry.MaxAttempts,
				BaseDelay:   cfg.Retry.BaseDelay,
				MaxDelay:    cfg.Retry.MaxDelay,
			},
			PublishTimeout: cfg.PublishTimeout,
			JobLimit:       cfg.Scheduler.JobLimit,
		}, logger.With().Str("component", "runner").Logger())

	ticker := time.NewTicker(cfg.Scheduler.Interval)
	defer ticker.Stop()
	logger.Info().Dur("interval", cfg.Scheduler.Interval).Msg("scheduler: цикл запущен")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, cfg.Scheduler.PassTimeout)
			if _, err := runnerService.RunPass(passCtx); err != nil {
				logger.Error().Err(err).Msg("scheduler: проход завершился ошибкой")
			}
			cancel()
		}
	}
}

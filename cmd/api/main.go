package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"postline/internal/adapters/httpapi"
	"postline/internal/adapters/oauth"
	"postline/internal/adapters/platforms"
	"postline/internal/adapters/repo"
	"postline/internal/domain"
	"postline/internal/infra/cache"
	"postline/internal/infra/config"
	"postline/internal/infra/crypto"
	"postline/internal/infra/db"
	httpinfra "postline/internal/infra/http"
	infralog "postline/internal/infra/log"
	"postline/internal/infra/metrics"
	connusecase "postline/internal/usecase/connections"
	"postline/internal/usecase/publish"
	"postline/internal/usecase/runner"
)

func main() {
	cfg := config.Load()
	logger := infralog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("api: некорректный ключ шифрования")
	}
	signer, err := crypto.NewStateSigner(cfg.StateSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("api: некорректный секрет подписи state")
	}

	var passCache domain.Cache
	if cfg.RedisAddr != "" {
		passCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	repoAdapter := repo.NewPostgres(pool)
	providers := oauth.NewProviders(cfg)
	publishers := platforms.NewRegistry(cfg.PublishTimeout)

	publishService := publish.NewService(repoAdapter, repoAdapter,
		logger.With().Str("component", "publish").Logger())
	connService := connusecase.NewService(repoAdapter, providers, vault, signer, verifyTelegramBot,
		logger.With().Str("component", "connections").Logger())
	runnerService := runner.NewService(repoAdapter, repoAdapter, repoAdapter, publishers, vault,
		providers, passCache, runner.Options{
			Policy: domain.RetryPolicy{
				MaxAttempts: cfg.Retry.MaxAttempts,
				BaseDelay:   cfg.Retry.BaseDelay,
				MaxDelay:    cfg.Retry.MaxDelay,
			},
			PublishTimeout: cfg.PublishTimeout,
			JobLimit:       cfg.Scheduler.JobLimit,
		}, logger.With().Str("component", "runner").Logger())

	server := httpinfra.NewServer(logger)
	handler := httpapi.NewHandler(publishService, connService, runnerService,
		cfg.CronSecret, cfg.AppURL, logger.With().Str("component", "httpapi").Logger())
	handler.Register(server.Router, cfg.StateSecret)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Fatal().Err(err).Msg("api: сервер остановился")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
	logger.Info().Msg("api: сервер остановлен")
}

// verifyTelegramBot проверяет токен бота запросом GetMe.
func verifyTelegramBot(ctx context.Context, botToken string) (domain.ExternalProfile, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return domain.ExternalProfile{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ExternalProfile{}, err
	}
	me, err := bot.GetMe()
	if err != nil {
		return domain.ExternalProfile{}, err
	}
	return domain.ExternalProfile{
		AccountID:   fmt.Sprintf("%d", me.ID),
		AccountName: "@" + me.UserName,
	}, nil
}

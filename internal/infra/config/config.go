package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// OAuthApp описывает реквизиты приложения на внешней площадке.
type OAuthApp struct {
	ClientID     string `envconfig:"CLIENT_ID"`
	ClientSecret string `envconfig:"CLIENT_SECRET"`
}

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`
	// AppURL — базовый адрес приложения, на него возвращаем браузер
	// после OAuth-колбэка.
	AppURL string `envconfig:"APP_URL" default:"http://localhost:3000"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// EncryptionKey — 32 байта в hex, ключ шифрования токенов подключений.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`
	// StateSecret подписывает OAuth state и сессионные токены.
	StateSecret string `envconfig:"STATE_SECRET"`
	// CronSecret авторизует вызовы планировщика.
	CronSecret string `envconfig:"CRON_SECRET"`

	OAuth struct {
		// RedirectBase — внешний адрес API, к нему добавляется
		// /auth/{platform}/callback.
		RedirectBase string   `envconfig:"OAUTH_REDIRECT_BASE"`
		Twitter      OAuthApp `envconfig:"TWITTER"`
		LinkedIn     OAuthApp `envconfig:"LINKEDIN"`
		Reddit       OAuthApp `envconfig:"REDDIT"`
	} `envconfig:""`

	Retry struct {
		MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
		BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"30s"`
		MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"1h"`
	} `envconfig:""`

	Scheduler struct {
		PassTimeout time.Duration `envconfig:"SCHEDULER_PASS_TIMEOUT" default:"2m"`
		JobLimit    int           `envconfig:"SCHEDULER_JOB_LIMIT" default:"100"`
		Interval    time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1m"`
	} `envconfig:""`

	PublishTimeout time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"30s"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

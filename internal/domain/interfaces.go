package domain

import (
	"context"
	"time"
)

// DeliveryTarget описывает целевое подключение при создании публикации.
type DeliveryTarget struct {
	ConnectionID int64
	AdaptedText  string
	Hashtags     []string
}

// Promotion содержит итог перевода публикации в работу.
type Promotion struct {
	Promoted         bool
	JobsCreated      int
	FailedDeliveries int
}

// ContentRepo управляет публикациями и их доставками.
type ContentRepo interface {
	CreateContentItem(ctx context.Context, item ContentItem, targets []DeliveryTarget) (ContentItem, error)
	GetContentItem(ctx context.Context, id int64) (ContentItem, error)
	ListDeliveries(ctx context.Context, contentItemID int64) ([]PlatformDelivery, error)
	// ListDueScheduled возвращает публикации в статусе scheduled,
	// чьё время наступило.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]ContentItem, error)
	// PromoteToPublishing атомарно переводит публикацию и её доставки в работу:
	// item draft/scheduled -> publishing, активные доставки -> publishing
	// плюс задача на каждую, неактивные -> failed без задачи.
	PromoteToPublishing(ctx context.Context, itemID int64) (Promotion, error)
	// SetAggregateStatus записывает агрегатный статус, только если
	// публикация всё ещё в publishing.
	SetAggregateStatus(ctx context.Context, itemID int64, status ContentStatus) error
}

// ConnectionRepo управляет подключениями к площадкам.
type ConnectionRepo interface {
	GetClient(ctx context.Context, id int64) (Client, error)
	// UpsertConnection создаёт или обновляет подключение по ключу
	// (client_id, platform, external_account_id).
	UpsertConnection(ctx context.Context, conn PlatformConnection) (PlatformConnection, error)
	GetConnection(ctx context.Context, id int64) (PlatformConnection, error)
	ListClientConnections(ctx context.Context, clientID int64) ([]PlatformConnection, error)
	UpdateConnectionTokens(ctx context.Context, id int64, accessEnc, refreshEnc string, expiresAt *time.Time) error
	DeactivateConnection(ctx context.Context, id int64, reason string) error
}

// JobRepo управляет очередью задач публикации.
type JobRepo interface {
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]PublishJob, error)
	// ClaimJob захватывает задачу условным обновлением: успех только если
	// задача всё ещё pending и не отложена повтором. Аренда сдвигает
	// next_retry_at, чтобы параллельный проход её пропустил.
	ClaimJob(ctx context.Context, jobID string, lease time.Duration) (PublishJob, bool, error)
	GetDelivery(ctx context.Context, deliveryID int64) (PlatformDelivery, error)
	CompleteJob(ctx context.Context, jobID string, deliveryID int64, externalPostID string, publishedAt time.Time) error
	RescheduleJob(ctx context.Context, jobID string, attempts int, nextRetryAt time.Time, reason string) error
	FailJob(ctx context.Context, jobID string, deliveryID int64, reason string) error
}

// PublishRequest содержит всё необходимое для одной попытки публикации.
type PublishRequest struct {
	AccessToken       string
	ExternalAccountID string
	Title             string
	Text              string
	Hashtags          []string
}

// PublishResult содержит идентификатор созданного поста.
type PublishResult struct {
	ExternalPostID string
}

// Publisher публикует контент на одной площадке.
type Publisher interface {
	Platform() Platform
	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// TokenCipher шифрует и расшифровывает токены перед хранением.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// CredentialRefresher обновляет истекающий access token площадки.
type CredentialRefresher interface {
	Refresh(ctx context.Context, platform Platform, refreshToken string) (OAuthToken, error)
}

// Cache используется для простых TTL-хранилищ и блокировок.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

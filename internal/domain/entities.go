package domain

import "time"

// Platform идентифицирует внешнюю площадку публикации.
type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformLinkedIn Platform = "linkedin"
	PlatformReddit   Platform = "reddit"
	PlatformTelegram Platform = "telegram"
)

// Valid сообщает, поддерживается ли площадка.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformLinkedIn, PlatformReddit, PlatformTelegram:
		return true
	}
	return false
}

// RequiresPKCE сообщает, требует ли площадка PKCE при авторизации.
func (p Platform) RequiresPKCE() bool {
	return p == PlatformTwitter
}

// ContentStatus описывает агрегатное состояние публикации.
type ContentStatus string

const (
	ContentDraft              ContentStatus = "draft"
	ContentScheduled          ContentStatus = "scheduled"
	ContentPublishing         ContentStatus = "publishing"
	ContentPublished          ContentStatus = "published"
	ContentPartiallyPublished ContentStatus = "partially_published"
	ContentFailed             ContentStatus = "failed"
)

// DeliveryStatus описывает состояние доставки на одну площадку.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryPublishing DeliveryStatus = "publishing"
	DeliveryPublished  DeliveryStatus = "published"
	DeliveryFailed     DeliveryStatus = "failed"
)

// Terminal сообщает, является ли состояние доставки конечным.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryPublished || s == DeliveryFailed
}

// JobStatus описывает состояние задачи публикации.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Client описывает клиента (бренд), от имени которого ведётся публикация.
type Client struct {
	ID          int64
	OwnerUserID int64
	Name        string
	CreatedAt   time.Time
}

// ContentItem представляет единицу контента, направляемую на площадки.
type ContentItem struct {
	ID          int64
	ClientID    int64
	OwnerUserID int64
	Title       string
	Body        string
	ContentType string
	ScheduledAt *time.Time
	Status      ContentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlatformConnection хранит авторизованный внешний аккаунт клиента.
// Токены хранятся только в зашифрованном виде.
type PlatformConnection struct {
	ID                  int64
	ClientID            int64
	Platform            Platform
	ExternalAccountID   string
	ExternalAccountName string
	AccessTokenEnc      string
	RefreshTokenEnc     string
	TokenExpiresAt      *time.Time
	IsActive            bool
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PlatformDelivery описывает доставку одного ContentItem на одну площадку.
// Title приходит из родительской публикации, остальные поля свои.
type PlatformDelivery struct {
	ID             int64
	ContentItemID  int64
	ConnectionID   int64
	Platform       Platform
	Title          string
	AdaptedText    string
	Hashtags       []string
	Status         DeliveryStatus
	ExternalPostID string
	ErrorMessage   string
	PublishedAt    *time.Time
}

// ExternalProfile содержит данные внешнего аккаунта после OAuth-обмена.
type ExternalProfile struct {
	AccountID   string
	AccountName string
}

// OAuthToken содержит токены площадки в открытом виде. Живёт только в памяти.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AggregateStatus вычисляет агрегатный статус публикации по её доставкам.
// Пока есть незавершённые доставки, публикация остаётся в publishing.
func AggregateStatus(deliveries []PlatformDelivery) ContentStatus {
	published, failed := 0, 0
	for _, d := range deliveries {
		switch d.Status {
		case DeliveryPublished:
			published++
		case DeliveryFailed:
			failed++
		default:
			return ContentPublishing
		}
	}
	switch {
	case failed == 0:
		return ContentPublished
	case published == 0:
		return ContentFailed
	default:
		return ContentPartiallyPublished
	}
}

package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"postline/internal/domain"
)

// Service управляет жизненным циклом публикации до передачи в очередь.
type Service struct {
	content     domain.ContentRepo
	connections domain.ConnectionRepo
	log         zerolog.Logger
}

// NewService создаёт сервис публикаций.
func NewService(content domain.ContentRepo, connections domain.ConnectionRepo, logger zerolog.Logger) *Service {
	return &Service{content: content, connections: connections, log: logger}
}

// DraftInput описывает создаваемую публикацию.
type DraftInput struct {
	ClientID    int64
	Title       string
	Body        string
	ContentType string
	ScheduledAt *time.Time
	Targets     []domain.DeliveryTarget
}

// CreateDraft сохраняет черновик с целевыми площадками. Публикация с
// scheduled_at сразу попадает в расписание.
func (s *Service) CreateDraft(ctx context.Context, userID int64, input DraftInput) (domain.ContentItem, error) {
	if input.Body == "" {
		return domain.ContentItem{}, fmt.Errorf("текст публикации пуст")
	}
	client, err := s.connections.GetClient(ctx, input.ClientID)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("получение клиента: %w", err)
	}
	if client.OwnerUserID != userID {
		return domain.ContentItem{}, domain.ErrForbidden
	}
	for _, target := range input.Targets {
		conn, err := s.connections.GetConnection(ctx, target.ConnectionID)
		if err != nil {
			return domain.ContentItem{}, fmt.Errorf("получение подключения %d: %w", target.ConnectionID, err)
		}
		if conn.ClientID != input.ClientID {
			return domain.ContentItem{}, domain.ErrForbidden
		}
		if !conn.IsActive {
			return domain.ContentItem{}, fmt.Errorf("подключение %d: %w", conn.ID, domain.ErrConnectionInactive)
		}
	}

	item := domain.ContentItem{
		ClientID:    input.ClientID,
		OwnerUserID: userID,
		Title:       input.Title,
		Body:        input.Body,
		ContentType: input.ContentType,
		ScheduledAt: input.ScheduledAt,
	}
	created, err := s.content.CreateContentItem(ctx, item, input.Targets)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("сохранение публикации: %w", err)
	}
	return created, nil
}

// GetItem возвращает публикацию владельца вместе с доставками.
func (s *Service) GetItem(ctx context.Context, userID, itemID int64) (domain.ContentItem, []domain.PlatformDelivery, error) {
	item, err := s.content.GetContentItem(ctx, itemID)
	if err != nil {
		return domain.ContentItem{}, nil, err
	}
	if item.OwnerUserID != userID {
		return domain.ContentItem{}, nil, domain.ErrForbidden
	}
	deliveries, err := s.content.ListDeliveries(ctx, itemID)
	if err != nil {
		return domain.ContentItem{}, nil, fmt.Errorf("получение доставок: %w", err)
	}
	return item, deliveries, nil
}

// PublishNow переводит публикацию в работу немедленно. Повторный вызов
// отклоняется: после первого перевода публикация уже не в draft/scheduled.
func (s *Service) PublishNow(ctx context.Context, userID, itemID int64) (domain.ContentItem, []domain.PlatformDelivery, error) {
	item, err := s.content.GetContentItem(ctx, itemID)
	if err != nil {
		return domain.ContentItem{}, nil, err
	}
	if item.OwnerUserID != userID {
		return domain.ContentItem{}, nil, domain.ErrForbidden
	}
	switch item.Status {
	case domain.ContentDraft, domain.ContentScheduled:
	default:
		return domain.ContentItem{}, nil, domain.ErrNotPromotable
	}

	promotion, err := s.content.PromoteToPublishing(ctx, itemID)
	if err != nil {
		return domain.ContentItem{}, nil, fmt.Errorf("перевод публикации в работу: %w", err)
	}
	if !promotion.Promoted {
		// Параллельный запрос успел первым: условное обновление не нашло строку.
		return domain.ContentItem{}, nil, domain.ErrNotPromotable
	}
	s.log.Info().Int64("item", itemID).Int("jobs", promotion.JobsCreated).
		Int("failed", promotion.FailedDeliveries).Msg("публикация переведена в работу")

	if promotion.JobsCreated == 0 {
		// Все доставки завершились уже на промоушене и задач нет: проход
		// планировщика такую публикацию не увидит, статус сводим сразу.
		deliveries, err := s.content.ListDeliveries(ctx, itemID)
		if err != nil {
			return domain.ContentItem{}, nil, fmt.Errorf("получение доставок: %w", err)
		}
		if status := domain.AggregateStatus(deliveries); status != domain.ContentPublishing {
			if err := s.content.SetAggregateStatus(ctx, itemID, status); err != nil {
				return domain.ContentItem{}, nil, fmt.Errorf("запись агрегатного статуса: %w", err)
			}
		}
	}

	return s.GetItem(ctx, userID, itemID)
}

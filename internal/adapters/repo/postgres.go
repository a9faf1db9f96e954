package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"postline/internal/domain"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ContentRepo    = (*Postgres)(nil)
	_ domain.ConnectionRepo = (*Postgres)(nil)
	_ domain.JobRepo        = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// CreateContentItem сохраняет публикацию вместе с целевыми доставками.
func (p *Postgres) CreateContentItem(ctx context.Context, item domain.ContentItem, targets []domain.DeliveryTarget) (domain.ContentItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := domain.ContentDraft
	if item.ScheduledAt != nil {
		status = domain.ContentScheduled
	}
	var scheduledAt sql.NullTime
	if item.ScheduledAt != nil {
		scheduledAt = sql.NullTime{Time: item.ScheduledAt.UTC(), Valid: true}
	}

	err = tx.QueryRow(ctx, `
INSERT INTO content_items (client_id, owner_user_id, title, body, content_type, scheduled_at, status)
VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5,''),'post'), $6, $7)
RETURNING id, content_type, status, created_at, updated_at
`, item.ClientID, item.OwnerUserID, item.Title, item.Body, item.ContentType, scheduledAt, status).
		Scan(&item.ID, &item.ContentType, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("вставка публикации: %w", err)
	}

	for _, target := range targets {
		text := target.AdaptedText
		if text == "" {
			text = item.Body
		}
		hashtags := target.Hashtags
		if hashtags == nil {
			hashtags = []string{}
		}
		_, err = tx.Exec(ctx, `
INSERT INTO platform_deliveries (content_item_id, connection_id, adapted_text, hashtags, status)
VALUES ($1, $2, $3, $4, 'pending')
`, item.ID, target.ConnectionID, text, hashtags)
		if err != nil {
			return domain.ContentItem{}, fmt.Errorf("вставка доставки: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ContentItem{}, fmt.Errorf("фиксация транзакции: %w", err)
	}
	return item, nil
}

// GetContentItem возвращает публикацию по идентификатору.
func (p *Postgres) GetContentItem(ctx context.Context, id int64) (domain.ContentItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		item        domain.ContentItem
		scheduledAt sql.NullTime
	)
	err := p.pool.QueryRow(ctx, `
SELECT id, client_id, owner_user_id, title, body, content_type, scheduled_at, status, created_at, updated_at
FROM content_items WHERE id = $1
`, id).Scan(&item.ID, &item.ClientID, &item.OwnerUserID, &item.Title, &item.Body, &item.ContentType, &scheduledAt, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ContentItem{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ContentItem{}, err
	}
	if scheduledAt.Valid {
		ts := scheduledAt.Time
		item.ScheduledAt = &ts
	}
	return item, nil
}

// ListDeliveries возвращает доставки публикации вместе с площадкой подключения.
func (p *Postgres) ListDeliveries(ctx context.Context, contentItemID int64) ([]domain.PlatformDelivery, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT d.id, d.content_item_id, d.connection_id, c.platform, i.title, d.adapted_text, d.hashtags,
       d.status, d.external_post_id, d.error_message, d.published_at
FROM platform_deliveries d
JOIN platform_connections c ON c.id = d.connection_id
JOIN content_items i ON i.id = d.content_item_id
WHERE d.content_item_id = $1
ORDER BY d.id
`, contentItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// ListDueScheduled возвращает публикации по расписанию, чьё время наступило.
func (p *Postgres) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.ContentItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT id, client_id, owner_user_id, title, body, content_type, scheduled_at, status, created_at, updated_at
FROM content_items
WHERE status = 'scheduled' AND scheduled_at <= $1
ORDER BY scheduled_at
LIMIT $2
`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ContentItem
	for rows.Next() {
		var (
			item        domain.ContentItem
			scheduledAt sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.ClientID, &item.OwnerUserID, &item.Title, &item.Body, &item.ContentType, &scheduledAt, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if scheduledAt.Valid {
			ts := scheduledAt.Time
			item.ScheduledAt = &ts
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PromoteToPublishing атомарно переводит публикацию в работу.
// Условное обновление статуса защищает от двойной отправки: второй вызов
// не находит строку в draft/scheduled и выходит с Promoted=false.
func (p *Postgres) PromoteToPublishing(ctx context.Context, itemID int64) (domain.Promotion, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Promotion{}, fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE content_items SET status = 'publishing', updated_at = now()
WHERE id = $1 AND status IN ('draft','scheduled')
`, itemID)
	if err != nil {
		return domain.Promotion{}, fmt.Errorf("перевод публикации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Promotion{}, nil
	}

	rows, err := tx.Query(ctx, `
SELECT d.id, c.platform, c.is_active
FROM platform_deliveries d
JOIN platform_connections c ON c.id = d.connection_id
WHERE d.content_item_id = $1 AND d.status = 'pending'
ORDER BY d.id
FOR UPDATE OF d
`, itemID)
	if err != nil {
		return domain.Promotion{}, fmt.Errorf("выборка доставок: %w", err)
	}
	type pendingDelivery struct {
		id       int64
		platform domain.Platform
		active   bool
	}
	var pending []pendingDelivery
	for rows.Next() {
		var d pendingDelivery
		if err := rows.Scan(&d.id, &d.platform, &d.active); err != nil {
			rows.Close()
			return domain.Promotion{}, err
		}
		pending = append(pending, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Promotion{}, err
	}
	if len(pending) == 0 {
		return domain.Promotion{}, domain.ErrNoTargets
	}

	promotion := domain.Promotion{Promoted: true}
	for _, d := range pending {
		if !d.active {
			_, err = tx.Exec(ctx, `
UPDATE platform_deliveries SET status = 'failed', error_message = $2 WHERE id = $1
`, d.id, fmt.Sprintf("подключение к площадке %s неактивно", d.platform))
			if err != nil {
				return domain.Promotion{}, fmt.Errorf("отметка неактивной доставки: %w", err)
			}
			promotion.FailedDeliveries++
			continue
		}
		_, err = tx.Exec(ctx, `UPDATE platform_deliveries SET status = 'publishing' WHERE id = $1`, d.id)
		if err != nil {
			return domain.Promotion{}, fmt.Errorf("перевод доставки: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO publish_jobs (id, delivery_id, status) VALUES ($1, $2, 'pending')
`, uuid.NewString(), d.id)
		if err != nil {
			return domain.Promotion{}, fmt.Errorf("создание задачи: %w", err)
		}
		promotion.JobsCreated++
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Promotion{}, fmt.Errorf("фиксация транзакции: %w", err)
	}
	return promotion, nil
}

// SetAggregateStatus записывает агрегатный статус публикации.
// Обновление условное: публикация, уже покинувшая publishing, не трогается.
func (p *Postgres) SetAggregateStatus(ctx context.Context, itemID int64, status domain.ContentStatus) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
UPDATE content_items SET status = $2, updated_at = now()
WHERE id = $1 AND status = 'publishing'
`, itemID, status)
	return err
}

func scanDeliveries(rows pgx.Rows) ([]domain.PlatformDelivery, error) {
	var deliveries []domain.PlatformDelivery
	for rows.Next() {
		var (
			d           domain.PlatformDelivery
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.ContentItemID, &d.ConnectionID, &d.Platform, &d.Title, &d.AdaptedText, &d.Hashtags, &d.Status, &d.ExternalPostID, &d.ErrorMessage, &publishedAt); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			ts := publishedAt.Time
			d.PublishedAt = &ts
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

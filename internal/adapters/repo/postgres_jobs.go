package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"postline/internal/domain"
)

// ListDueJobs возвращает задачи, готовые к выполнению, в порядке создания.
func (p *Postgres) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.PublishJob, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT id, delivery_id, status, attempts, next_retry_at, created_at
FROM publish_jobs
WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
ORDER BY created_at
LIMIT $2
`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.PublishJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob захватывает задачу условным обновлением. Успех только пока задача
// pending и не отложена: параллельный проход получит ноль строк и пропустит её.
// Аренда сдвигает next_retry_at, чтобы зависший исполнитель не блокировал
// задачу навсегда.
func (p *Postgres) ClaimJob(ctx context.Context, jobID string, lease time.Duration) (domain.PublishJob, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
UPDATE publish_jobs SET next_retry_at = now() + $2
WHERE id = $1 AND status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= now())
RETURNING id, delivery_id, status, attempts, next_retry_at, created_at
`, jobID, lease)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PublishJob{}, false, nil
	}
	if err != nil {
		return domain.PublishJob{}, false, fmt.Errorf("захват задачи: %w", err)
	}
	return job, true, nil
}

// GetDelivery возвращает доставку вместе с площадкой подключения.
func (p *Postgres) GetDelivery(ctx context.Context, deliveryID int64) (domain.PlatformDelivery, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT d.id, d.content_item_id, d.connection_id, c.platform, i.title, d.adapted_text, d.hashtags,
       d.status, d.external_post_id, d.error_message, d.published_at
FROM platform_deliveries d
JOIN platform_connections c ON c.id = d.connection_id
JOIN content_items i ON i.id = d.content_item_id
WHERE d.id = $1
`, deliveryID)
	if err != nil {
		return domain.PlatformDelivery{}, err
	}
	defer rows.Close()
	deliveries, err := scanDeliveries(rows)
	if err != nil {
		return domain.PlatformDelivery{}, err
	}
	if len(deliveries) == 0 {
		return domain.PlatformDelivery{}, domain.ErrNotFound
	}
	return deliveries[0], nil
}

// CompleteJob фиксирует успешную публикацию: задача completed,
// доставка published с внешним идентификатором поста.
func (p *Postgres) CompleteJob(ctx context.Context, jobID string, deliveryID int64, externalPostID string, publishedAt time.Time) error {
	return p.finishJob(ctx, jobID, deliveryID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
UPDATE publish_jobs SET status = 'completed', next_retry_at = NULL WHERE id = $1
`, jobID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
UPDATE platform_deliveries
SET status = 'published', external_post_id = $2, published_at = $3, error_message = ''
WHERE id = $1
`, deliveryID, externalPostID, publishedAt.UTC())
		return err
	})
}

// RescheduleJob откладывает повтор после временной ошибки. Доставка остаётся
// в publishing, сообщение об ошибке сохраняется для пользователя.
func (p *Postgres) RescheduleJob(ctx context.Context, jobID string, attempts int, nextRetryAt time.Time, reason string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
UPDATE publish_jobs SET attempts = $2, next_retry_at = $3 WHERE id = $1 AND status = 'pending'
`, jobID, attempts, nextRetryAt.UTC()); err != nil {
		return fmt.Errorf("перенос задачи: %w", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE platform_deliveries d SET error_message = $2
FROM publish_jobs j WHERE j.id = $1 AND d.id = j.delivery_id
`, jobID, reason); err != nil {
		return fmt.Errorf("запись причины повтора: %w", err)
	}
	return tx.Commit(ctx)
}

// FailJob фиксирует окончательный провал: задача и доставка в failed.
func (p *Postgres) FailJob(ctx context.Context, jobID string, deliveryID int64, reason string) error {
	return p.finishJob(ctx, jobID, deliveryID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
UPDATE publish_jobs SET status = 'failed', next_retry_at = NULL WHERE id = $1
`, jobID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
UPDATE platform_deliveries SET status = 'failed', error_message = $2 WHERE id = $1
`, deliveryID, reason)
		return err
	})
}

func (p *Postgres) finishJob(ctx context.Context, jobID string, deliveryID int64, fn func(context.Context, pgx.Tx) error) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(ctx, tx); err != nil {
		return fmt.Errorf("завершение задачи %s: %w", jobID, err)
	}
	return tx.Commit(ctx)
}

func scanJob(row pgx.Row) (domain.PublishJob, error) {
	var (
		job         domain.PublishJob
		nextRetryAt sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.DeliveryID, &job.Status, &job.Attempts, &nextRetryAt, &job.CreatedAt); err != nil {
		return domain.PublishJob{}, err
	}
	if nextRetryAt.Valid {
		ts := nextRetryAt.Time
		job.NextRetryAt = &ts
	}
	return job, nil
}

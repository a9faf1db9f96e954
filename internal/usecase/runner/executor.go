package runner

import (
	"context"
	"fmt"
	"time"

	"postline/internal/domain"
	"postline/internal/infra/metrics"
)

// refreshSkew — запас до истечения токена, при котором он обновляется заранее.
const refreshSkew = 2 * time.Minute

type outcomeKind int

const (
	outcomeRetried outcomeKind = iota
	outcomeSucceeded
	outcomeFailed
)

type jobOutcome struct {
	kind   outcomeKind
	itemID int64
}

// executeJob выполняет одну попытку доставки. Все ошибки обрабатываются
// внутри: наружу уходит только итог для отчёта и сверки.
func (s *Service) executeJob(ctx context.Context, job domain.PublishJob) jobOutcome {
	delivery, err := s.jobs.GetDelivery(ctx, job.DeliveryID)
	if err != nil {
		s.log.Error().Err(err).Str("job", job.ID).Msg("загрузка доставки")
		return s.retryOrFail(ctx, job, 0, fmt.Sprintf("внутренняя ошибка: %v", err))
	}

	conn, err := s.connections.GetConnection(ctx, delivery.ConnectionID)
	if err != nil {
		s.log.Error().Err(err).Str("job", job.ID).Msg("загрузка подключения")
		return s.retryOrFail(ctx, job, delivery.ContentItemID, fmt.Sprintf("внутренняя ошибка: %v", err))
	}
	if !conn.IsActive {
		return s.failPermanently(ctx, job, delivery,
			fmt.Sprintf("подключение к площадке %s неактивно", conn.Platform))
	}

	accessToken, ok := s.resolveToken(ctx, job, delivery, conn)
	if !ok {
		return jobOutcome{kind: outcomeFailed, itemID: delivery.ContentItemID}
	}

	publisher, err := s.publishers.Get(conn.Platform)
	if err != nil {
		return s.failPermanently(ctx, job, delivery, err.Error())
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := s.now()
	result, err := publisher.Publish(pubCtx, domain.PublishRequest{
		AccessToken:       accessToken,
		ExternalAccountID: conn.ExternalAccountID,
		Title:             delivery.Title,
		Text:              delivery.AdaptedText,
		Hashtags:          delivery.Hashtags,
	})
	if err == nil {
		metrics.ObservePublish(string(conn.Platform), start, "success")
		if err := s.jobs.CompleteJob(ctx, job.ID, delivery.ID, result.ExternalPostID, s.now()); err != nil {
			s.log.Error().Err(err).Str("job", job.ID).Msg("фиксация успешной публикации")
		}
		return jobOutcome{kind: outcomeSucceeded, itemID: delivery.ContentItemID}
	}

	if domain.IsTransientPublishError(err) {
		metrics.ObservePublish(string(conn.Platform), start, "transient_error")
		return s.retryOrFail(ctx, job, delivery.ContentItemID, err.Error())
	}
	metrics.ObservePublish(string(conn.Platform), start, "permanent_error")
	return s.failPermanently(ctx, job, delivery, err.Error())
}

// resolveToken расшифровывает access token подключения и при необходимости
// обновляет его заранее. Провал обновления окончателен: протухшие реквизиты
// сами не починятся, подключение деактивируется.
func (s *Service) resolveToken(ctx context.Context, job domain.PublishJob, delivery domain.PlatformDelivery, conn domain.PlatformConnection) (string, bool) {
	accessToken, err := s.cipher.Decrypt(conn.AccessTokenEnc)
	if err != nil {
		s.failPermanently(ctx, job, delivery, "не удалось расшифровать реквизиты подключения")
		return "", false
	}

	if conn.TokenExpiresAt == nil || s.now().Add(refreshSkew).Before(*conn.TokenExpiresAt) {
		return accessToken, true
	}

	if conn.RefreshTokenEnc == "" || s.refresher == nil {
		s.deactivateAndFail(ctx, job, delivery, conn,
			fmt.Sprintf("токен площадки %s истёк, обновление недоступно", conn.Platform))
		return "", false
	}
	refreshToken, err := s.cipher.Decrypt(conn.RefreshTokenEnc)
	if err != nil {
		s.failPermanently(ctx, job, delivery, "не удалось расшифровать реквизиты подключения")
		return "", false
	}

	fresh, err := s.refresher.Refresh(ctx, conn.Platform, refreshToken)
	if err != nil {
		s.deactivateAndFail(ctx, job, delivery, conn,
			fmt.Sprintf("не удалось обновить токен площадки %s", conn.Platform))
		return "", false
	}

	accessEnc, err := s.cipher.Encrypt(fresh.AccessToken)
	if err != nil {
		s.failPermanently(ctx, job, delivery, "не удалось зашифровать обновлённый токен")
		return "", false
	}
	refreshEnc := ""
	if fresh.RefreshToken != "" {
		if refreshEnc, err = s.cipher.Encrypt(fresh.RefreshToken); err != nil {
			s.failPermanently(ctx, job, delivery, "не удалось зашифровать обновлённый токен")
			return "", false
		}
	}
	var expiresAt *time.Time
	if !fresh.ExpiresAt.IsZero() {
		ts := fresh.ExpiresAt
		expiresAt = &ts
	}
	// Обновлённый токен пишется до использования, чтобы параллельные
	// задачи этого подключения читали уже свежие реквизиты.
	if err := s.connections.UpdateConnectionTokens(ctx, conn.ID, accessEnc, refreshEnc, expiresAt); err != nil {
		s.log.Error().Err(err).Int64("connection", conn.ID).Msg("запись обновлённого токена")
	}
	return fresh.AccessToken, true
}

// retryOrFail переносит повтор по экспоненциальному расписанию либо,
// при исчерпании попыток, превращает временную ошибку в окончательную.
func (s *Service) retryOrFail(ctx context.Context, job domain.PublishJob, itemID int64, reason string) jobOutcome {
	attempts := job.Attempts + 1
	if s.policy.Exhausted(attempts) {
		if err := s.jobs.FailJob(ctx, job.ID, job.DeliveryID,
			fmt.Sprintf("исчерпаны попытки (%d): %s", attempts, reason)); err != nil {
			s.log.Error().Err(err).Str("job", job.ID).Msg("фиксация провала задачи")
		}
		return jobOutcome{kind: outcomeFailed, itemID: itemID}
	}
	nextRetryAt := s.now().Add(s.policy.NextDelay(attempts + 1))
	if err := s.jobs.RescheduleJob(ctx, job.ID, attempts, nextRetryAt, reason); err != nil {
		s.log.Error().Err(err).Str("job", job.ID).Msg("перенос повтора задачи")
	}
	return jobOutcome{kind: outcomeRetried, itemID: itemID}
}

func (s *Service) failPermanently(ctx context.Context, job domain.PublishJob, delivery domain.PlatformDelivery, reason string) jobOutcome {
	if err := s.jobs.FailJob(ctx, job.ID, delivery.ID, reason); err != nil {
		s.log.Error().Err(err).Str("job", job.ID).Msg("фиксация провала задачи")
	}
	return jobOutcome{kind: outcomeFailed, itemID: delivery.ContentItemID}
}

func (s *Service) deactivateAndFail(ctx context.Context, job domain.PublishJob, delivery domain.PlatformDelivery, conn domain.PlatformConnection, reason string) {
	if err := s.connections.DeactivateConnection(ctx, conn.ID, reason); err != nil {
		s.log.Error().Err(err).Int64("connection", conn.ID).Msg("деактивация подключения")
	}
	s.failPermanently(ctx, job, delivery, reason)
}

package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"postline/internal/domain"
	"postline/internal/infra/metrics"
)

const (
	passLockKey = "postline:scheduler_pass"
	passLockTTL = 5 * time.Minute
	claimLease  = 5 * time.Minute
)

// PublisherRegistry выдаёт публикатора площадки.
type PublisherRegistry interface {
	Get(platform domain.Platform) (domain.Publisher, error)
}

// Service выполняет один проход планировщика: промоушен расписания,
// исполнение задач и сверку агрегатных статусов. Долгоживущего воркера нет,
// всё состояние между проходами живёт в БД.
type Service struct {
	content     domain.ContentRepo
	connections domain.ConnectionRepo
	jobs        domain.JobRepo
	publishers  PublisherRegistry
	cipher      domain.TokenCipher
	refresher   domain.CredentialRefresher
	cache       domain.Cache
	policy      domain.RetryPolicy
	timeout     time.Duration
	jobLimit    int
	log         zerolog.Logger
	now         func() time.Time
}

// Options настраивает проход планировщика.
type Options struct {
	Policy         domain.RetryPolicy
	PublishTimeout time.Duration
	JobLimit       int
}

// NewService создаёт сервис прохода. Cache может быть nil — тогда проход
// выполняется без распределённого замка.
func NewService(content domain.ContentRepo, connections domain.ConnectionRepo, jobs domain.JobRepo,
	publishers PublisherRegistry, cipher domain.TokenCipher, refresher domain.CredentialRefresher,
	cache domain.Cache, opts Options, logger zerolog.Logger) *Service {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 30 * time.Second
	}
	if opts.JobLimit <= 0 {
		opts.JobLimit = 100
	}
	return &Service{
		content:     content,
		connections: connections,
		jobs:        jobs,
		publishers:  publishers,
		cipher:      cipher,
		refresher:   refresher,
		cache:       cache,
		policy:      opts.Policy,
		timeout:     opts.PublishTimeout,
		jobLimit:    opts.JobLimit,
		log:         logger,
		now:         time.Now,
	}
}

// RunPass выполняет один идемпотентный проход. Перекрывающийся запуск
// пропускается по замку в Redis и возвращает нулевой отчёт.
func (s *Service) RunPass(ctx context.Context) (domain.PassReport, error) {
	if s.cache == nil {
		return s.runPass(ctx), nil
	}
	var report domain.PassReport
	err := s.cache.Once(passLockKey, passLockTTL, func() error {
		report = s.runPass(ctx)
		return nil
	})
	return report, err
}

func (s *Service) runPass(ctx context.Context) domain.PassReport {
	start := s.now()
	defer func() {
		metrics.SchedulerPassSeconds.Observe(time.Since(start).Seconds())
	}()

	var report domain.PassReport
	touched := make(map[int64]struct{})

	s.promoteDue(ctx, &report, touched)
	s.processJobs(ctx, &report, touched)
	s.reconcile(ctx, touched)

	s.log.Info().Int("promoted", report.Promoted).Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("проход планировщика завершён")
	return report
}

// promoteDue переводит публикации с наступившим расписанием в работу.
func (s *Service) promoteDue(ctx context.Context, report *domain.PassReport, touched map[int64]struct{}) {
	items, err := s.content.ListDueScheduled(ctx, s.now(), s.jobLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("выборка публикаций по расписанию")
		return
	}
	for _, item := range items {
		promotion, err := s.content.PromoteToPublishing(ctx, item.ID)
		if err != nil {
			s.log.Error().Err(err).Int64("item", item.ID).Msg("не удалось перевести публикацию в работу")
			continue
		}
		if !promotion.Promoted {
			continue
		}
		report.Promoted++
		touched[item.ID] = struct{}{}
		metrics.ItemsPromoted.Inc()
	}
}

// processJobs исполняет готовые задачи в порядке создания.
// Сбой одной задачи не прерывает обработку остальных.
func (s *Service) processJobs(ctx context.Context, report *domain.PassReport, touched map[int64]struct{}) {
	due, err := s.jobs.ListDueJobs(ctx, s.now(), s.jobLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("выборка задач публикации")
		return
	}
	for _, job := range due {
		claimed, ok, err := s.jobs.ClaimJob(ctx, job.ID, claimLease)
		if err != nil {
			s.log.Error().Err(err).Str("job", job.ID).Msg("захват задачи")
			continue
		}
		if !ok {
			// Задачу успел забрать параллельный проход.
			continue
		}
		outcome := s.executeJob(ctx, claimed)
		report.Processed++
		switch outcome.kind {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeFailed:
			report.Failed++
		}
		if outcome.itemID != 0 {
			touched[outcome.itemID] = struct{}{}
		}
	}
}

// reconcile пересчитывает агрегатные статусы затронутых публикаций.
// Пересчёт чистый по доставкам и безопасен при повторном запуске.
func (s *Service) reconcile(ctx context.Context, touched map[int64]struct{}) {
	for itemID := range touched {
		deliveries, err := s.content.ListDeliveries(ctx, itemID)
		if err != nil {
			s.log.Error().Err(err).Int64("item", itemID).Msg("сверка: выборка доставок")
			continue
		}
		status := domain.AggregateStatus(deliveries)
		if status == domain.ContentPublishing {
			continue
		}
		if err := s.content.SetAggregateStatus(ctx, itemID, status); err != nil {
			s.log.Error().Err(err).Int64("item", itemID).Msg("сверка: запись статуса")
		}
	}
}

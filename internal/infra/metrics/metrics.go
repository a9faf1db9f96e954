package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ItemsPromoted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "publish_items_promoted_total",
		Help: "Публикации, переведённые в работу планировщиком",
	})
	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_jobs_processed_total",
		Help: "Обработанные задачи публикации по площадкам и исходам",
	}, []string{"platform", "outcome"})
	PublishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publish_call_duration_seconds",
		Help:    "Длительность вызова API площадки",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})
	SchedulerPassSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_pass_seconds",
		Help:    "Длительность одного прохода планировщика",
		Buckets: prometheus.DefBuckets,
	})
	TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_token_refresh_total",
		Help: "Обновления access-токенов по площадкам и статусу",
	}, []string{"platform", "status"})
	OAuthCallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_callbacks_total",
		Help: "Колбэки OAuth по площадкам и статусу",
	}, []string{"platform", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ItemsPromoted,
		JobsProcessed,
		PublishDuration,
		SchedulerPassSeconds,
		TokenRefreshTotal,
		OAuthCallbacks,
	)
}

// ObservePublish записывает исход и длительность вызова площадки.
func ObservePublish(platform string, start time.Time, outcome string) {
	PublishDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	JobsProcessed.WithLabelValues(platform, outcome).Inc()
}

// ObserveTokenRefresh записывает попытку обновления токена.
func ObserveTokenRefresh(platform string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	TokenRefreshTotal.WithLabelValues(platform, status).Inc()
}

// ObserveOAuthCallback записывает исход OAuth-колбэка.
func ObserveOAuthCallback(platform, status string) {
	OAuthCallbacks.WithLabelValues(platform, status).Inc()
}

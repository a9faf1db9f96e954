package platforms

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"postline/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Registry хранит публикаторов по площадкам.
type Registry map[domain.Platform]domain.Publisher

// NewRegistry собирает публикаторов всех поддерживаемых площадок.
func NewRegistry(timeout time.Duration) Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	publishers := []domain.Publisher{
		NewTwitter(httpClient),
		NewTelegram(httpClient),
		NewLinkedIn(httpClient),
		NewReddit(httpClient),
	}
	registry := make(Registry, len(publishers))
	for _, pub := range publishers {
		registry[pub.Platform()] = pub
	}
	return registry
}

// Get возвращает публикатора площадки.
func (r Registry) Get(platform domain.Platform) (domain.Publisher, error) {
	pub, ok := r[platform]
	if !ok {
		return nil, domain.PermanentPublishf("площадка %s не поддерживается", platform)
	}
	return pub, nil
}

// composeText собирает итоговый текст поста с хэштегами.
func composeText(text string, hashtags []string) string {
	var tags []string
	for _, tag := range hashtags {
		tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if tag != "" {
			tags = append(tags, "#"+tag)
		}
	}
	if len(tags) == 0 {
		return text
	}
	return strings.TrimRight(text, "\n ") + "\n\n" + strings.Join(tags, " ")
}

// classifyStatus переводит HTTP-статус площадки в ошибку публикации:
// rate limit и серверные сбои временные, остальное — окончательный отказ.
func classifyStatus(platform domain.Platform, status int, body string) error {
	body = strings.TrimSpace(body)
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return domain.TransientPublishf("%s: статус %d: %s", platform, status, body)
	}
	return domain.PermanentPublishf("%s: статус %d: %s", platform, status, body)
}

// wrapTransportError классифицирует сбой до получения ответа площадки.
func wrapTransportError(platform domain.Platform, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TransientPublishf("%s: таймаут запроса", platform)
	}
	return domain.TransientPublishf("%s: сетевой сбой: %v", platform, err)
}

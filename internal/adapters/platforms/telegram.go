package platforms

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postline/internal/domain"
)

// Telegram публикует посты в канал через Bot API. Access token подключения —
// это токен бота, external account id — идентификатор канала.
type Telegram struct {
	httpClient *http.Client
}

// NewTelegram создаёт публикатора.
func NewTelegram(httpClient *http.Client) *Telegram {
	return &Telegram{httpClient: httpClient}
}

// Platform реализует domain.Publisher.
func (t *Telegram) Platform() domain.Platform { return domain.PlatformTelegram }

// Publish отправляет сообщение в канал.
func (t *Telegram) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(req.AccessToken, tgbotapi.APIEndpoint, t.httpClient)
	if err != nil {
		return domain.PublishResult{}, t.classify(err)
	}

	text := composeText(req.Text, req.Hashtags)
	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(req.ExternalAccountID, "@") {
		msg = tgbotapi.NewMessageToChannel(req.ExternalAccountID, text)
	} else {
		chatID, err := strconv.ParseInt(req.ExternalAccountID, 10, 64)
		if err != nil {
			return domain.PublishResult{}, domain.PermanentPublishf("telegram: некорректный идентификатор канала %q", req.ExternalAccountID)
		}
		msg = tgbotapi.NewMessage(chatID, text)
	}

	if err := ctx.Err(); err != nil {
		return domain.PublishResult{}, wrapTransportError(domain.PlatformTelegram, err)
	}
	sent, err := bot.Send(msg)
	if err != nil {
		return domain.PublishResult{}, t.classify(err)
	}
	return domain.PublishResult{ExternalPostID: strconv.Itoa(sent.MessageID)}, nil
}

func (t *Telegram) classify(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch {
		case tgErr.Code == http.StatusTooManyRequests || tgErr.Code >= 500:
			return domain.TransientPublishf("telegram: статус %d: %s", tgErr.Code, tgErr.Message)
		case tgErr.Code == http.StatusUnauthorized || tgErr.Code == http.StatusForbidden:
			return domain.PermanentPublishf("telegram: доступ отклонён: %s", tgErr.Message)
		default:
			return domain.PermanentPublishf("telegram: пост отклонён: %s", tgErr.Message)
		}
	}
	return wrapTransportError(domain.PlatformTelegram, err)
}

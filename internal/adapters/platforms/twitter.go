package platforms

import (
	"context"
	"errors"
	"net/http"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	"github.com/michimani/gotwi/tweet/managetweet/types"

	"postline/internal/domain"
)

// Twitter публикует твиты через API v2 (michimani/gotwi).
type Twitter struct {
	httpClient *http.Client
}

// NewTwitter создаёт публикатора.
func NewTwitter(httpClient *http.Client) *Twitter {
	return &Twitter{httpClient: httpClient}
}

// Platform реализует domain.Publisher.
func (t *Twitter) Platform() domain.Platform { return domain.PlatformTwitter }

// Publish отправляет твит от имени подключённого аккаунта.
func (t *Twitter) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	client, err := gotwi.NewClientWithAccessToken(&gotwi.NewClientWithAccessTokenInput{
		AccessToken: req.AccessToken,
		HTTPClient:  t.httpClient,
	})
	if err != nil {
		return domain.PublishResult{}, domain.PermanentPublishf("twitter: клиент: %v", err)
	}

	res, err := managetweet.Create(ctx, client, &types.CreateInput{
		Text: gotwi.String(composeText(req.Text, req.Hashtags)),
	})
	if err != nil {
		return domain.PublishResult{}, t.classify(err)
	}
	return domain.PublishResult{ExternalPostID: gotwi.StringValue(res.Data.ID)}, nil
}

func (t *Twitter) classify(err error) error {
	var ge *gotwi.GotwiError
	if errors.As(err, &ge) && ge.OnAPI {
		switch {
		case ge.StatusCode == http.StatusUnauthorized || ge.StatusCode == http.StatusForbidden:
			return domain.PermanentPublishf("twitter: доступ отклонён (статус %d)", ge.StatusCode)
		case ge.StatusCode == http.StatusTooManyRequests || ge.StatusCode >= 500:
			return domain.TransientPublishf("twitter: статус %d", ge.StatusCode)
		default:
			return domain.PermanentPublishf("twitter: пост отклонён (статус %d)", ge.StatusCode)
		}
	}
	return wrapTransportError(domain.PlatformTwitter, err)
}

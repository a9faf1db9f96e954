package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"postline/internal/domain"
)

const redditSubmitURL = "https://oauth.reddit.com/api/submit"

// Reddit публикует текстовые посты в профиль подключённого аккаунта
// (сабреддит u_<имя>). Пак-библиотека go-reddit работает только с password
// grant, поэтому сабмит выполняется прямым запросом с bearer-токеном.
type Reddit struct {
	httpClient *http.Client
	baseURL    string
}

// NewReddit создаёт публикатора.
func NewReddit(httpClient *http.Client) *Reddit {
	return &Reddit{httpClient: httpClient, baseURL: redditSubmitURL}
}

// Platform реализует domain.Publisher.
func (r *Reddit) Platform() domain.Platform { return domain.PlatformReddit }

// Publish создаёт self-post.
func (r *Reddit) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	title := req.Title
	if title == "" {
		title = firstLine(req.Text)
	}
	form := url.Values{
		"api_type": {"json"},
		"kind":     {"self"},
		"sr":       {"u_" + strings.TrimPrefix(req.ExternalAccountID, "u/")},
		"title":    {title},
		"text":     {composeText(req.Text, req.Hashtags)},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("reddit: запрос: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("User-Agent", "postline/1.0")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return domain.PublishResult{}, wrapTransportError(domain.PlatformReddit, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return domain.PublishResult{}, classifyStatus(domain.PlatformReddit, resp.StatusCode, string(data))
	}

	var payload struct {
		JSON struct {
			Errors [][]any `json:"errors"`
			Data   struct {
				Name string `json:"name"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.PublishResult{}, domain.TransientPublishf("reddit: нечитаемый ответ: %v", err)
	}
	if len(payload.JSON.Errors) > 0 {
		return domain.PublishResult{}, domain.PermanentPublishf("reddit: пост отклонён: %v", payload.JSON.Errors[0])
	}
	return domain.PublishResult{ExternalPostID: payload.JSON.Data.Name}, nil
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	const maxTitle = 300
	if len(line) <= maxTitle {
		return line
	}
	// Обрезка по границе руны, иначе кириллица даст битый UTF-8.
	cut := maxTitle
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut]
}

package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"postline/internal/domain"
)

const linkedInPostsURL = "https://api.linkedin.com/v2/ugcPosts"

// LinkedIn публикует посты через ugcPosts API.
type LinkedIn struct {
	httpClient *http.Client
	baseURL    string
}

// NewLinkedIn создаёт публикатора.
func NewLinkedIn(httpClient *http.Client) *LinkedIn {
	return &LinkedIn{httpClient: httpClient, baseURL: linkedInPostsURL}
}

// Platform реализует domain.Publisher.
func (l *LinkedIn) Platform() domain.Platform { return domain.PlatformLinkedIn }

// Publish создаёт пост от имени участника.
func (l *LinkedIn) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	payload := map[string]any{
		"author":         "urn:li:person:" + req.ExternalAccountID,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": composeText(req.Text, req.Hashtags)},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("linkedin: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL, bytes.NewReader(body))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("linkedin: запрос: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return domain.PublishResult{}, wrapTransportError(domain.PlatformLinkedIn, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.PublishResult{}, classifyStatus(domain.PlatformLinkedIn, resp.StatusCode, string(data))
	}

	postID := resp.Header.Get("X-RestLi-Id")
	if postID == "" {
		var created struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&created)
		postID = created.ID
	}
	return domain.PublishResult{ExternalPostID: postID}, nil
}

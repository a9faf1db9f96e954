package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"postline/internal/domain"
	"postline/internal/infra/config"
	"postline/internal/infra/metrics"
)

// profileFetcher получает данные внешнего аккаунта по access token.
type profileFetcher func(ctx context.Context, client *http.Client) (domain.ExternalProfile, error)

// Provider описывает OAuth-приложение одной площадки.
type Provider struct {
	platform     domain.Platform
	config       *oauth2.Config
	extraAuth    []oauth2.AuthCodeOption
	fetchProfile profileFetcher
}

// Providers хранит OAuth-приложения всех площадок с авторизацией по коду.
type Providers struct {
	byPlatform map[domain.Platform]*Provider
}

var _ domain.CredentialRefresher = (*Providers)(nil)

// NewProviders собирает провайдеров из конфигурации. Telegram здесь
// отсутствует: его подключение создаётся по токену бота, без OAuth.
func NewProviders(cfg config.AppConfig) *Providers {
	redirect := func(platform domain.Platform) string {
		return strings.TrimRight(cfg.OAuth.RedirectBase, "/") + "/auth/" + string(platform) + "/callback"
	}
	providers := map[domain.Platform]*Provider{
		domain.PlatformTwitter: {
			platform: domain.PlatformTwitter,
			config: &oauth2.Config{
				ClientID:     cfg.OAuth.Twitter.ClientID,
				ClientSecret: cfg.OAuth.Twitter.ClientSecret,
				RedirectURL:  redirect(domain.PlatformTwitter),
				Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
				Endpoint: oauth2.Endpoint{
					AuthURL:   "https://twitter.com/i/oauth2/authorize",
					TokenURL:  "https://api.twitter.com/2/oauth2/token",
					AuthStyle: oauth2.AuthStyleInHeader,
				},
			},
			fetchProfile: fetchTwitterProfile,
		},
		domain.PlatformLinkedIn: {
			platform: domain.PlatformLinkedIn,
			config: &oauth2.Config{
				ClientID:     cfg.OAuth.LinkedIn.ClientID,
				ClientSecret: cfg.OAuth.LinkedIn.ClientSecret,
				RedirectURL:  redirect(domain.PlatformLinkedIn),
				Scopes:       []string{"openid", "profile", "w_member_social"},
				Endpoint: oauth2.Endpoint{
					AuthURL:   "https://www.linkedin.com/oauth/v2/authorization",
					TokenURL:  "https://www.linkedin.com/oauth/v2/accessToken",
					AuthStyle: oauth2.AuthStyleInParams,
				},
			},
			fetchProfile: fetchLinkedInProfile,
		},
		domain.PlatformReddit: {
			platform: domain.PlatformReddit,
			config: &oauth2.Config{
				ClientID:     cfg.OAuth.Reddit.ClientID,
				ClientSecret: cfg.OAuth.Reddit.ClientSecret,
				RedirectURL:  redirect(domain.PlatformReddit),
				Scopes:       []string{"identity", "submit"},
				Endpoint: oauth2.Endpoint{
					AuthURL:   "https://www.reddit.com/api/v1/authorize",
					TokenURL:  "https://www.reddit.com/api/v1/access_token",
					AuthStyle: oauth2.AuthStyleInHeader,
				},
			},
			extraAuth:    []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("duration", "permanent")},
			fetchProfile: fetchRedditProfile,
		},
	}
	return &Providers{byPlatform: providers}
}

// Get возвращает провайдера площадки.
func (p *Providers) Get(platform domain.Platform) (*Provider, error) {
	provider, ok := p.byPlatform[platform]
	if !ok {
		return nil, fmt.Errorf("площадка %s не поддерживает OAuth-авторизацию", platform)
	}
	return provider, nil
}

// Refresh обновляет access token по refresh token площадки.
func (p *Providers) Refresh(ctx context.Context, platform domain.Platform, refreshToken string) (domain.OAuthToken, error) {
	provider, err := p.Get(platform)
	if err != nil {
		return domain.OAuthToken{}, err
	}
	source := provider.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	metrics.ObserveTokenRefresh(string(platform), err)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("обновление токена %s: %w", platform, err)
	}
	return fromOAuth2Token(token), nil
}

// AuthCodeURL строит адрес авторизации площадки. Для PKCE-площадок
// добавляется code challenge (метод S256).
func (pr *Provider) AuthCodeURL(state, codeChallenge string) string {
	opts := append([]oauth2.AuthCodeOption{}, pr.extraAuth...)
	if pr.platform.RequiresPKCE() {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return pr.config.AuthCodeURL(state, opts...)
}

// Exchange меняет authorization code на токены площадки.
func (pr *Provider) Exchange(ctx context.Context, code, codeVerifier string) (domain.OAuthToken, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}
	token, err := pr.config.Exchange(ctx, code, opts...)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("обмен кода %s: %w", pr.platform, err)
	}
	return fromOAuth2Token(token), nil
}

// FetchProfile запрашивает профиль внешнего аккаунта.
func (pr *Provider) FetchProfile(ctx context.Context, accessToken string) (domain.ExternalProfile, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	client.Timeout = 15 * time.Second
	profile, err := pr.fetchProfile(ctx, client)
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("профиль %s: %w", pr.platform, err)
	}
	return profile, nil
}

func fromOAuth2Token(token *oauth2.Token) domain.OAuthToken {
	return domain.OAuthToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}
}

func fetchTwitterProfile(ctx context.Context, client *http.Client) (domain.ExternalProfile, error) {
	var payload struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := getJSON(ctx, client, "https://api.twitter.com/2/users/me", nil, &payload); err != nil {
		return domain.ExternalProfile{}, err
	}
	return domain.ExternalProfile{AccountID: payload.Data.ID, AccountName: "@" + payload.Data.Username}, nil
}

func fetchLinkedInProfile(ctx context.Context, client *http.Client) (domain.ExternalProfile, error) {
	var payload struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if err := getJSON(ctx, client, "https://api.linkedin.com/v2/userinfo", nil, &payload); err != nil {
		return domain.ExternalProfile{}, err
	}
	return domain.ExternalProfile{AccountID: payload.Sub, AccountName: payload.Name}, nil
}

func fetchRedditProfile(ctx context.Context, client *http.Client) (domain.ExternalProfile, error) {
	headers := map[string]string{"User-Agent": "postline/1.0"}
	var payload struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := getJSON(ctx, client, "https://oauth.reddit.com/api/v1/me", headers, &payload); err != nil {
		return domain.ExternalProfile{}, err
	}
	// Имя аккаунта служит идентификатором: сабмит идёт в сабреддит u_<имя>.
	return domain.ExternalProfile{AccountID: payload.Name, AccountName: "u/" + payload.Name}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

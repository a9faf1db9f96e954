package platforms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"postline/internal/domain"
)

func TestComposeText(t *testing.T) {
	cases := []struct {
		text     string
		hashtags []string
		expected string
	}{
		{"пост", nil, "пост"},
		{"пост", []string{"go", "#release"}, "пост\n\n#go #release"},
		{"пост\n", []string{"go"}, "пост\n\n#go"},
		{"пост", []string{" ", ""}, "пост"},
	}
	for _, tc := range cases {
		if got := composeText(tc.text, tc.hashtags); got != tc.expected {
			t.Fatalf("ожидали %q, получили %q", tc.expected, got)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	transient := []int{http.StatusTooManyRequests, http.StatusRequestTimeout, 500, 503}
	for _, status := range transient {
		if !domain.IsTransientPublishError(classifyStatus(domain.PlatformReddit, status, "")) {
			t.Fatalf("статус %d должен быть временной ошибкой", status)
		}
	}
	permanent := []int{400, 401, 403, 404, 422}
	for _, status := range permanent {
		if domain.IsTransientPublishError(classifyStatus(domain.PlatformReddit, status, "")) {
			t.Fatalf("статус %d должен быть постоянной ошибкой", status)
		}
	}
}

func TestRegistryCoversAllPlatforms(t *testing.T) {
	registry := NewRegistry(0)
	for _, platform := range []domain.Platform{domain.PlatformTwitter, domain.PlatformTelegram, domain.PlatformLinkedIn, domain.PlatformReddit} {
		pub, err := registry.Get(platform)
		if err != nil {
			t.Fatalf("площадка %s должна быть в реестре: %v", platform, err)
		}
		if pub.Platform() != platform {
			t.Fatalf("публикатор %s вернул площадку %s", platform, pub.Platform())
		}
	}
	if _, err := registry.Get("facebook"); err == nil {
		t.Fatalf("неизвестная площадка должна отклоняться")
	}
}

func TestRedditPublish(t *testing.T) {
	var form map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("ожидали bearer-токен, получили %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("не удалось разобрать форму: %v", err)
		}
		form = r.PostForm
		w.Write([]byte(`{"json":{"errors":[],"data":{"name":"t3_abc"}}}`))
	}))
	defer server.Close()

	reddit := NewReddit(server.Client())
	reddit.baseURL = server.URL

	result, err := reddit.Publish(context.Background(), domain.PublishRequest{
		AccessToken:       "token",
		ExternalAccountID: "u/author",
		Title:             "Анонс",
		Text:              "текст поста",
		Hashtags:          []string{"go"},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.ExternalPostID != "t3_abc" {
		t.Fatalf("ожидали t3_abc, получили %s", result.ExternalPostID)
	}
	if got := form["sr"]; len(got) != 1 || got[0] != "u_author" {
		t.Fatalf("сабмит должен идти в профильный сабреддит, получили %v", form["sr"])
	}
	if got := form["title"]; len(got) != 1 || got[0] != "Анонс" {
		t.Fatalf("ожидали заголовок публикации, получили %v", form["title"])
	}
}

func TestRedditPublishUsesFirstLineWithoutTitle(t *testing.T) {
	var title string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		title = r.PostForm.Get("title")
		w.Write([]byte(`{"json":{"errors":[],"data":{"name":"t3_abc"}}}`))
	}))
	defer server.Close()

	reddit := NewReddit(server.Client())
	reddit.baseURL = server.URL

	_, err := reddit.Publish(context.Background(), domain.PublishRequest{
		ExternalAccountID: "author",
		Text:              "первая строка\nостальной текст",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if title != "первая строка" {
		t.Fatalf("заголовком служит первая строка, получили %q", title)
	}
}

func TestRedditTitleTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ы", 200) // 400 байт в UTF-8
	title := firstLine(long)
	if len(title) > 300 {
		t.Fatalf("заголовок длиннее лимита: %d байт", len(title))
	}
	if !utf8.ValidString(title) {
		t.Fatalf("обрезка разорвала руну: %q", title)
	}
	if title != strings.Repeat("ы", 150) {
		t.Fatalf("ожидали 150 рун, получили %d", utf8.RuneCountInString(title))
	}

	short := "короткая строка"
	if got := firstLine(short); got != short {
		t.Fatalf("короткая строка не должна обрезаться: %q", got)
	}
}

func TestRedditPublishRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"json":{"errors":[["SUBREDDIT_NOTALLOWED","not allowed","sr"]]}}`))
	}))
	defer server.Close()

	reddit := NewReddit(server.Client())
	reddit.baseURL = server.URL

	_, err := reddit.Publish(context.Background(), domain.PublishRequest{ExternalAccountID: "author", Text: "текст"})
	if err == nil {
		t.Fatalf("ожидали отказ площадки")
	}
	if domain.IsTransientPublishError(err) {
		t.Fatalf("отказ площадки — постоянная ошибка: %v", err)
	}
}

func TestLinkedInPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Restli-Protocol-Version"); got != "2.0.0" {
			t.Errorf("ожидали заголовок протокола, получили %q", got)
		}
		w.Header().Set("X-RestLi-Id", "urn:li:share:1")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	linkedin := NewLinkedIn(server.Client())
	linkedin.baseURL = server.URL

	result, err := linkedin.Publish(context.Background(), domain.PublishRequest{
		AccessToken:       "token",
		ExternalAccountID: "abc",
		Text:              "текст поста",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.ExternalPostID != "urn:li:share:1" {
		t.Fatalf("ожидали идентификатор из заголовка, получили %s", result.ExternalPostID)
	}
}

func TestLinkedInPublishRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	linkedin := NewLinkedIn(server.Client())
	linkedin.baseURL = server.URL

	_, err := linkedin.Publish(context.Background(), domain.PublishRequest{ExternalAccountID: "abc", Text: "текст"})
	if err == nil {
		t.Fatalf("ожидали ошибку rate limit")
	}
	if !domain.IsTransientPublishError(err) {
		t.Fatalf("rate limit — временная ошибка: %v", err)
	}
}

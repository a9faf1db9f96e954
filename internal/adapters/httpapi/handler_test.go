package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"postline/internal/adapters/oauth"
	"postline/internal/domain"
	"postline/internal/infra/config"
	"postline/internal/infra/crypto"
	httpinfra "postline/internal/infra/http"
	connusecase "postline/internal/usecase/connections"
	"postline/internal/usecase/publish"
	"postline/internal/usecase/runner"
)

const (
	testCronSecret    = "cron-secret"
	testSessionSecret = "session-secret"
)

type stubRepo struct {
	client domain.Client
	item   domain.ContentItem

	promotion domain.Promotion
}

func (s *stubRepo) CreateContentItem(_ context.Context, item domain.ContentItem, _ []domain.DeliveryTarget) (domain.ContentItem, error) {
	item.ID = 1
	item.Status = domain.ContentDraft
	return item, nil
}

func (s *stubRepo) GetContentItem(context.Context, int64) (domain.ContentItem, error) {
	if s.item.ID == 0 {
		return domain.ContentItem{}, domain.ErrNotFound
	}
	return s.item, nil
}

func (s *stubRepo) ListDeliveries(context.Context, int64) ([]domain.PlatformDelivery, error) {
	return nil, nil
}

func (s *stubRepo) ListDueScheduled(context.Context, time.Time, int) ([]domain.ContentItem, error) {
	return nil, nil
}

func (s *stubRepo) PromoteToPublishing(context.Context, int64) (domain.Promotion, error) {
	return s.promotion, nil
}

func (s *stubRepo) SetAggregateStatus(context.Context, int64, domain.ContentStatus) error { return nil }

func (s *stubRepo) GetClient(context.Context, int64) (domain.Client, error) {
	if s.client.ID == 0 {
		return domain.Client{}, domain.ErrNotFound
	}
	return s.client, nil
}

func (s *stubRepo) UpsertConnection(_ context.Context, conn domain.PlatformConnection) (domain.PlatformConnection, error) {
	return conn, nil
}

func (s *stubRepo) GetConnection(context.Context, int64) (domain.PlatformConnection, error) {
	return domain.PlatformConnection{}, domain.ErrNotFound
}

func (s *stubRepo) ListClientConnections(context.Context, int64) ([]domain.PlatformConnection, error) {
	return nil, nil
}

func (s *stubRepo) UpdateConnectionTokens(context.Context, int64, string, string, *time.Time) error {
	return nil
}

func (s *stubRepo) DeactivateConnection(context.Context, int64, string) error { return nil }

func (s *stubRepo) ListDueJobs(context.Context, time.Time, int) ([]domain.PublishJob, error) {
	return nil, nil
}

func (s *stubRepo) ClaimJob(context.Context, string, time.Duration) (domain.PublishJob, bool, error) {
	return domain.PublishJob{}, false, nil
}

func (s *stubRepo) GetDelivery(context.Context, int64) (domain.PlatformDelivery, error) {
	return domain.PlatformDelivery{}, domain.ErrNotFound
}

func (s *stubRepo) CompleteJob(context.Context, string, int64, string, time.Time) error { return nil }

func (s *stubRepo) RescheduleJob(context.Context, string, int, time.Time, string) error { return nil }

func (s *stubRepo) FailJob(context.Context, string, int64, string) error { return nil }

type noCipher struct{}

func (noCipher) Encrypt(plaintext string) (string, error) { return plaintext, nil }
func (noCipher) Decrypt(blob string) (string, error)      { return blob, nil }

type emptyRegistry struct{}

func (emptyRegistry) Get(platform domain.Platform) (domain.Publisher, error) {
	return nil, domain.PermanentPublishf("площадка %s не поддерживается", platform)
}

func newTestRouter(t *testing.T, repo *stubRepo) chi.Router {
	t.Helper()
	logger := zerolog.Nop()
	signer, err := crypto.NewStateSigner(testSessionSecret)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	var cfg config.AppConfig
	cfg.OAuth.RedirectBase = "https://api.example.com"

	publishSvc := publish.NewService(repo, repo, logger)
	connSvc := connusecase.NewService(repo, oauth.NewProviders(cfg), noCipher{}, signer, nil, logger)
	runnerSvc := runner.NewService(repo, repo, repo, emptyRegistry{}, noCipher{}, nil, nil,
		runner.Options{Policy: domain.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute}}, logger)

	handler := NewHandler(publishSvc, connSvc, runnerSvc, testCronSecret, "https://app.example.com", logger)
	r := chi.NewRouter()
	handler.Register(r, testSessionSecret)
	return r
}

func sessionToken() string {
	return httpinfra.IssueSessionToken(testSessionSecret, 42, time.Hour)
}

func TestCronRunRequiresSecret(t *testing.T) {
	router := newTestRouter(t, &stubRepo{})

	cases := map[string]string{
		"без заголовка":      "",
		"неверный секрет":    "Bearer wrong",
		"не bearer":          testCronSecret,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/internal/cron/run", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: ожидали 401, получили %d", name, rec.Code)
		}
	}
}

func TestCronRunReturnsReport(t *testing.T) {
	router := newTestRouter(t, &stubRepo{})

	req := httptest.NewRequest(http.MethodPost, "/internal/cron/run", nil)
	req.Header.Set("Authorization", "Bearer "+testCronSecret)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d: %s", rec.Code, rec.Body.String())
	}
	var report domain.PassReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("ожидали JSON-отчёт: %v", err)
	}
	if report.Processed != 0 || report.Promoted != 0 {
		t.Fatalf("пустой проход даёт нулевой отчёт: %+v", report)
	}
}

func TestContentRequiresSession(t *testing.T) {
	router := newTestRouter(t, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("без сессии ожидали 401, получили %d", rec.Code)
	}
}

func TestCreateContent(t *testing.T) {
	repo := &stubRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	router := newTestRouter(t, repo)

	body := `{"client_id":7,"title":"Анонс","body":"текст поста"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/content", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+sessionToken())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидали 201, получили %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("ожидали JSON: %v", err)
	}
	if payload["status"] != string(domain.ContentDraft) {
		t.Fatalf("новая публикация — черновик, получили %v", payload["status"])
	}
}

func TestPublishNowConflict(t *testing.T) {
	repo := &stubRepo{
		client: domain.Client{ID: 7, OwnerUserID: 42},
		item:   domain.ContentItem{ID: 1, OwnerUserID: 42, Status: domain.ContentPublishing},
	}
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/content/1/publish", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("повторная отправка — 409, получили %d", rec.Code)
	}
}

func TestPublishNowForeignItem(t *testing.T) {
	repo := &stubRepo{
		client: domain.Client{ID: 7, OwnerUserID: 1},
		item:   domain.ContentItem{ID: 1, OwnerUserID: 1, Status: domain.ContentDraft},
	}
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/content/1/publish", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("чужая публикация — 403, получили %d", rec.Code)
	}
}

func TestAuthCallbackRedirectsOnPlatformError(t *testing.T) {
	router := newTestRouter(t, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("ожидали редирект, получили %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "https://app.example.com/connections?") ||
		!strings.Contains(location, "error=access_denied") {
		t.Fatalf("редирект должен вести в приложение с ошибкой: %s", location)
	}
}

func TestAuthCallbackRejectsInvalidState(t *testing.T) {
	router := newTestRouter(t, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?state=мусор&code=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("ожидали редирект, получили %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "error=invalid_state") {
		t.Fatalf("невалидный state должен вернуть ошибку: %s", rec.Header().Get("Location"))
	}
}

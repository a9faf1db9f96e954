package connections

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"postline/internal/adapters/oauth"
	"postline/internal/domain"
	"postline/internal/infra/config"
	"postline/internal/infra/crypto"
)

type stubConnRepo struct {
	client      domain.Client
	connections map[int64]domain.PlatformConnection

	upserts     []domain.PlatformConnection
	deactivated []int64
}

func (s *stubConnRepo) GetClient(context.Context, int64) (domain.Client, error) {
	if s.client.ID == 0 {
		return domain.Client{}, domain.ErrNotFound
	}
	return s.client, nil
}

func (s *stubConnRepo) UpsertConnection(_ context.Context, conn domain.PlatformConnection) (domain.PlatformConnection, error) {
	conn.ID = int64(len(s.upserts) + 1)
	s.upserts = append(s.upserts, conn)
	return conn, nil
}

func (s *stubConnRepo) GetConnection(_ context.Context, id int64) (domain.PlatformConnection, error) {
	conn, ok := s.connections[id]
	if !ok {
		return domain.PlatformConnection{}, domain.ErrNotFound
	}
	return conn, nil
}

func (s *stubConnRepo) ListClientConnections(context.Context, int64) ([]domain.PlatformConnection, error) {
	return nil, nil
}

func (s *stubConnRepo) UpdateConnectionTokens(context.Context, int64, string, string, *time.Time) error {
	return nil
}

func (s *stubConnRepo) DeactivateConnection(_ context.Context, id int64, _ string) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

// plainCipher хранит токены с префиксом вместо настоящего шифрования.
type plainCipher struct{}

func (plainCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (plainCipher) Decrypt(blob string) (string, error) {
	return strings.TrimPrefix(blob, "enc:"), nil
}

func testProviders() *oauth.Providers {
	var cfg config.AppConfig
	cfg.OAuth.RedirectBase = "https://api.example.com"
	cfg.OAuth.Twitter.ClientID = "tw-client"
	return oauth.NewProviders(cfg)
}

func newTestService(repo *stubConnRepo, verify TelegramVerifier) *Service {
	signer, err := crypto.NewStateSigner("test-secret-test-secret-test-sec")
	if err != nil {
		panic(err)
	}
	return NewService(repo, testProviders(), plainCipher{}, signer, verify, zerolog.Nop())
}

func TestBeginAuthTwitter(t *testing.T) {
	repo := &stubConnRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	service := newTestService(repo, nil)

	authURL, err := service.BeginAuth(context.Background(), 42, 7, domain.PlatformTwitter)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(authURL, "twitter.com/i/oauth2/authorize") {
		t.Fatalf("ожидали адрес авторизации twitter: %s", authURL)
	}
	if !strings.Contains(authURL, "code_challenge=") || !strings.Contains(authURL, "code_challenge_method=S256") {
		t.Fatalf("twitter требует PKCE challenge: %s", authURL)
	}
	if !strings.Contains(authURL, "state=") {
		t.Fatalf("адрес должен нести подписанный state: %s", authURL)
	}
}

func TestBeginAuthForeignClient(t *testing.T) {
	repo := &stubConnRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	service := newTestService(repo, nil)

	_, err := service.BeginAuth(context.Background(), 99, 7, domain.PlatformTwitter)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("чужой клиент должен отклоняться, получили %v", err)
	}
}

func TestBeginAuthTelegramRejected(t *testing.T) {
	repo := &stubConnRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	service := newTestService(repo, nil)

	if _, err := service.BeginAuth(context.Background(), 42, 7, domain.PlatformTelegram); err == nil {
		t.Fatalf("telegram не поддерживает OAuth-поток")
	}
}

func TestCompleteAuthRejectsGarbageState(t *testing.T) {
	repo := &stubConnRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	service := newTestService(repo, nil)

	if _, err := service.CompleteAuth(context.Background(), "мусор", "code"); err == nil {
		t.Fatalf("ожидали отказ для невалидного state")
	}
	if len(repo.upserts) != 0 {
		t.Fatalf("невалидный state не должен приводить к записям")
	}
}

func TestCompleteAuthRejectsTamperedState(t *testing.T) {
	repo := &stubConnRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	service := newTestService(repo, nil)

	authURL, err := service.BeginAuth(context.Background(), 42, 7, domain.PlatformTwitter)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	idx := strings.Index(authURL, "state=")
	state := authURL[idx+len("state="):]
	if amp := strings.IndexByte(state, '&'); amp >= 0 {
		state = state[:amp]
	}

	if _, err := service.CompleteAuth(context.Background(), state+"x", "code"); err == nil {
		t.Fatalf("ожидали отказ для подделанного state")
	}
	if len(repo.upserts) != 0 {
		t.Fatalf("подделанный state не должен приводить к записям")
	}
}

func TestConnectTelegram(t *testing.T) {
	repo := &stubConnRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	verify := func(context.Context, string) (domain.ExternalProfile, error) {
		return domain.ExternalProfile{AccountID: "100", AccountName: "@postbot"}, nil
	}
	service := newTestService(repo, verify)

	conn, err := service.ConnectTelegram(context.Background(), 42, 7, "bot-token", "@channel")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if conn.Platform != domain.PlatformTelegram {
		t.Fatalf("ожидали telegram, получили %s", conn.Platform)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("ожидали одну запись подключения")
	}
	saved := repo.upserts[0]
	if saved.ExternalAccountID != "@channel" {
		t.Fatalf("идентификатором аккаунта служит канал, получили %s", saved.ExternalAccountID)
	}
	if saved.AccessTokenEnc != "enc:bot-token" {
		t.Fatalf("токен бота должен храниться зашифрованным, получили %q", saved.AccessTokenEnc)
	}
}

func TestConnectTelegramBadToken(t *testing.T) {
	repo := &stubConnRepo{client: domain.Client{ID: 7, OwnerUserID: 42}}
	verify := func(context.Context, string) (domain.ExternalProfile, error) {
		return domain.ExternalProfile{}, errors.New("unauthorized")
	}
	service := newTestService(repo, verify)

	if _, err := service.ConnectTelegram(context.Background(), 42, 7, "bad", "@channel"); err == nil {
		t.Fatalf("невалидный токен бота должен отклоняться")
	}
	if len(repo.upserts) != 0 {
		t.Fatalf("невалидный токен не должен сохраняться")
	}
}

func TestDeactivateForeignConnection(t *testing.T) {
	repo := &stubConnRepo{
		client: domain.Client{ID: 7, OwnerUserID: 42},
		connections: map[int64]domain.PlatformConnection{
			5: {ID: 5, ClientID: 7},
		},
	}
	service := newTestService(repo, nil)

	if err := service.Deactivate(context.Background(), 99, 5); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("чужое подключение должно отклоняться, получили %v", err)
	}
	if len(repo.deactivated) != 0 {
		t.Fatalf("чужое подключение не должно деактивироваться")
	}
}

func TestDeactivateOwnConnection(t *testing.T) {
	repo := &stubConnRepo{
		client: domain.Client{ID: 7, OwnerUserID: 42},
		connections: map[int64]domain.PlatformConnection{
			5: {ID: 5, ClientID: 7},
		},
	}
	service := newTestService(repo, nil)

	if err := service.Deactivate(context.Background(), 42, 5); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(repo.deactivated) != 1 || repo.deactivated[0] != 5 {
		t.Fatalf("ожидали деактивацию подключения 5, получили %v", repo.deactivated)
	}
}

package connections

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"postline/internal/adapters/oauth"
	"postline/internal/domain"
	"postline/internal/infra/crypto"
	"postline/internal/infra/metrics"
)

// TelegramVerifier проверяет токен бота и возвращает профиль бота.
type TelegramVerifier func(ctx context.Context, botToken string) (domain.ExternalProfile, error)

// Service управляет подключениями к площадкам: OAuth-потоки, подключение
// Telegram по токену бота, деактивация.
type Service struct {
	connections    domain.ConnectionRepo
	providers      *oauth.Providers
	cipher         domain.TokenCipher
	signer         *crypto.StateSigner
	verifyTelegram TelegramVerifier
	log            zerolog.Logger
}

// NewService создаёт сервис подключений.
func NewService(conns domain.ConnectionRepo, providers *oauth.Providers, cipher domain.TokenCipher,
	signer *crypto.StateSigner, verifyTelegram TelegramVerifier, logger zerolog.Logger) *Service {
	return &Service{
		connections:    conns,
		providers:      providers,
		cipher:         cipher,
		signer:         signer,
		verifyTelegram: verifyTelegram,
		log:            logger,
	}
}

// BeginAuth выпускает подписанный state и возвращает адрес авторизации
// площадки. Для PKCE-площадок verifier едет внутри state, а площадке
// уходит только производный challenge.
func (s *Service) BeginAuth(ctx context.Context, userID, clientID int64, platform domain.Platform) (string, error) {
	provider, err := s.providers.Get(platform)
	if err != nil {
		return "", err
	}
	client, err := s.connections.GetClient(ctx, clientID)
	if err != nil {
		return "", fmt.Errorf("получение клиента: %w", err)
	}
	if client.OwnerUserID != userID {
		return "", domain.ErrForbidden
	}

	claims := crypto.StateClaims{UserID: userID, ClientID: clientID, Platform: platform}
	challenge := ""
	if platform.RequiresPKCE() {
		verifier, err := crypto.NewCodeVerifier()
		if err != nil {
			return "", err
		}
		claims.CodeVerifier = verifier
		challenge = crypto.CodeChallengeS256(verifier)
	}
	state, err := s.signer.Issue(claims)
	if err != nil {
		return "", err
	}
	return provider.AuthCodeURL(state, challenge), nil
}

// CompleteAuth завершает OAuth-поток: проверяет state, меняет код на токены,
// запрашивает профиль и сохраняет подключение с зашифрованными токенами.
// Недействительный state отклоняется до любых записей.
func (s *Service) CompleteAuth(ctx context.Context, stateToken, code string) (domain.PlatformConnection, error) {
	claims, err := s.signer.Verify(stateToken)
	if err != nil {
		metrics.ObserveOAuthCallback("unknown", "invalid_state")
		return domain.PlatformConnection{}, err
	}
	platform := string(claims.Platform)

	provider, err := s.providers.Get(claims.Platform)
	if err != nil {
		metrics.ObserveOAuthCallback(platform, "error")
		return domain.PlatformConnection{}, err
	}
	token, err := provider.Exchange(ctx, code, claims.CodeVerifier)
	if err != nil {
		metrics.ObserveOAuthCallback(platform, "exchange_error")
		return domain.PlatformConnection{}, err
	}
	profile, err := provider.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		metrics.ObserveOAuthCallback(platform, "profile_error")
		return domain.PlatformConnection{}, err
	}

	conn, err := s.storeConnection(ctx, claims.ClientID, claims.Platform, profile, token)
	if err != nil {
		metrics.ObserveOAuthCallback(platform, "store_error")
		return domain.PlatformConnection{}, err
	}
	metrics.ObserveOAuthCallback(platform, "success")
	s.log.Info().Int64("client", claims.ClientID).Str("platform", platform).
		Str("account", profile.AccountName).Msg("подключение площадки сохранено")
	return conn, nil
}

// ConnectTelegram создаёт подключение Telegram-канала: токен бота проверяется
// через GetMe и сохраняется зашифрованным, идентификатором аккаунта служит канал.
func (s *Service) ConnectTelegram(ctx context.Context, userID, clientID int64, botToken, channelID string) (domain.PlatformConnection, error) {
	if botToken == "" || channelID == "" {
		return domain.PlatformConnection{}, fmt.Errorf("нужны токен бота и идентификатор канала")
	}
	client, err := s.connections.GetClient(ctx, clientID)
	if err != nil {
		return domain.PlatformConnection{}, fmt.Errorf("получение клиента: %w", err)
	}
	if client.OwnerUserID != userID {
		return domain.PlatformConnection{}, domain.ErrForbidden
	}

	bot, err := s.verifyTelegram(ctx, botToken)
	if err != nil {
		return domain.PlatformConnection{}, fmt.Errorf("проверка токена бота: %w", err)
	}
	profile := domain.ExternalProfile{
		AccountID:   channelID,
		AccountName: fmt.Sprintf("%s → %s", bot.AccountName, channelID),
	}
	return s.storeConnection(ctx, clientID, domain.PlatformTelegram, profile, domain.OAuthToken{AccessToken: botToken})
}

// List возвращает подключения клиента владельцу.
func (s *Service) List(ctx context.Context, userID, clientID int64) ([]domain.PlatformConnection, error) {
	client, err := s.connections.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.OwnerUserID != userID {
		return nil, domain.ErrForbidden
	}
	return s.connections.ListClientConnections(ctx, clientID)
}

// Deactivate отключает подключение по запросу владельца. Уже взятые в работу
// задачи доработают, новые задачи для подключения создаваться не будут.
func (s *Service) Deactivate(ctx context.Context, userID, connectionID int64) error {
	conn, err := s.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	client, err := s.connections.GetClient(ctx, conn.ClientID)
	if err != nil {
		return err
	}
	if client.OwnerUserID != userID {
		return domain.ErrForbidden
	}
	return s.connections.DeactivateConnection(ctx, connectionID, "отключено пользователем")
}

func (s *Service) storeConnection(ctx context.Context, clientID int64, platform domain.Platform, profile domain.ExternalProfile, token domain.OAuthToken) (domain.PlatformConnection, error) {
	accessEnc, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return domain.PlatformConnection{}, fmt.Errorf("шифрование токена: %w", err)
	}
	refreshEnc := ""
	if token.RefreshToken != "" {
		if refreshEnc, err = s.cipher.Encrypt(token.RefreshToken); err != nil {
			return domain.PlatformConnection{}, fmt.Errorf("шифрование токена: %w", err)
		}
	}
	var expiresAt *time.Time
	if !token.ExpiresAt.IsZero() {
		ts := token.ExpiresAt
		expiresAt = &ts
	}
	conn, err := s.connections.UpsertConnection(ctx, domain.PlatformConnection{
		ClientID:            clientID,
		Platform:            platform,
		ExternalAccountID:   profile.AccountID,
		ExternalAccountName: profile.AccountName,
		AccessTokenEnc:      accessEnc,
		RefreshTokenEnc:     refreshEnc,
		TokenExpiresAt:      expiresAt,
	})
	if err != nil {
		return domain.PlatformConnection{}, fmt.Errorf("сохранение подключения: %w", err)
	}
	return conn, nil
}

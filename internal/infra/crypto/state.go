package crypto

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"postline/internal/domain"
)

// StateTTL ограничивает срок жизни OAuth state.
const StateTTL = 10 * time.Minute

// Ошибки проверки state.
var (
	ErrStateInvalid = errors.New("state: подпись недействительна")
	ErrStateExpired = errors.New("state: срок действия истёк")
	ErrStateNoPKCE  = errors.New("state: отсутствует PKCE verifier")
)

// StateClaims переносит контекст OAuth-потока через редирект на площадку
// и обратно. Нигде не сохраняется: целостность обеспечивает подпись.
type StateClaims struct {
	UserID       int64           `json:"uid"`
	ClientID     int64           `json:"cid"`
	Platform     domain.Platform `json:"platform"`
	Nonce        string          `json:"nonce"`
	IssuedAt     int64           `json:"iat"`
	CodeVerifier string          `json:"verifier,omitempty"`
}

// StateSigner выпускает и проверяет подписанные OAuth state-токены.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner создаёт подписанта. Пустой секрет — ошибка конфигурации.
func NewStateSigner(secret string) (*StateSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("state: секрет подписи не задан")
	}
	return &StateSigner{secret: []byte(secret), now: time.Now}, nil
}

// Issue подписывает контекст потока и возвращает токен
// вида base64url(payload).base64url(signature).
func (s *StateSigner) Issue(claims StateClaims) (string, error) {
	nonce := make([]byte, 16)
	if _, err := crand.Read(nonce); err != nil {
		return "", fmt.Errorf("state: генерация nonce: %w", err)
	}
	claims.Nonce = base64.RawURLEncoding.EncodeToString(nonce)
	claims.IssuedAt = s.now().Unix()
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("state: сериализация: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), nil
}

// Verify проверяет подпись и срок жизни токена. Для площадок с PKCE
// токен обязан содержать verifier.
func (s *StateSigner) Verify(token string) (StateClaims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return StateClaims{}, ErrStateInvalid
	}
	if !hmac.Equal([]byte(s.sign(encoded)), []byte(sig)) {
		return StateClaims{}, ErrStateInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return StateClaims{}, ErrStateInvalid
	}
	var claims StateClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return StateClaims{}, ErrStateInvalid
	}
	issued := time.Unix(claims.IssuedAt, 0)
	if s.now().Sub(issued) > StateTTL || issued.After(s.now().Add(time.Minute)) {
		return StateClaims{}, ErrStateExpired
	}
	if claims.Platform.RequiresPKCE() && claims.CodeVerifier == "" {
		return StateClaims{}, ErrStateNoPKCE
	}
	return claims, nil
}

func (s *StateSigner) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// NewCodeVerifier генерирует высокоэнтропийный PKCE code verifier.
func NewCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := crand.Read(raw); err != nil {
		return "", fmt.Errorf("pkce: генерация verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// CodeChallengeS256 выводит code challenge из verifier (метод S256).
// Сам verifier площадке не отправляется, он едет внутри подписанного state.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

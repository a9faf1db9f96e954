package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const userIDKey contextKey = "user_id"

// ErrUnauthorized возвращается при отсутствии или недействительности сессии.
var ErrUnauthorized = errors.New("требуется авторизация")

// IssueSessionToken выпускает подписанный сессионный токен вида uid.exp.sig.
// Выдачей занимается внешний сервис аутентификации, здесь токен нужен
// обработчикам и тестам.
func IssueSessionToken(secret string, userID int64, ttl time.Duration) string {
	uid := strconv.FormatInt(userID, 10)
	exp := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	return uid + "." + exp + "." + signSession(secret, uid, exp)
}

func signSession(secret, uid, exp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", uid, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// SessionAuthMiddleware проверяет сессионный токен из заголовка Authorization
// и кладёт идентификатор пользователя в контекст запроса.
func SessionAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("session")
			}
			userID, err := verifySessionToken(secret, token)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, ErrUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifySessionToken(secret, token string) (int64, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, ErrUnauthorized
	}
	uid, exp, sig := parts[0], parts[1], parts[2]
	expected := signSession(secret, uid, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return 0, ErrUnauthorized
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || time.Now().Unix() > expUnix {
		return 0, ErrUnauthorized
	}
	userID, err := strconv.ParseInt(uid, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrUnauthorized
	}
	return userID, nil
}

// UserIDFromContext возвращает идентификатор пользователя, положенный
// middleware. Ноль — запрос не прошёл авторизацию.
func UserIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"postline/internal/domain"
	httpinfra "postline/internal/infra/http"
	"postline/internal/usecase/connections"
	"postline/internal/usecase/publish"
	"postline/internal/usecase/runner"
)

// Handler связывает HTTP-маршруты с сервисами движка публикаций.
type Handler struct {
	publish     *publish.Service
	connections *connections.Service
	runner      *runner.Service
	cronSecret  string
	appURL      string
	log         zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(publishSvc *publish.Service, connSvc *connections.Service, runnerSvc *runner.Service,
	cronSecret, appURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		publish:     publishSvc,
		connections: connSvc,
		runner:      runnerSvc,
		cronSecret:  cronSecret,
		appURL:      appURL,
		log:         logger,
	}
}

// Register навешивает маршруты. Защищённые маршруты получают middleware
// сессии, колбэки OAuth и планировщик — свои проверки.
func (h *Handler) Register(r chi.Router, sessionSecret string) {
	r.Post("/internal/cron/run", h.handleCronRun)
	r.Get("/auth/{platform}/callback", h.handleAuthCallback)

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.SessionAuthMiddleware(sessionSecret))

		protected.Post("/api/v1/content", h.handleCreateContent)
		protected.Get("/api/v1/content/{id}", h.handleGetContent)
		protected.Post("/api/v1/content/{id}/publish", h.handlePublishNow)

		protected.Get("/auth/{platform}", h.handleAuthBegin)
		protected.Get("/api/v1/connections", h.handleListConnections)
		protected.Post("/api/v1/connections/telegram", h.handleConnectTelegram)
		protected.Delete("/api/v1/connections/{id}", h.handleDeactivateConnection)
	})
}

// handleCronRun — точка входа планировщика. Авторизация по общему секрету:
// без настроенного секрета или при несовпадении — 401 без какой-либо работы.
func (h *Handler) handleCronRun(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if h.cronSecret == "" || subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+h.cronSecret)) != 1 {
		httpinfra.WriteError(w, http.StatusUnauthorized, errors.New("недействительный секрет планировщика"))
		return
	}
	report, err := h.runner.RunPass(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("проход планировщика завершился ошибкой")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("проход планировщика не выполнен"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type targetRequest struct {
	ConnectionID int64    `json:"connection_id"`
	AdaptedText  string   `json:"adapted_text"`
	Hashtags     []string `json:"hashtags"`
}

type createContentRequest struct {
	ClientID    int64           `json:"client_id"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	ContentType string          `json:"content_type"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
	Targets     []targetRequest `json:"targets"`
}

func (h *Handler) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	targets := make([]domain.DeliveryTarget, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, domain.DeliveryTarget{
			ConnectionID: t.ConnectionID,
			AdaptedText:  t.AdaptedText,
			Hashtags:     t.Hashtags,
		})
	}
	item, err := h.publish.CreateDraft(r.Context(), httpinfra.UserIDFromContext(r.Context()), publish.DraftInput{
		ClientID:    req.ClientID,
		Title:       req.Title,
		Body:        req.Body,
		ContentType: req.ContentType,
		ScheduledAt: req.ScheduledAt,
		Targets:     targets,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemResponse(item, nil))
}

func (h *Handler) handleGetContent(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "id")
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	item, deliveries, err := h.publish.GetItem(r.Context(), httpinfra.UserIDFromContext(r.Context()), itemID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse(item, deliveries))
}

func (h *Handler) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "id")
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	item, deliveries, err := h.publish.PublishNow(r.Context(), httpinfra.UserIDFromContext(r.Context()), itemID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse(item, deliveries))
}

func (h *Handler) handleAuthBegin(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(chi.URLParam(r, "platform"))
	if !platform.Valid() {
		httpinfra.WriteError(w, http.StatusNotFound, errors.New("неизвестная площадка"))
		return
	}
	clientID, err := strconv.ParseInt(r.URL.Query().Get("client_id"), 10, 64)
	if err != nil || clientID <= 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("нужен client_id"))
		return
	}
	authURL, err := h.connections.BeginAuth(r.Context(), httpinfra.UserIDFromContext(r.Context()), clientID, platform)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleAuthCallback принимает redirect с площадки. Ошибки не раскрываются
// площадке: браузер возвращается в приложение с индикатором результата.
func (h *Handler) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		h.redirectBack(w, r, url.Values{"error": {errParam}, "platform": {platform}})
		return
	}
	state, code := query.Get("state"), query.Get("code")
	if state == "" || code == "" {
		h.redirectBack(w, r, url.Values{"error": {"invalid_request"}, "platform": {platform}})
		return
	}
	conn, err := h.connections.CompleteAuth(r.Context(), state, code)
	if err != nil {
		h.log.Warn().Err(err).Str("platform", platform).Msg("колбэк OAuth отклонён")
		h.redirectBack(w, r, url.Values{"error": {"invalid_state"}, "platform": {platform}})
		return
	}
	h.redirectBack(w, r, url.Values{"connected": {string(conn.Platform)}, "account": {conn.ExternalAccountName}})
}

func (h *Handler) redirectBack(w http.ResponseWriter, r *http.Request, params url.Values) {
	http.Redirect(w, r, h.appURL+"/connections?"+params.Encode(), http.StatusFound)
}

type connectTelegramRequest struct {
	ClientID  int64  `json:"client_id"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

func (h *Handler) handleConnectTelegram(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req connectTelegramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	conn, err := h.connections.ConnectTelegram(r.Context(), httpinfra.UserIDFromContext(r.Context()), req.ClientID, req.BotToken, req.ChannelID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, connectionResponse(conn))
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(r.URL.Query().Get("client_id"), 10, 64)
	if err != nil || clientID <= 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("нужен client_id"))
		return
	}
	conns, err := h.connections.List(r.Context(), httpinfra.UserIDFromContext(r.Context()), clientID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(conns))
	for _, conn := range conns {
		payload = append(payload, connectionResponse(conn))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleDeactivateConnection(w http.ResponseWriter, r *http.Request) {
	connID, err := pathID(r, "id")
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.connections.Deactivate(r.Context(), httpinfra.UserIDFromContext(r.Context()), connID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrForbidden):
		httpinfra.WriteError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrNotPromotable), errors.Is(err, domain.ErrNoTargets),
		errors.Is(err, domain.ErrConnectionInactive):
		httpinfra.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		httpinfra.WriteError(w, http.StatusGatewayTimeout, err)
	default:
		h.log.Error().Err(err).Msg("внутренняя ошибка запроса")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("внутренняя ошибка"))
	}
}

func itemResponse(item domain.ContentItem, deliveries []domain.PlatformDelivery) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"client_id":    item.ClientID,
		"title":        item.Title,
		"body":         item.Body,
		"content_type": item.ContentType,
		"status":       item.Status,
		"scheduled_at": item.ScheduledAt,
		"created_at":   item.CreatedAt,
		"updated_at":   item.UpdatedAt,
	}
	if deliveries != nil {
		list := make([]map[string]any, 0, len(deliveries))
		for _, d := range deliveries {
			list = append(list, map[string]any{
				"id":               d.ID,
				"connection_id":    d.ConnectionID,
				"platform":         d.Platform,
				"status":           d.Status,
				"external_post_id": d.ExternalPostID,
				"error_message":    d.ErrorMessage,
				"published_at":     d.PublishedAt,
			})
		}
		payload["deliveries"] = list
	}
	return payload
}

// connectionResponse отдаёт подключение без шифрованных токенов.
func connectionResponse(conn domain.PlatformConnection) map[string]any {
	return map[string]any{
		"id":                    conn.ID,
		"client_id":             conn.ClientID,
		"platform":              conn.Platform,
		"external_account_id":   conn.ExternalAccountID,
		"external_account_name": conn.ExternalAccountName,
		"is_active":             conn.IsActive,
		"last_error":            conn.LastError,
		"token_expires_at":      conn.TokenExpiresAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("некорректный идентификатор")
	}
	return id, nil
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/usecase/timeline"
)

const requestTimeout = 60 * time.Second

// SubscriptionHub обслуживает websocket-подписки на обновления ленты.
type SubscriptionHub interface {
	HandleConnection(ctx context.Context, userID string, ws *websocket.Conn)
}

// Handler регистрирует HTTP API сервиса лент.
type Handler struct {
	service  domain.TimelineService
	hub      SubscriptionHub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler создаёт обработчик API.
func NewHandler(service domain.TimelineService, hub SubscriptionHub, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger,
	}
}

// Register навешивает маршруты на роутер.
// Websocket-маршрут регистрируется вне тайм-аута: истёкший контекст запроса
// остановил бы пинги и закрыл живое соединение.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ws", h.subscribe)

	r.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(requestTimeout))
		g.Get("/healthz", h.health)

		g.Route("/api/v1", func(api chi.Router) {
			api.Get("/timeline/{userID}", h.getTimeline)
			api.Get("/timeline/{userID}/foryou", h.getForYou)
			api.Get("/timeline/{userID}/following", h.getFollowing)
			api.Post("/timeline/{userID}/refresh", h.refresh)
			api.Post("/timeline/{userID}/read", h.markRead)
			api.Get("/timeline/{userID}/preferences", h.getPreferences)
			api.Put("/timeline/{userID}/preferences", h.updatePreferences)
			api.Post("/timeline/{userID}/mutes/users/{authorID}", h.muteUser(true))
			api.Delete("/timeline/{userID}/mutes/users/{authorID}", h.muteUser(false))
			api.Post("/timeline/{userID}/mutes/keywords/{keyword}", h.muteKeyword(true))
			api.Delete("/timeline/{userID}/mutes/keywords/{keyword}", h.muteKeyword(false))
			api.Post("/engagement", h.recordEngagement)
		})
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("rest: websocket upgrade не удался")
		return
	}
	h.hub.HandleConnection(r.Context(), userID, conn)
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	timelineResp, err := h.service.GetTimeline(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, toTimelineDTO(timelineResp))
}

func (h *Handler) getForYou(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	req.UseRemote = r.Header.Get("X-Use-Overdrive") == "1" || r.Header.Get("X-Use-Overdrive") == "true"
	if raw := r.Header.Get("X-Discovery-Share"); raw != "" {
		if share, err := strconv.ParseFloat(raw, 64); err == nil {
			req.DiscoveryShare = &share
		}
	}
	timelineResp, err := h.service.GetForYou(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, toTimelineDTO(timelineResp))
}

func (h *Handler) getFollowing(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	timelineResp, err := h.service.GetFollowing(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, toTimelineDTO(timelineResp))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	userID := chi.URLParam(r, "userID")
	var body struct {
		Since time.Time `json:"since"`
	}
	// тело необязательно, без since рассылаются все свежие позиции
	_ = json.NewDecoder(r.Body).Decode(&body)
	timelineResp, err := h.service.Refresh(r.Context(), userID, body.Since)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, toTimelineDTO(timelineResp))
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	userID := chi.URLParam(r, "userID")
	var body struct {
		At time.Time `json:"at"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := h.service.MarkRead(r.Context(), userID, body.At); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.service.GetPreferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, toPreferencesDTO(prefs))
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var dto preferencesDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prefs := dto.toDomain(chi.URLParam(r, "userID"))
	if err := h.service.UpdatePreferences(r.Context(), prefs); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) muteUser(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.service.MuteUser(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "authorID"), muted)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		if muted {
			writeJSON(w, map[string]string{"status": "ok"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) muteKeyword(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.service.MuteKeyword(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "keyword"), muted)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		if muted {
			writeJSON(w, map[string]string{"status": "ok"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) recordEngagement(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var body struct {
		UserID     string   `json:"user_id"`
		NoteID     string   `json:"note_id"`
		AuthorID   string   `json:"author_id"`
		Action     string   `json:"action"`
		Hashtags   []string `json:"hashtags,omitempty"`
		DurationMS int64    `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	event := domain.EngagementEvent{
		UserID:     body.UserID,
		NoteID:     body.NoteID,
		AuthorID:   body.AuthorID,
		Action:     domain.EngagementAction(body.Action),
		Hashtags:   body.Hashtags,
		DurationMS: body.DurationMS,
	}
	if err := h.service.RecordEngagement(r.Context(), event); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timeline.ErrInvalidUser), errors.Is(err, timeline.ErrInvalidPreferences):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, timeline.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.log.Error().Err(err).Msg("rest: внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requestFrom разбирает пагинацию, алгоритм и A/B-переопределения запроса.
func requestFrom(r *http.Request) domain.TimelineRequest {
	query := r.URL.Query()
	req := domain.TimelineRequest{
		UserID:    chi.URLParam(r, "userID"),
		Algorithm: domain.Algorithm(query.Get("algorithm")),
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		req.Offset = offset
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		req.Limit = limit
	}
	for kind, header := range abWeightHeaders {
		if raw := r.Header.Get(header); raw != "" {
			if weight, err := strconv.ParseFloat(raw, 64); err == nil {
				if req.ABWeights == nil {
					req.ABWeights = make(map[domain.SourceKind]float64)
				}
				req.ABWeights[kind] = weight
			}
		}
	}
	for kind, header := range capHeaders {
		if raw := r.Header.Get(header); raw != "" {
			if capValue, err := strconv.Atoi(raw); err == nil {
				if req.CapOverrides == nil {
					req.CapOverrides = make(map[domain.SourceKind]int)
				}
				req.CapOverrides[kind] = capValue
			}
		}
	}
	return req
}

var abWeightHeaders = map[domain.SourceKind]string{
	domain.SourceFollowing:   "X-Ab-Following-Weight",
	domain.SourceRecommended: "X-Ab-Recommended-Weight",
	domain.SourceTrending:    "X-Ab-Trending-Weight",
	domain.SourceLists:       "X-Ab-Lists-Weight",
}

var capHeaders = map[domain.SourceKind]string{
	domain.SourceFollowing:   "X-Cap-Following",
	domain.SourceRecommended: "X-Cap-Recommended",
	domain.SourceTrending:    "X-Cap-Trending",
	domain.SourceLists:       "X-Cap-Lists",
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

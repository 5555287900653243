package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/usecase/timeline"
)

type stubService struct {
	err            error
	lastReq        domain.TimelineRequest
	lastEvent      domain.EngagementEvent
	lastMutes      []string
	lastPrefs      domain.TimelinePreferences
	markedRead     time.Time
	ctxHadDeadline bool
}

func (s *stubService) timelineFor(userID string) domain.Timeline {
	return domain.Timeline{
		UserID:    userID,
		Algorithm: domain.AlgorithmHybrid,
		Items: []domain.TimelineItem{{
			Note:   domain.Note{ID: "n1", AuthorID: "author", Text: "текст"},
			Source: domain.SourceFollowing,
			Score:  0.7,
		}},
		TotalCount: 1,
	}
}

func (s *stubService) GetTimeline(ctx context.Context, req domain.TimelineRequest) (domain.Timeline, error) {
	s.lastReq = req
	_, s.ctxHadDeadline = ctx.Deadline()
	if s.err != nil {
		return domain.Timeline{}, s.err
	}
	return s.timelineFor(req.UserID), nil
}

func (s *stubService) GetForYou(ctx context.Context, req domain.TimelineRequest) (domain.Timeline, error) {
	return s.GetTimeline(ctx, req)
}

func (s *stubService) GetFollowing(ctx context.Context, req domain.TimelineRequest) (domain.Timeline, error) {
	return s.GetTimeline(ctx, req)
}

func (s *stubService) Refresh(ctx context.Context, userID string, since time.Time) (domain.Timeline, error) {
	if s.err != nil {
		return domain.Timeline{}, s.err
	}
	return s.timelineFor(userID), nil
}

func (s *stubService) MarkRead(ctx context.Context, userID string, at time.Time) error {
	s.markedRead = at
	return s.err
}

func (s *stubService) RecordEngagement(ctx context.Context, event domain.EngagementEvent) error {
	s.lastEvent = event
	return s.err
}

func (s *stubService) GetPreferences(ctx context.Context, userID string) (domain.TimelinePreferences, error) {
	if s.err != nil {
		return domain.TimelinePreferences{}, s.err
	}
	return domain.DefaultPreferences(userID), nil
}

func (s *stubService) UpdatePreferences(ctx context.Context, prefs domain.TimelinePreferences) error {
	s.lastPrefs = prefs
	return s.err
}

func (s *stubService) MuteUser(ctx context.Context, userID, authorID string, muted bool) error {
	s.lastMutes = append(s.lastMutes, authorID)
	return s.err
}

func (s *stubService) MuteKeyword(ctx context.Context, userID, keyword string, muted bool) error {
	s.lastMutes = append(s.lastMutes, keyword)
	return s.err
}

func newTestRouter(service *stubService) chi.Router {
	r := chi.NewRouter()
	NewHandler(service, nil, zerolog.Nop()).Register(r)
	return r
}

func TestGetTimelineReturnsJSON(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/timeline/u1?offset=5&limit=10&algorithm=chronological", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var dto timelineDTO
	if err := json.NewDecoder(rec.Body).Decode(&dto); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if dto.UserID != "u1" || len(dto.Items) != 1 {
		t.Fatalf("неожиданный ответ: %+v", dto)
	}
	if service.lastReq.Offset != 5 || service.lastReq.Limit != 10 {
		t.Fatalf("пагинация не разобрана: %+v", service.lastReq)
	}
	if service.lastReq.Algorithm != domain.AlgorithmChronological {
		t.Fatalf("алгоритм не разобран: %s", service.lastReq.Algorithm)
	}
}

func TestGetTimelineParsesABHeaders(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/timeline/u1", nil)
	req.Header.Set("X-Ab-Trending-Weight", "0.5")
	req.Header.Set("X-Cap-Following", "15")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if weight := service.lastReq.ABWeights[domain.SourceTrending]; weight != 0.5 {
		t.Fatalf("A/B-вес не разобран: %v", service.lastReq.ABWeights)
	}
	if capValue := service.lastReq.CapOverrides[domain.SourceFollowing]; capValue != 15 {
		t.Fatalf("кап не разобран: %v", service.lastReq.CapOverrides)
	}
}

func TestGetForYouOverdriveHeader(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/timeline/u1/foryou", nil)
	req.Header.Set("X-Use-Overdrive", "1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if !service.lastReq.UseRemote {
		t.Fatal("заголовок X-Use-Overdrive должен включать внешнее ранжирование")
	}
}

func TestGetForYouDiscoveryShareHeader(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/timeline/u1/foryou", nil)
	req.Header.Set("X-Discovery-Share", "0.6")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if service.lastReq.DiscoveryShare == nil || *service.lastReq.DiscoveryShare != 0.6 {
		t.Fatalf("доля открытий не разобрана: %+v", service.lastReq.DiscoveryShare)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/timeline/u1/foryou", nil)
	req.Header.Set("X-Discovery-Share", "мусор")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if service.lastReq.DiscoveryShare != nil {
		t.Fatal("нечисловой заголовок должен игнорироваться")
	}
}

func TestServiceErrorsMapToStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{timeline.ErrInvalidUser, http.StatusBadRequest},
		{timeline.ErrRateLimited, http.StatusTooManyRequests},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newTestRouter(&stubService{err: tc.err})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/timeline/u1", nil))
		if rec.Code != tc.status {
			t.Fatalf("для %v ожидался статус %d, получен %d", tc.err, tc.status, rec.Code)
		}
	}
}

func TestMuteUserEndpoints(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/timeline/u1/mutes/users/spammer", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/timeline/u1/mutes/users/spammer", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ожидался 204, получен %d", rec.Code)
	}

	if len(service.lastMutes) != 2 || service.lastMutes[0] != "spammer" {
		t.Fatalf("мьюты не дошли до сервиса: %v", service.lastMutes)
	}
}

func TestRecordEngagement(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	body := `{"user_id":"u1","note_id":"n1","author_id":"a","action":"like","hashtags":["go"]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/engagement", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if service.lastEvent.Action != domain.ActionLike || service.lastEvent.NoteID != "n1" {
		t.Fatalf("событие не разобрано: %+v", service.lastEvent)
	}
}

func TestUpdatePreferences(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	body := `{"algorithm":"hybrid","max_items":25,"max_age_hours":12,"min_score":0.1,` +
		`"ratios":{"following":0.8,"recommended":0.2},"weights":{"recency":0.3}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/timeline/u1/preferences", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if service.lastPrefs.UserID != "u1" || service.lastPrefs.MaxItems != 25 {
		t.Fatalf("настройки не разобраны: %+v", service.lastPrefs)
	}
	if service.lastPrefs.MaxAge != 12*time.Hour {
		t.Fatalf("возраст не разобран: %v", service.lastPrefs.MaxAge)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
}

type recordingHub struct {
	hadDeadline bool
	done        chan struct{}
}

func (h *recordingHub) HandleConnection(ctx context.Context, userID string, ws *websocket.Conn) {
	_, h.hadDeadline = ctx.Deadline()
	_ = ws.Close()
	close(h.done)
}

func TestApiRoutesCarryRequestTimeout(t *testing.T) {
	service := &stubService{}
	router := newTestRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/timeline/u1", nil))

	if !service.ctxHadDeadline {
		t.Fatal("контекст запроса ленты должен нести тайм-аут")
	}
}

func TestWebsocketRouteWithoutRequestTimeout(t *testing.T) {
	hub := &recordingHub{done: make(chan struct{})}
	router := chi.NewRouter()
	NewHandler(&stubService{}, hub, zerolog.Nop()).Register(router)

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket-подключение не удалось: %v", err)
	}
	defer conn.Close()

	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("хаб не получил соединение")
	}
	if hub.hadDeadline {
		t.Fatal("контекст websocket-соединения не должен нести тайм-аут запроса")
	}
}

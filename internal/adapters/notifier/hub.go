package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
)

// wsConn покрывает используемую часть *websocket.Conn, чтобы хаб был тестируемым.
type wsConn interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

type connection struct {
	id     string
	userID string
	ws     wsConn

	writeMu  sync.Mutex
	mu       sync.Mutex
	lastSeen time.Time
	active   bool
}

func (c *connection) touch(at time.Time) {
	c.mu.Lock()
	c.lastSeen = at
	c.mu.Unlock()
}

func (c *connection) isIdle(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.active || now.Sub(c.lastSeen) > timeout
}

func (c *connection) deactivate() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// update описывает кадр realtime-обновления.
type update struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

type itemPayload struct {
	NoteID   string  `json:"note_id"`
	AuthorID string  `json:"author_id"`
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

// Hub ведёт реестр websocket-подписчиков и рассылает им обновления лент.
type Hub struct {
	mu          sync.RWMutex
	conns       map[string]map[string]*connection
	idleTimeout time.Duration
	log         zerolog.Logger
	nowFunc     func() time.Time
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub создаёт хаб с указанным таймаутом простоя соединений.
func NewHub(idleTimeout time.Duration, logger zerolog.Logger) *Hub {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Hub{
		conns:       make(map[string]map[string]*connection),
		idleTimeout: idleTimeout,
		log:         logger,
		nowFunc:     time.Now,
	}
}

// HandleConnection регистрирует соединение и блокируется до его закрытия.
func (h *Hub) HandleConnection(ctx context.Context, userID string, ws *websocket.Conn) {
	h.serveConnection(ctx, userID, ws)
}

func (h *Hub) serveConnection(ctx context.Context, userID string, ws wsConn) {
	conn := &connection{
		id:       uuid.NewString(),
		userID:   userID,
		ws:       ws,
		lastSeen: h.nowFunc(),
		active:   true,
	}
	h.register(conn)
	defer h.unregister(conn)

	h.log.Debug().Str("user_id", userID).Str("conn_id", conn.id).Msg("notifier: соединение открыто")

	done := make(chan struct{})
	go h.pingLoop(ctx, conn, done)
	h.readLoop(conn)
	close(done)
}

func (h *Hub) readLoop(conn *connection) {
	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(h.nowFunc().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.touch(h.nowFunc())
		return conn.ws.SetReadDeadline(h.nowFunc().Add(pongWait))
	})
	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			return
		}
		conn.touch(h.nowFunc())
	}
}

func (h *Hub) pingLoop(ctx context.Context, conn *connection, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, h.nowFunc().Add(writeTimeout)); err != nil {
				conn.deactivate()
				return
			}
		}
	}
}

// Run периодически закрывает простаивающие соединения до отмены контекста.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.reapIdle()
		}
	}
}

// NotifyNewItems отправляет подписчикам новые позиции ленты.
func (h *Hub) NotifyNewItems(userID string, items []domain.TimelineItem) {
	payload := make([]itemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, itemPayload{
			NoteID:   item.Note.ID,
			AuthorID: item.Note.AuthorID,
			Source:   string(item.Source),
			Score:    item.Score,
			Reason:   item.InjectionReason,
		})
	}
	h.broadcast(userID, update{
		Type:      "new_items",
		Timestamp: h.nowFunc().UnixMilli(),
		Data:      map[string]any{"items": payload},
	})
}

// NotifyItemUpdated сообщает об изменении заметки в ленте.
func (h *Hub) NotifyItemUpdated(userID, noteID string) {
	h.broadcast(userID, update{
		Type:      "item_updated",
		Timestamp: h.nowFunc().UnixMilli(),
		Data:      map[string]any{"note_id": noteID},
	})
}

// NotifyItemDeleted сообщает об удалении заметки из ленты.
func (h *Hub) NotifyItemDeleted(userID, noteID string) {
	h.broadcast(userID, update{
		Type:      "item_deleted",
		Timestamp: h.nowFunc().UnixMilli(),
		Data:      map[string]any{"note_id": noteID},
	})
}

// HasSubscribers сообщает, есть ли активные соединения пользователя.
func (h *Hub) HasSubscribers(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

func (h *Hub) broadcast(userID string, upd update) {
	data, err := json.Marshal(upd)
	if err != nil {
		h.log.Error().Err(err).Msg("notifier: сериализация обновления")
		return
	}
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns[userID]))
	for _, conn := range h.conns[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.writeMu.Lock()
		err := conn.ws.WriteMessage(websocket.TextMessage, data)
		conn.writeMu.Unlock()
		if err != nil {
			metrics.NotifierSendErrors.Inc()
			conn.deactivate()
			h.log.Debug().Err(err).Str("conn_id", conn.id).Msg("notifier: отправка не удалась")
			continue
		}
		metrics.NotifierPushes.Inc()
	}
}

func (h *Hub) register(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byUser, ok := h.conns[conn.userID]
	if !ok {
		byUser = make(map[string]*connection)
		h.conns[conn.userID] = byUser
	}
	byUser[conn.id] = conn
}

func (h *Hub) unregister(conn *connection) {
	h.mu.Lock()
	byUser, ok := h.conns[conn.userID]
	if ok {
		delete(byUser, conn.id)
		if len(byUser) == 0 {
			delete(h.conns, conn.userID)
		}
	}
	h.mu.Unlock()
	_ = conn.ws.Close()
}

func (h *Hub) reapIdle() {
	now := h.nowFunc()
	h.mu.Lock()
	var idle []*connection
	for _, byUser := range h.conns {
		for _, conn := range byUser {
			if conn.isIdle(now, h.idleTimeout) {
				idle = append(idle, conn)
			}
		}
	}
	h.mu.Unlock()
	for _, conn := range idle {
		h.log.Debug().Str("conn_id", conn.id).Msg("notifier: закрытие простаивающего соединения")
		h.unregister(conn)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*connection
	for _, byUser := range h.conns {
		for _, conn := range byUser {
			all = append(all, conn)
		}
	}
	h.mu.Unlock()
	for _, conn := range all {
		h.unregister(conn)
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"timeline-service/internal/domain"
)

// RedisNoteEventQueue реализует очередь событий на базе Redis lists.
type RedisNoteEventQueue struct {
	client *redis.Client
	key    string
}

var _ domain.NoteEventQueue = (*RedisNoteEventQueue)(nil)

// NewRedisNoteEventQueue создаёт очередь по указанному ключу.
func NewRedisNoteEventQueue(client *redis.Client, key string) *RedisNoteEventQueue {
	return &RedisNoteEventQueue{client: client, key: key}
}

// Publish публикует событие в очередь.
func (q *RedisNoteEventQueue) Publish(ctx context.Context, event domain.NoteEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// popBlock ограничивает блокировку BRPop, чтобы цикл замечал отмену контекста.
const popBlock = 2 * time.Second

// Pop блокирующе читает следующее событие из очереди.
// Сообщения, которые не удаётся разобрать, пропускаются: одно битое событие
// не должно останавливать фан-аут всей очереди.
func (q *RedisNoteEventQueue) Pop(ctx context.Context) (domain.NoteEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.NoteEvent{}, err
		}

		res, err := q.client.BRPop(ctx, popBlock, q.key).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return domain.NoteEvent{}, ctx.Err()
			}
			continue
		default:
			return domain.NoteEvent{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		if len(res) != 2 {
			continue
		}

		var event domain.NoteEvent
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			continue
		}
		if event.Type == "" {
			continue
		}
		return event, nil
	}
}

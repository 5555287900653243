package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"timeline-service/internal/domain"
)

func newTestQueue(t *testing.T) *RedisNoteEventQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisNoteEventQueue(client, "note_events")
}

func TestRedisQueueRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	published := domain.NoteEvent{
		Type:       domain.EventNotePublished,
		NoteID:     "n1",
		AuthorID:   "author",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := q.Publish(ctx, published); err != nil {
		t.Fatalf("публикация события: %v", err)
	}

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("чтение события: %v", err)
	}
	if got.Type != published.Type || got.NoteID != published.NoteID || got.AuthorID != published.AuthorID {
		t.Fatalf("событие исказилось: %+v", got)
	}
	if !got.OccurredAt.Equal(published.OccurredAt) {
		t.Fatalf("время события исказилось: %v", got.OccurredAt)
	}
}

func TestRedisQueuePreservesOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3"} {
		if err := q.Publish(ctx, domain.NoteEvent{Type: domain.EventNotePublished, NoteID: id}); err != nil {
			t.Fatalf("публикация события: %v", err)
		}
	}

	for _, want := range []string{"n1", "n2", "n3"} {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("чтение события: %v", err)
		}
		if got.NoteID != want {
			t.Fatalf("нарушен порядок очереди: ожидалась %s, получена %s", want, got.NoteID)
		}
	}
}

func TestRedisQueueSkipsMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisNoteEventQueue(client, "note_events")
	ctx := context.Background()

	if err := client.LPush(ctx, "note_events", "не json").Err(); err != nil {
		t.Fatalf("запись мусора: %v", err)
	}
	if err := client.LPush(ctx, "note_events", `{"note_id":"n0"}`).Err(); err != nil {
		t.Fatalf("запись события без типа: %v", err)
	}
	if err := q.Publish(ctx, domain.NoteEvent{Type: domain.EventNoteDeleted, NoteID: "n1"}); err != nil {
		t.Fatalf("публикация события: %v", err)
	}

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("чтение события: %v", err)
	}
	if got.Type != domain.EventNoteDeleted || got.NoteID != "n1" {
		t.Fatalf("битые сообщения должны пропускаться, получено: %+v", got)
	}
}

func TestRedisQueuePopStopsOnCancel(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pop(ctx); err == nil {
		t.Fatal("отменённый контекст должен прерывать чтение")
	}
}

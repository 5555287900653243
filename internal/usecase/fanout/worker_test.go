package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
)

type stubCache struct {
	authorInvalidated   []string
	timelineInvalidated []string
	followers           map[string][]string
}

func newStubCache() *stubCache {
	return &stubCache{followers: make(map[string][]string)}
}

func (c *stubCache) GetTimeline(ctx context.Context, userID string) (domain.Timeline, bool) {
	return domain.Timeline{}, false
}

func (c *stubCache) SetTimeline(ctx context.Context, timeline domain.Timeline, ttl time.Duration) error {
	return nil
}

func (c *stubCache) InvalidateTimeline(ctx context.Context, userID string) error {
	c.timelineInvalidated = append(c.timelineInvalidated, userID)
	return nil
}

func (c *stubCache) InvalidateAuthor(ctx context.Context, authorID string) error {
	c.authorInvalidated = append(c.authorInvalidated, authorID)
	return nil
}

func (c *stubCache) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool) {
	return domain.UserProfile{}, false
}

func (c *stubCache) SetProfile(ctx context.Context, profile domain.UserProfile, ttl time.Duration) error {
	return nil
}

func (c *stubCache) InvalidateProfile(ctx context.Context, userID string) error { return nil }

func (c *stubCache) GetLastRead(ctx context.Context, userID string) (time.Time, bool) {
	return time.Time{}, false
}

func (c *stubCache) SetLastRead(ctx context.Context, userID string, at time.Time) error { return nil }

func (c *stubCache) AddFollower(ctx context.Context, authorID, followerID string) error {
	c.followers[authorID] = append(c.followers[authorID], followerID)
	return nil
}

func (c *stubCache) Followers(ctx context.Context, authorID string) ([]string, error) {
	return c.followers[authorID], nil
}

type stubGraph struct {
	followers []string
}

func (g *stubGraph) Following(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func (g *stubGraph) Followers(ctx context.Context, userID string) ([]string, error) {
	return g.followers, nil
}

type stubNotifier struct {
	subscribed map[string]bool
	newItems   map[string][]domain.TimelineItem
	deleted    map[string][]string
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{
		subscribed: make(map[string]bool),
		newItems:   make(map[string][]domain.TimelineItem),
		deleted:    make(map[string][]string),
	}
}

func (n *stubNotifier) NotifyNewItems(userID string, items []domain.TimelineItem) {
	n.newItems[userID] = append(n.newItems[userID], items...)
}

func (n *stubNotifier) NotifyItemUpdated(userID, noteID string) {}

func (n *stubNotifier) NotifyItemDeleted(userID, noteID string) {
	n.deleted[userID] = append(n.deleted[userID], noteID)
}

func (n *stubNotifier) HasSubscribers(userID string) bool { return n.subscribed[userID] }

func TestHandlePublishedInvalidatesAndNotifies(t *testing.T) {
	cache := newStubCache()
	graph := &stubGraph{followers: []string{"u1", "u2"}}
	notifier := newStubNotifier()
	notifier.subscribed["u1"] = true
	w := NewWorker(nil, cache, notifier, graph, zerolog.Nop())

	w.Handle(context.Background(), domain.NoteEvent{
		Type:       domain.EventNotePublished,
		NoteID:     "n1",
		AuthorID:   "author",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	if len(cache.authorInvalidated) != 1 || cache.authorInvalidated[0] != "author" {
		t.Fatalf("ленты подписчиков должны сброситься: %v", cache.authorInvalidated)
	}
	if len(cache.followers["author"]) != 2 {
		t.Fatalf("подписчики должны попасть в индекс: %v", cache.followers)
	}
	if len(notifier.newItems["u1"]) != 1 || notifier.newItems["u1"][0].Note.ID != "n1" {
		t.Fatalf("подключённый подписчик должен получить позицию: %v", notifier.newItems)
	}
	if len(notifier.newItems["u2"]) != 0 {
		t.Fatalf("без подключения рассылки быть не должно: %v", notifier.newItems["u2"])
	}
}

func TestHandleDeletedNotifiesSubscribers(t *testing.T) {
	cache := newStubCache()
	cache.followers["author"] = []string{"u1"}
	notifier := newStubNotifier()
	notifier.subscribed["u1"] = true
	w := NewWorker(nil, cache, notifier, nil, zerolog.Nop())

	w.Handle(context.Background(), domain.NoteEvent{
		Type:     domain.EventNoteDeleted,
		NoteID:   "n1",
		AuthorID: "author",
	})

	if len(cache.authorInvalidated) != 1 {
		t.Fatalf("ленты должны сброситься: %v", cache.authorInvalidated)
	}
	if deleted := notifier.deleted["u1"]; len(deleted) != 1 || deleted[0] != "n1" {
		t.Fatalf("подписчик должен узнать об удалении: %v", notifier.deleted)
	}
}

func TestHandleFollowChanged(t *testing.T) {
	cache := newStubCache()
	w := NewWorker(nil, cache, nil, nil, zerolog.Nop())

	w.Handle(context.Background(), domain.NoteEvent{
		Type:       domain.EventFollowChanged,
		AuthorID:   "author",
		FollowerID: "u1",
	})

	if followers := cache.followers["author"]; len(followers) != 1 || followers[0] != "u1" {
		t.Fatalf("подписчик должен попасть в индекс: %v", cache.followers)
	}
	if len(cache.timelineInvalidated) != 1 || cache.timelineInvalidated[0] != "u1" {
		t.Fatalf("лента подписавшегося должна сброситься: %v", cache.timelineInvalidated)
	}
}

func TestWorkerHandlesNilNotifier(t *testing.T) {
	cache := newStubCache()
	cache.followers["author"] = []string{"u1"}
	w := NewWorker(nil, cache, nil, nil, zerolog.Nop())

	w.Handle(context.Background(), domain.NoteEvent{
		Type:     domain.EventNotePublished,
		NoteID:   "n1",
		AuthorID: "author",
	})

	if len(cache.authorInvalidated) != 1 {
		t.Fatalf("инвалидация должна работать без нотификатора: %v", cache.authorInvalidated)
	}
}

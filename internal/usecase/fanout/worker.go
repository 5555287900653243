package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// Worker разбирает очередь событий заметок и обновляет ленты подписчиков.
type Worker struct {
	queue    domain.NoteEventQueue
	cache    domain.TimelineCache
	notifier domain.Notifier
	graph    domain.SocialGraph
	log      zerolog.Logger
}

// NewWorker создаёт воркер фан-аута.
func NewWorker(queue domain.NoteEventQueue, cache domain.TimelineCache, notifier domain.Notifier, graph domain.SocialGraph, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, cache: cache, notifier: notifier, graph: graph, log: logger}
}

// Run обрабатывает события до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	for {
		event, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("fanout: чтение очереди не удалось")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		w.Handle(ctx, event)
	}
}

// Handle обрабатывает одно событие очереди.
func (w *Worker) Handle(ctx context.Context, event domain.NoteEvent) {
	metrics.FanoutEvents.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case domain.EventNotePublished:
		w.handlePublished(ctx, event)
	case domain.EventNoteDeleted:
		w.handleDeleted(ctx, event)
	case domain.EventFollowChanged:
		w.handleFollowChanged(ctx, event)
	default:
		w.log.Warn().Str("type", string(event.Type)).Msg("fanout: неизвестный тип события")
	}
}

func (w *Worker) handlePublished(ctx context.Context, event domain.NoteEvent) {
	followers := w.followersOf(ctx, event.AuthorID)
	if err := w.cache.InvalidateAuthor(ctx, event.AuthorID); err != nil {
		w.log.Warn().Err(err).Str("author_id", event.AuthorID).Msg("fanout: инвалидация лент не удалась")
	}
	for _, follower := range followers {
		_ = w.cache.AddFollower(ctx, event.AuthorID, follower)
		if w.notifier != nil && w.notifier.HasSubscribers(follower) {
			w.notifier.NotifyNewItems(follower, []domain.TimelineItem{{
				Note:            domain.Note{ID: event.NoteID, AuthorID: event.AuthorID, CreatedAt: event.OccurredAt},
				Source:          domain.SourceFollowing,
				InjectionReason: "realtime_fanout",
				InjectedAt:      event.OccurredAt,
			}})
		}
	}
}

func (w *Worker) handleDeleted(ctx context.Context, event domain.NoteEvent) {
	followers := w.followersOf(ctx, event.AuthorID)
	if err := w.cache.InvalidateAuthor(ctx, event.AuthorID); err != nil {
		w.log.Warn().Err(err).Str("author_id", event.AuthorID).Msg("fanout: инвалидация лент не удалась")
	}
	for _, follower := range followers {
		if w.notifier != nil && w.notifier.HasSubscribers(follower) {
			w.notifier.NotifyItemDeleted(follower, event.NoteID)
		}
	}
}

func (w *Worker) handleFollowChanged(ctx context.Context, event domain.NoteEvent) {
	if event.FollowerID == "" {
		return
	}
	if event.AuthorID != "" {
		_ = w.cache.AddFollower(ctx, event.AuthorID, event.FollowerID)
	}
	if err := w.cache.InvalidateTimeline(ctx, event.FollowerID); err != nil {
		w.log.Warn().Err(err).Str("user_id", event.FollowerID).Msg("fanout: инвалидация ленты не удалась")
	}
}

// followersOf объединяет индекс кэша и социальный граф.
func (w *Worker) followersOf(ctx context.Context, authorID string) []string {
	if authorID == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var followers []string
	if cached, err := w.cache.Followers(ctx, authorID); err == nil {
		for _, follower := range cached {
			if _, ok := seen[follower]; !ok {
				seen[follower] = struct{}{}
				followers = append(followers, follower)
			}
		}
	}
	if w.graph != nil {
		fromGraph, err := w.graph.Followers(ctx, authorID)
		if err != nil {
			w.log.Debug().Err(err).Str("author_id", authorID).Msg("fanout: граф подписчиков недоступен")
			return followers
		}
		for _, follower := range fromGraph {
			if _, ok := seen[follower]; !ok {
				seen[follower] = struct{}{}
				followers = append(followers, follower)
			}
		}
	}
	return followers
}

package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"timeline-service/internal/domain"
)

// FollowingSource отдаёт свежие заметки авторов, на которых подписан пользователь.
type FollowingSource struct {
	graph domain.SocialGraph
	notes domain.NoteProvider

	mu      sync.Mutex
	cached  map[string]followingEntry
	listTTL time.Duration
	nowFunc func() time.Time
}

type followingEntry struct {
	authorIDs []string
	fetchedAt time.Time
}

var _ domain.Source = (*FollowingSource)(nil)

// NewFollowing создаёт источник подписок с кэшем списка авторов.
func NewFollowing(graph domain.SocialGraph, notes domain.NoteProvider, listTTL time.Duration) *FollowingSource {
	if listTTL <= 0 {
		listTTL = 10 * time.Minute
	}
	return &FollowingSource{
		graph:   graph,
		notes:   notes,
		cached:  make(map[string]followingEntry),
		listTTL: listTTL,
		nowFunc: time.Now,
	}
}

// Kind возвращает тип источника.
func (s *FollowingSource) Kind() domain.SourceKind { return domain.SourceFollowing }

// Fetch возвращает заметки подписок не старше since, свежие первыми.
func (s *FollowingSource) Fetch(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	authorIDs, err := s.followingFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("список подписок: %w", err)
	}
	if len(authorIDs) == 0 {
		return nil, nil
	}
	notes, err := s.notes.RecentByAuthors(ctx, authorIDs, since, limit)
	if err != nil {
		return nil, fmt.Errorf("заметки подписок: %w", err)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	if len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

func (s *FollowingSource) followingFor(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	entry, ok := s.cached[userID]
	if ok && s.nowFunc().Sub(entry.fetchedAt) < s.listTTL {
		s.mu.Unlock()
		return entry.authorIDs, nil
	}
	s.mu.Unlock()

	authorIDs, err := s.graph.Following(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cached[userID] = followingEntry{authorIDs: authorIDs, fetchedAt: s.nowFunc()}
	s.mu.Unlock()
	return authorIDs, nil
}

// InvalidateUser сбрасывает кэш списка подписок пользователя.
func (s *FollowingSource) InvalidateUser(userID string) {
	s.mu.Lock()
	delete(s.cached, userID)
	s.mu.Unlock()
}

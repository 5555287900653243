package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"timeline-service/internal/domain"
)

// RecommendedSource отдаёт рекомендованные заметки из апстрим-сервиса.
type RecommendedSource struct {
	notes domain.NoteProvider
}

var _ domain.Source = (*RecommendedSource)(nil)

// NewRecommended создаёт источник рекомендаций.
func NewRecommended(notes domain.NoteProvider) *RecommendedSource {
	return &RecommendedSource{notes: notes}
}

// Kind возвращает тип источника.
func (s *RecommendedSource) Kind() domain.SourceKind { return domain.SourceRecommended }

// Fetch возвращает рекомендации для пользователя, свежие первыми.
func (s *RecommendedSource) Fetch(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	notes, err := s.notes.RecommendedFor(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("рекомендации: %w", err)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	if len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

// ListsSource отдаёт заметки участников списков пользователя.
type ListsSource struct {
	notes domain.NoteProvider
}

var _ domain.Source = (*ListsSource)(nil)

// NewLists создаёт источник списков.
func NewLists(notes domain.NoteProvider) *ListsSource {
	return &ListsSource{notes: notes}
}

// Kind возвращает тип источника.
func (s *ListsSource) Kind() domain.SourceKind { return domain.SourceLists }

// Fetch возвращает заметки списков, свежие первыми.
func (s *ListsSource) Fetch(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	notes, err := s.notes.ListMembersNotes(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("заметки списков: %w", err)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	if len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

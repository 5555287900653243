package ranker

import (
	"context"
	"sort"

	"timeline-service/internal/domain"
)

// ChronoRanker упорядочивает ленту строго по времени публикации.
type ChronoRanker struct{}

var _ domain.Ranker = (*ChronoRanker)(nil)

// NewChrono создаёт хронологический ранжировщик.
func NewChrono() *ChronoRanker {
	return &ChronoRanker{}
}

// Name возвращает имя ранжировщика.
func (r *ChronoRanker) Name() string { return "chronological" }

// Rank присваивает оценку по времени публикации, свежие первыми.
func (r *ChronoRanker) Rank(ctx context.Context, profile domain.UserProfile, prefs domain.TimelinePreferences, candidates []domain.TimelineItem) ([]domain.TimelineItem, error) {
	items := make([]domain.TimelineItem, len(candidates))
	copy(items, candidates)
	for i := range items {
		items[i].Score = float64(items[i].Note.CreatedAt.Unix())
		items[i].InjectionReason = "chronological"
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Note.CreatedAt.After(items[j].Note.CreatedAt)
	})
	return items, nil
}

package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
)

type stubProvider struct {
	category string
	notes    []domain.Note
	calls    int
	err      error
}

func (p *stubProvider) Category() string { return p.category }

func (p *stubProvider) Trending(ctx context.Context, limit int) ([]domain.Note, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.notes, nil
}

func categoryNotes(category string, n int, engagement int64) []domain.Note {
	notes := make([]domain.Note, 0, n)
	for i := 0; i < n; i++ {
		notes = append(notes, domain.Note{
			ID:       fmt.Sprintf("%s-%d", category, i+1),
			AuthorID: category,
			Likes:    engagement - int64(i),
		})
	}
	return notes
}

func TestTrendingFetchSplitsCategories(t *testing.T) {
	providers := []domain.TrendingProvider{
		&stubProvider{category: "hashtags", notes: categoryNotes("hashtags", 20, 100)},
		&stubProvider{category: "topics", notes: categoryNotes("topics", 20, 200)},
		&stubProvider{category: "videos", notes: categoryNotes("videos", 20, 300)},
	}
	src := NewTrending(providers, time.Hour, zerolog.Nop())

	got, err := src.Fetch(context.Background(), "u1", time.Time{}, 10)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(got) != 10 {
		t.Fatalf("ожидалось 10 заметок, получено %d", len(got))
	}
	counts := map[string]int{}
	for _, note := range got {
		counts[strings.SplitN(note.ID, "-", 2)[0]]++
	}
	// первая категория получает половину, вторая 30%, последняя остаток
	if counts["hashtags"] != 5 || counts["topics"] != 3 || counts["videos"] != 2 {
		t.Fatalf("неверное распределение категорий: %v", counts)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Engagements() > got[i-1].Engagements() {
			t.Fatalf("выдача должна сортироваться по вовлечённости: %d после %d",
				got[i].Engagements(), got[i-1].Engagements())
		}
	}
}

func TestTrendingSingleProviderGetsFullLimit(t *testing.T) {
	provider := &stubProvider{category: "hashtags", notes: categoryNotes("hashtags", 20, 100)}
	src := NewTrending([]domain.TrendingProvider{provider}, time.Hour, zerolog.Nop())

	got, err := src.Fetch(context.Background(), "u1", time.Time{}, 7)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("единственная категория должна получить весь лимит, получено %d", len(got))
	}
}

func TestTrendingRefreshesAtMostOncePerInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := &stubProvider{category: "hashtags", notes: categoryNotes("hashtags", 20, 100)}
	src := NewTrending([]domain.TrendingProvider{provider}, time.Hour, zerolog.Nop())
	src.nowFunc = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if _, err := src.Fetch(context.Background(), "u1", time.Time{}, 10); err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if provider.calls != 1 {
		t.Fatalf("пул должен обновляться не чаще интервала, вызовов: %d", provider.calls)
	}

	now = now.Add(61 * time.Minute)
	if _, err := src.Fetch(context.Background(), "u1", time.Time{}, 10); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("после интервала ожидалось обновление пула, вызовов: %d", provider.calls)
	}
}

func TestTrendingKeepsStalePoolOnError(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := &stubProvider{category: "hashtags", notes: categoryNotes("hashtags", 20, 100)}
	src := NewTrending([]domain.TrendingProvider{provider}, time.Hour, zerolog.Nop())
	src.nowFunc = func() time.Time { return now }

	first, err := src.Fetch(context.Background(), "u1", time.Time{}, 5)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	provider.err = errors.New("сервис недоступен")
	now = now.Add(2 * time.Hour)
	second, err := src.Fetch(context.Background(), "u1", time.Time{}, 5)
	if err != nil {
		t.Fatalf("ошибка обновления не должна ломать выдачу: %v", err)
	}

	if len(second) != len(first) {
		t.Fatalf("при ошибке должен использоваться старый пул: %d против %d", len(second), len(first))
	}
}

package source

import (
	"context"
	"fmt"
	"time"

	"timeline-service/internal/domain"
)

// DemoSource генерирует демонстрационный контент без внешних сервисов.
type DemoSource struct {
	kind    domain.SourceKind
	nowFunc func() time.Time
}

var _ domain.Source = (*DemoSource)(nil)

// NewDemo создаёт демо-источник указанного типа.
func NewDemo(kind domain.SourceKind) *DemoSource {
	return &DemoSource{kind: kind, nowFunc: time.Now}
}

// Kind возвращает тип источника.
func (s *DemoSource) Kind() domain.SourceKind { return s.kind }

var demoAuthors = []string{"alice", "bob", "carol", "dave", "erin"}

var demoTexts = []string{
	"Сегодня выкатили новую фичу, делюсь впечатлениями #dev",
	"Подборка ссылок по распределённым системам #golang",
	"Короткая заметка о планах на неделю",
	"Фотоотчёт с конференции #conf",
	"Мысли вслух про архитектуру сервисов",
}

// Fetch генерирует заметки не старше since, свежие первыми.
func (s *DemoSource) Fetch(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.nowFunc()
	notes := make([]domain.Note, 0, limit)
	for i := 0; i < limit; i++ {
		createdAt := now.Add(-time.Duration(i*7) * time.Minute)
		if createdAt.Before(since) {
			break
		}
		author := demoAuthors[i%len(demoAuthors)]
		notes = append(notes, domain.Note{
			ID:        fmt.Sprintf("demo-%s-%d", s.kind, i+1),
			AuthorID:  author,
			Text:      demoTexts[i%len(demoTexts)],
			Hashtags:  hashtagsOf(demoTexts[i%len(demoTexts)]),
			HasMedia:  i%3 == 0,
			Likes:     int64(40 - i),
			Renotes:   int64(10 - i%10),
			Replies:   int64(i % 5),
			Views:     int64(200 + i*13),
			CreatedAt: createdAt,
		})
	}
	return notes, nil
}

// DemoTrendingProvider генерирует трендовые заметки категории.
type DemoTrendingProvider struct {
	category string
	nowFunc  func() time.Time
}

var _ domain.TrendingProvider = (*DemoTrendingProvider)(nil)

// NewDemoTrendingProvider создаёт демо-провайдера трендов.
func NewDemoTrendingProvider(category string) *DemoTrendingProvider {
	return &DemoTrendingProvider{category: category, nowFunc: time.Now}
}

// Category возвращает имя категории.
func (p *DemoTrendingProvider) Category() string { return p.category }

// Trending возвращает сгенерированные трендовые заметки.
func (p *DemoTrendingProvider) Trending(ctx context.Context, limit int) ([]domain.Note, error) {
	now := p.nowFunc()
	notes := make([]domain.Note, 0, limit)
	for i := 0; i < limit; i++ {
		notes = append(notes, domain.Note{
			ID:        fmt.Sprintf("trend-%s-%d", p.category, i+1),
			AuthorID:  fmt.Sprintf("creator-%d", i%7),
			Text:      fmt.Sprintf("Тренд дня в категории %s #%s", p.category, p.category),
			Hashtags:  []string{p.category},
			HasMedia:  p.category == "videos",
			Likes:     int64(500 - i*9),
			Renotes:   int64(120 - i*2),
			Replies:   int64(60 - i),
			Views:     int64(5000 - i*40),
			CreatedAt: now.Add(-time.Duration(i*11) * time.Minute),
		})
	}
	return notes, nil
}

func hashtagsOf(text string) []string {
	var tags []string
	inTag := false
	start := 0
	for i, r := range text {
		if r == '#' {
			inTag = true
			start = i + 1
			continue
		}
		if inTag && (r == ' ' || r == '\n') {
			if i > start {
				tags = append(tags, text[start:i])
			}
			inTag = false
		}
	}
	if inTag && start < len(text) {
		tags = append(tags, text[start:])
	}
	return tags
}

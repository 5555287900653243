package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// доли категорий в трендовой выдаче
const (
	trendingHashtagsShare = 0.5
	trendingTopicsShare   = 0.3
)

// providerRefreshLimit задаёт объём пула каждой категории при обновлении.
const providerRefreshLimit = 50

// CompositeTrendingSource объединяет несколько трендовых категорий в один источник.
// Каждая категория обновляется не чаще заданного интервала и обслуживается из пула.
type CompositeTrendingSource struct {
	providers []domain.TrendingProvider
	refresh   time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	pools   map[string]trendingPool
	nowFunc func() time.Time
}

type trendingPool struct {
	notes     []domain.Note
	updatedAt time.Time
}

var _ domain.Source = (*CompositeTrendingSource)(nil)

// NewTrending создаёт составной трендовый источник.
func NewTrending(providers []domain.TrendingProvider, refresh time.Duration, logger zerolog.Logger) *CompositeTrendingSource {
	if refresh <= 0 {
		refresh = time.Hour
	}
	return &CompositeTrendingSource{
		providers: providers,
		refresh:   refresh,
		log:       logger,
		pools:     make(map[string]trendingPool),
		nowFunc:   time.Now,
	}
}

// Kind возвращает тип источника.
func (s *CompositeTrendingSource) Kind() domain.SourceKind { return domain.SourceTrending }

// Fetch собирает трендовые заметки: доли категорий, сортировка по вовлечённости.
func (s *CompositeTrendingSource) Fetch(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	if limit <= 0 || len(s.providers) == 0 {
		return nil, nil
	}
	shares := s.categoryShares(limit)
	merged := make([]domain.Note, 0, limit)
	for i, provider := range s.providers {
		take := shares[i]
		if take == 0 {
			continue
		}
		pool := s.maybeRefresh(ctx, provider)
		if len(pool) > take {
			pool = pool[:take]
		}
		merged = append(merged, pool...)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Engagements() > merged[j].Engagements()
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// categoryShares распределяет лимит между категориями: 50/30 и остаток последней.
func (s *CompositeTrendingSource) categoryShares(limit int) []int {
	shares := make([]int, len(s.providers))
	if len(s.providers) == 1 {
		shares[0] = limit
		return shares
	}
	used := 0
	for i := range s.providers {
		if i == len(s.providers)-1 {
			shares[i] = limit - used
			break
		}
		share := trendingTopicsShare
		if i == 0 {
			share = trendingHashtagsShare
		}
		shares[i] = int(float64(limit) * share)
		used += shares[i]
	}
	return shares
}

func (s *CompositeTrendingSource) maybeRefresh(ctx context.Context, provider domain.TrendingProvider) []domain.Note {
	category := provider.Category()
	s.mu.Lock()
	pool, ok := s.pools[category]
	if ok && s.nowFunc().Sub(pool.updatedAt) < s.refresh {
		s.mu.Unlock()
		return pool.notes
	}
	s.mu.Unlock()

	notes, err := provider.Trending(ctx, providerRefreshLimit)
	if err != nil {
		metrics.SourceFetchErrors.WithLabelValues(string(domain.SourceTrending)).Inc()
		s.log.Warn().Err(err).Str("category", category).Msg("trending: обновление не удалось, используется старый пул")
		return pool.notes
	}
	s.mu.Lock()
	s.pools[category] = trendingPool{notes: notes, updatedAt: s.nowFunc()}
	s.mu.Unlock()
	return notes
}

// HTTPTrendingProvider отдаёт тренды одной категории через клиента сервиса заметок.
type HTTPTrendingProvider struct {
	client   trendingClient
	category string
}

type trendingClient interface {
	Trending(ctx context.Context, category string, limit int) ([]domain.Note, error)
}

var _ domain.TrendingProvider = (*HTTPTrendingProvider)(nil)

// NewTrendingProvider создаёт провайдера категории.
func NewTrendingProvider(client trendingClient, category string) *HTTPTrendingProvider {
	return &HTTPTrendingProvider{client: client, category: category}
}

// Category возвращает имя категории.
func (p *HTTPTrendingProvider) Category() string { return p.category }

// Trending возвращает трендовые заметки категории.
func (p *HTTPTrendingProvider) Trending(ctx context.Context, limit int) ([]domain.Note, error) {
	return p.client.Trending(ctx, p.category, limit)
}

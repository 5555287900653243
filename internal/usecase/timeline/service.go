package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// ErrInvalidUser возвращается при пустом идентификаторе пользователя.
var ErrInvalidUser = errors.New("пустой идентификатор пользователя")

// ErrRateLimited возвращается при превышении лимита запросов.
var ErrRateLimited = errors.New("превышен лимит запросов ленты")

// ErrInvalidPreferences возвращается при некорректных настройках ленты.
var ErrInvalidPreferences = errors.New("некорректные настройки ленты")

const defaultPageSize = 20

// Trainer принимает события взаимодействий для дообучения ранжировщика.
type Trainer interface {
	Train(events []domain.EngagementEvent)
}

// Deps перечисляет зависимости сервиса лент.
type Deps struct {
	Sources  []domain.Source
	Filter   domain.Filter
	Chrono   domain.Ranker
	Ranked   domain.Ranker
	Remote   domain.Ranker
	Cache    domain.TimelineCache
	Notifier domain.Notifier
	Prefs    domain.PreferencesRepo
	Events   domain.EngagementRepo
	Graph    domain.SocialGraph
	Limiter  domain.RateLimiter
	Trainer  Trainer
	Logger   zerolog.Logger

	CacheTTL      time.Duration
	ProfileTTL    time.Duration
	SourceTimeout time.Duration
	MaxPageSize   int
}

// Service реализует бизнес-логику построения и обслуживания лент.
type Service struct {
	deps    Deps
	nowFunc func() time.Time
}

var _ domain.TimelineService = (*Service)(nil)

// NewService создаёт сервис лент.
func NewService(deps Deps) *Service {
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = time.Hour
	}
	if deps.ProfileTTL <= 0 {
		deps.ProfileTTL = 30 * time.Minute
	}
	if deps.SourceTimeout <= 0 {
		deps.SourceTimeout = 3 * time.Second
	}
	if deps.MaxPageSize <= 0 {
		deps.MaxPageSize = 100
	}
	return &Service{deps: deps, nowFunc: time.Now}
}

// GetTimeline возвращает домашнюю ленту пользователя, из кэша или собранную заново.
func (s *Service) GetTimeline(ctx context.Context, req domain.TimelineRequest) (domain.Timeline, error) {
	if req.UserID == "" {
		return domain.Timeline{}, ErrInvalidUser
	}
	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(req.UserID) {
		metrics.RateLimited.Inc()
		return domain.Timeline{}, ErrRateLimited
	}

	prefs, err := s.preferencesFor(ctx, req)
	if err != nil {
		return domain.Timeline{}, err
	}
	metrics.TimelineRequests.WithLabelValues(string(prefs.Algorithm)).Inc()

	if s.cacheUsable(req) {
		if cached, ok := s.deps.Cache.GetTimeline(ctx, req.UserID); ok && cached.Algorithm == prefs.Algorithm {
			metrics.TimelineCacheHits.Inc()
			return s.page(ctx, cached, req), nil
		}
		metrics.TimelineCacheMisses.Inc()
	}

	timeline, err := s.generate(ctx, req, prefs)
	if err != nil {
		return domain.Timeline{}, err
	}
	if s.cacheUsable(req) && ctx.Err() == nil {
		if err := s.deps.Cache.SetTimeline(ctx, timeline, s.deps.CacheTTL); err != nil {
			s.deps.Logger.Warn().Err(err).Str("user_id", req.UserID).Msg("timeline: кэширование не удалось")
		}
	}
	return s.page(ctx, timeline, req), nil
}

// GetForYou собирает ленту открытий: гибридный алгоритм, опционально внешнее ранжирование.
func (s *Service) GetForYou(ctx context.Context, req domain.TimelineRequest) (domain.Timeline, error) {
	req.Algorithm = domain.AlgorithmHybrid
	return s.GetTimeline(ctx, req)
}

// GetFollowing собирает хронологическую ленту только из подписок.
func (s *Service) GetFollowing(ctx context.Context, req domain.TimelineRequest) (domain.Timeline, error) {
	req.Algorithm = domain.AlgorithmChronological
	req.ABWeights = map[domain.SourceKind]float64{
		domain.SourceFollowing:   1,
		domain.SourceRecommended: 0,
		domain.SourceTrending:    0,
		domain.SourceLists:       0,
	}
	if req.UserID == "" {
		return domain.Timeline{}, ErrInvalidUser
	}
	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(req.UserID) {
		metrics.RateLimited.Inc()
		return domain.Timeline{}, ErrRateLimited
	}
	prefs, err := s.preferencesFor(ctx, req)
	if err != nil {
		return domain.Timeline{}, err
	}
	prefs.Ratios = domain.SourceRatios{Following: 1}
	metrics.TimelineRequests.WithLabelValues(string(prefs.Algorithm)).Inc()

	timeline, err := s.generate(ctx, req, prefs)
	if err != nil {
		return domain.Timeline{}, err
	}
	return s.page(ctx, timeline, req), nil
}

// Refresh пересобирает ленту и рассылает подписчикам позиции новее since.
func (s *Service) Refresh(ctx context.Context, userID string, since time.Time) (domain.Timeline, error) {
	if userID == "" {
		return domain.Timeline{}, ErrInvalidUser
	}
	_ = s.deps.Cache.InvalidateTimeline(ctx, userID)

	req := domain.TimelineRequest{UserID: userID}
	prefs, err := s.preferencesFor(ctx, req)
	if err != nil {
		return domain.Timeline{}, err
	}
	timeline, err := s.generate(ctx, req, prefs)
	if err != nil {
		return domain.Timeline{}, err
	}
	if ctx.Err() == nil {
		if err := s.deps.Cache.SetTimeline(ctx, timeline, s.deps.CacheTTL); err != nil {
			s.deps.Logger.Warn().Err(err).Str("user_id", userID).Msg("timeline: кэширование не удалось")
		}
	}

	if s.deps.Notifier != nil && s.deps.Notifier.HasSubscribers(userID) {
		var fresh []domain.TimelineItem
		for _, item := range timeline.Items {
			if item.Note.CreatedAt.After(since) {
				fresh = append(fresh, item)
			}
		}
		if len(fresh) > 0 {
			s.deps.Notifier.NotifyNewItems(userID, fresh)
		}
	}
	return timeline, nil
}

// MarkRead сохраняет отметку последнего прочтения ленты.
func (s *Service) MarkRead(ctx context.Context, userID string, at time.Time) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if at.IsZero() {
		at = s.nowFunc()
	}
	return s.deps.Cache.SetLastRead(ctx, userID, at)
}

// RecordEngagement сохраняет взаимодействие и дообучает ранжировщик.
func (s *Service) RecordEngagement(ctx context.Context, event domain.EngagementEvent) error {
	if event.UserID == "" || event.NoteID == "" {
		return ErrInvalidUser
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.nowFunc()
	}
	if err := s.deps.Events.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("сохранение события: %w", err)
	}
	if s.deps.Trainer != nil {
		s.deps.Trainer.Train([]domain.EngagementEvent{event})
	}
	if event.Action == domain.ActionFollow && event.AuthorID != "" {
		_ = s.deps.Cache.AddFollower(ctx, event.AuthorID, event.UserID)
		_ = s.deps.Cache.InvalidateTimeline(ctx, event.UserID)
	}
	return nil
}

// WarmTrainer дообучает ранжировщик накопленной историей взаимодействий.
// Вызывается при старте, чтобы персонализация не начиналась с нуля.
func (s *Service) WarmTrainer(ctx context.Context, since time.Time, limit int) (int, error) {
	if s.deps.Trainer == nil || s.deps.Events == nil {
		return 0, nil
	}
	events, err := s.deps.Events.ListSince(ctx, since, limit)
	if err != nil {
		return 0, fmt.Errorf("чтение истории взаимодействий: %w", err)
	}
	if len(events) > 0 {
		s.deps.Trainer.Train(events)
	}
	return len(events), nil
}

// GetPreferences возвращает настройки ленты пользователя.
func (s *Service) GetPreferences(ctx context.Context, userID string) (domain.TimelinePreferences, error) {
	if userID == "" {
		return domain.TimelinePreferences{}, ErrInvalidUser
	}
	return s.deps.Prefs.Get(ctx, userID)
}

// UpdatePreferences сохраняет настройки и сбрасывает закэшированную ленту.
func (s *Service) UpdatePreferences(ctx context.Context, prefs domain.TimelinePreferences) error {
	if prefs.UserID == "" {
		return ErrInvalidUser
	}
	if err := validatePreferences(prefs); err != nil {
		return err
	}
	prefs.UpdatedAt = s.nowFunc()
	if err := s.deps.Prefs.Save(ctx, prefs); err != nil {
		return fmt.Errorf("сохранение настроек: %w", err)
	}
	return s.deps.Cache.InvalidateTimeline(ctx, prefs.UserID)
}

// MuteUser добавляет или убирает автора из мьютов и сбрасывает кэши пользователя.
func (s *Service) MuteUser(ctx context.Context, userID, authorID string, muted bool) error {
	if userID == "" || authorID == "" {
		return ErrInvalidUser
	}
	var err error
	if muted {
		err = s.deps.Prefs.AddMutedUser(ctx, userID, authorID)
	} else {
		err = s.deps.Prefs.RemoveMutedUser(ctx, userID, authorID)
	}
	if err != nil {
		return fmt.Errorf("изменение мьютов: %w", err)
	}
	return s.invalidateUserCaches(ctx, userID)
}

// MuteKeyword добавляет или убирает слово из мьютов и сбрасывает кэши пользователя.
func (s *Service) MuteKeyword(ctx context.Context, userID, keyword string, muted bool) error {
	if userID == "" || keyword == "" {
		return ErrInvalidUser
	}
	var err error
	if muted {
		err = s.deps.Prefs.AddMutedKeyword(ctx, userID, keyword)
	} else {
		err = s.deps.Prefs.RemoveMutedKeyword(ctx, userID, keyword)
	}
	if err != nil {
		return fmt.Errorf("изменение мьютов: %w", err)
	}
	return s.invalidateUserCaches(ctx, userID)
}

func (s *Service) invalidateUserCaches(ctx context.Context, userID string) error {
	if err := s.deps.Cache.InvalidateProfile(ctx, userID); err != nil {
		return err
	}
	return s.deps.Cache.InvalidateTimeline(ctx, userID)
}

func validatePreferences(prefs domain.TimelinePreferences) error {
	if prefs.MaxItems <= 0 || prefs.MaxAge <= 0 {
		return ErrInvalidPreferences
	}
	ratios := []float64{prefs.Ratios.Following, prefs.Ratios.Recommended, prefs.Ratios.Trending, prefs.Ratios.Lists}
	total := 0.0
	for _, ratio := range ratios {
		if ratio < 0 || ratio > 1 {
			return ErrInvalidPreferences
		}
		total += ratio
	}
	if total <= 0 {
		return ErrInvalidPreferences
	}
	switch prefs.Algorithm {
	case domain.AlgorithmChronological, domain.AlgorithmAlgorithmic, domain.AlgorithmHybrid:
		return nil
	}
	return ErrInvalidPreferences
}

func (s *Service) preferencesFor(ctx context.Context, req domain.TimelineRequest) (domain.TimelinePreferences, error) {
	prefs, err := s.deps.Prefs.Get(ctx, req.UserID)
	if err != nil {
		s.deps.Logger.Warn().Err(err).Str("user_id", req.UserID).Msg("timeline: настройки недоступны, используются значения по умолчанию")
		prefs = domain.DefaultPreferences(req.UserID)
	}
	if req.Algorithm != "" {
		prefs.Algorithm = req.Algorithm
	}
	if req.DiscoveryShare != nil {
		prefs = applyDiscoveryShare(prefs, *req.DiscoveryShare)
	}
	return prefs, nil
}

// applyDiscoveryShare отдаёт открытиям долю share, подписки получают остаток.
// Доли рекомендаций, трендов и списков масштабируются пропорционально текущим.
func applyDiscoveryShare(prefs domain.TimelinePreferences, share float64) domain.TimelinePreferences {
	if share < 0 {
		share = 0
	}
	if share > 1 {
		share = 1
	}
	discovery := prefs.Ratios.Recommended + prefs.Ratios.Trending + prefs.Ratios.Lists
	prefs.Ratios.Following = 1 - share
	if discovery <= 0 {
		prefs.Ratios.Recommended = share
		prefs.Ratios.Trending = 0
		prefs.Ratios.Lists = 0
		return prefs
	}
	scale := share / discovery
	prefs.Ratios.Recommended *= scale
	prefs.Ratios.Trending *= scale
	prefs.Ratios.Lists *= scale
	return prefs
}

// cacheUsable сообщает, можно ли обслуживать запрос из общего кэша ленты.
// Запросы с внешним ранжированием и переопределениями собираются заново.
func (s *Service) cacheUsable(req domain.TimelineRequest) bool {
	return !req.UseRemote && req.DiscoveryShare == nil && len(req.ABWeights) == 0 && len(req.CapOverrides) == 0
}

type sourceBatch struct {
	kind  domain.SourceKind
	notes []domain.Note
}

// generate собирает ленту: источники, дедупликация, фильтр, ранжирование, сборка.
func (s *Service) generate(ctx context.Context, req domain.TimelineRequest, prefs domain.TimelinePreferences) (domain.Timeline, error) {
	start := s.nowFunc()
	defer func() {
		metrics.GenerateSeconds.Observe(time.Since(start).Seconds())
	}()

	profile := s.loadProfile(ctx, req.UserID)
	since := start.Add(-prefs.MaxAge)

	batches := s.fetchSources(ctx, req, prefs, since)

	seen := make(map[string]struct{})
	var candidates []domain.TimelineItem
	for _, batch := range batches {
		for _, note := range batch.notes {
			if _, dup := seen[note.ID]; dup {
				continue
			}
			seen[note.ID] = struct{}{}
			candidates = append(candidates, domain.TimelineItem{
				Note:       note,
				Source:     batch.kind,
				InjectedAt: start,
			})
		}
	}

	candidates = s.filterCandidates(ctx, profile, candidates)

	ranked, err := s.rank(ctx, req, prefs, profile, candidates)
	if err != nil {
		return domain.Timeline{}, err
	}

	items := assemble(ranked, prefs, req.CapOverrides)
	timeline := domain.Timeline{
		UserID:      req.UserID,
		Items:       items,
		Algorithm:   prefs.Algorithm,
		GeneratedAt: start,
		TotalCount:  len(items),
	}
	return timeline, nil
}

// fetchSources опрашивает источники параллельно, ошибки поглощаются.
func (s *Service) fetchSources(ctx context.Context, req domain.TimelineRequest, prefs domain.TimelinePreferences, since time.Time) []sourceBatch {
	batches := make([]sourceBatch, len(s.deps.Sources))
	var wg sync.WaitGroup
	for i, src := range s.deps.Sources {
		limit := s.sourceLimit(src.Kind(), req, prefs)
		batches[i].kind = src.Kind()
		if limit == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, src domain.Source, limit int) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, s.deps.SourceTimeout)
			defer cancel()
			notes, err := src.Fetch(fetchCtx, req.UserID, since, limit)
			if err != nil {
				metrics.SourceFetchErrors.WithLabelValues(string(src.Kind())).Inc()
				s.deps.Logger.Warn().Err(err).Str("source", string(src.Kind())).Msg("timeline: источник недоступен")
				return
			}
			batches[i].notes = notes
		}(i, src, limit)
	}
	wg.Wait()
	return batches
}

// sourceLimit вычисляет объём выборки источника: лимит, доля, A/B-вес и кап.
func (s *Service) sourceLimit(kind domain.SourceKind, req domain.TimelineRequest, prefs domain.TimelinePreferences) int {
	abWeight := 1.0
	if weight, ok := prefs.SourceAB[kind]; ok {
		abWeight = weight
	}
	if weight, ok := req.ABWeights[kind]; ok {
		abWeight = weight
	}
	limit := int(float64(prefs.MaxItems) * prefs.Ratios.Ratio(kind) * abWeight)
	capLimit := prefs.Caps.Cap(kind)
	if override, ok := req.CapOverrides[kind]; ok {
		capLimit = override
	}
	if capLimit > 0 && limit > capLimit {
		limit = capLimit
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}

func (s *Service) filterCandidates(ctx context.Context, profile domain.UserProfile, candidates []domain.TimelineItem) []domain.TimelineItem {
	if s.deps.Filter == nil || len(candidates) == 0 {
		return candidates
	}
	notes := make([]domain.Note, len(candidates))
	byID := make(map[string]domain.TimelineItem, len(candidates))
	for i, candidate := range candidates {
		notes[i] = candidate.Note
		byID[candidate.Note.ID] = candidate
	}
	passed, stats := s.deps.Filter.Apply(ctx, profile, notes)
	if len(stats) > 0 {
		s.deps.Logger.Debug().Str("user_id", profile.UserID).Interface("stats", stats).Msg("timeline: результаты фильтрации")
	}
	filtered := make([]domain.TimelineItem, 0, len(passed))
	for _, note := range passed {
		filtered = append(filtered, byID[note.ID])
	}
	return filtered
}

func (s *Service) rank(ctx context.Context, req domain.TimelineRequest, prefs domain.TimelinePreferences, profile domain.UserProfile, candidates []domain.TimelineItem) ([]domain.TimelineItem, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ranker := s.deps.Ranked
	if prefs.Algorithm == domain.AlgorithmChronological {
		ranker = s.deps.Chrono
	}
	if req.UseRemote && s.deps.Remote != nil {
		ranker = s.deps.Remote
	}
	items, err := ranker.Rank(ctx, profile, prefs, candidates)
	if err != nil {
		return nil, fmt.Errorf("ранжирование (%s): %w", ranker.Name(), err)
	}
	return items, nil
}

// assemble усечёт выдачу: порог оценки и капы источников действуют при переполнении.
func assemble(ranked []domain.TimelineItem, prefs domain.TimelinePreferences, capOverrides map[domain.SourceKind]int) []domain.TimelineItem {
	perSource := make(map[domain.SourceKind]int)
	items := make([]domain.TimelineItem, 0, prefs.MaxItems)
	for _, item := range ranked {
		if len(items) >= prefs.MaxItems {
			break
		}
		if prefs.Algorithm != domain.AlgorithmChronological && item.Score < prefs.MinScore {
			continue
		}
		capLimit := prefs.Caps.Cap(item.Source)
		if override, ok := capOverrides[item.Source]; ok {
			capLimit = override
		}
		if capLimit > 0 && perSource[item.Source] >= capLimit {
			continue
		}
		perSource[item.Source]++
		items = append(items, item)
	}
	return items
}

// loadProfile достаёт профиль из кэша либо собирает из графа и мьютов.
// Любая ошибка апстрима деградирует до частичного профиля.
func (s *Service) loadProfile(ctx context.Context, userID string) domain.UserProfile {
	if profile, ok := s.deps.Cache.GetProfile(ctx, userID); ok {
		return profile
	}
	profile := domain.UserProfile{
		UserID:          userID,
		Following:       make(map[string]struct{}),
		MutedUsers:      make(map[string]struct{}),
		AuthorAffinity:  make(map[string]float64),
		EngagedHashtags: make(map[string]struct{}),
		EngagementScore: 0.5,
		FetchedAt:       s.nowFunc(),
	}
	if s.deps.Graph != nil {
		following, err := s.deps.Graph.Following(ctx, userID)
		if err != nil {
			s.deps.Logger.Warn().Err(err).Str("user_id", userID).Msg("timeline: подписки недоступны")
		}
		for _, authorID := range following {
			profile.Following[authorID] = struct{}{}
		}
	}
	if s.deps.Prefs != nil {
		if muted, err := s.deps.Prefs.MutedUsers(ctx, userID); err == nil {
			for _, authorID := range muted {
				profile.MutedUsers[authorID] = struct{}{}
			}
		}
		if keywords, err := s.deps.Prefs.MutedKeywords(ctx, userID); err == nil {
			profile.MutedKeywords = keywords
		}
	}
	if err := s.deps.Cache.SetProfile(ctx, profile, s.deps.ProfileTTL); err != nil {
		s.deps.Logger.Debug().Err(err).Msg("timeline: кэширование профиля не удалось")
	}
	return profile
}

// page применяет пагинацию и метаданные о непрочитанном.
func (s *Service) page(ctx context.Context, timeline domain.Timeline, req domain.TimelineRequest) domain.Timeline {
	if lastRead, ok := s.deps.Cache.GetLastRead(ctx, req.UserID); ok {
		fresh := 0
		for _, item := range timeline.Items {
			if item.Note.CreatedAt.After(lastRead) {
				fresh++
			}
		}
		timeline.NewSinceRead = fresh
	}
	timeline.TotalCount = len(timeline.Items)

	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > s.deps.MaxPageSize {
		limit = s.deps.MaxPageSize
	}
	if offset >= len(timeline.Items) {
		timeline.Items = nil
		return timeline
	}
	end := offset + limit
	if end > len(timeline.Items) {
		end = len(timeline.Items)
	}
	timeline.Items = timeline.Items[offset:end]
	return timeline
}

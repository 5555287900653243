package domain

import (
	"context"
	"time"
)

// Source отдаёт кандидатов из одного источника контента.
type Source interface {
	Kind() SourceKind
	Fetch(ctx context.Context, userID string, since time.Time, limit int) ([]Note, error)
}

// Filter отсеивает заметки по сигналам пользователя и политикам.
type Filter interface {
	Apply(ctx context.Context, profile UserProfile, notes []Note) ([]Note, FilterStats)
}

// Ranker оценивает кандидатов и возвращает позиции ленты по убыванию оценки.
// Кандидаты приходят с заполненными Note и Source, ранжировщик заполняет остальное.
type Ranker interface {
	Name() string
	Rank(ctx context.Context, profile UserProfile, prefs TimelinePreferences, candidates []TimelineItem) ([]TimelineItem, error)
}

// TrendingProvider отдаёт трендовые заметки одной категории.
type TrendingProvider interface {
	Category() string
	Trending(ctx context.Context, limit int) ([]Note, error)
}

// TimelineCache хранит собранные ленты и сопутствующие данные.
type TimelineCache interface {
	GetTimeline(ctx context.Context, userID string) (Timeline, bool)
	SetTimeline(ctx context.Context, timeline Timeline, ttl time.Duration) error
	InvalidateTimeline(ctx context.Context, userID string) error
	InvalidateAuthor(ctx context.Context, authorID string) error
	GetProfile(ctx context.Context, userID string) (UserProfile, bool)
	SetProfile(ctx context.Context, profile UserProfile, ttl time.Duration) error
	InvalidateProfile(ctx context.Context, userID string) error
	GetLastRead(ctx context.Context, userID string) (time.Time, bool)
	SetLastRead(ctx context.Context, userID string, at time.Time) error
	AddFollower(ctx context.Context, authorID, followerID string) error
	Followers(ctx context.Context, authorID string) ([]string, error)
}

// Notifier доставляет обновления ленты подписанным соединениям.
type Notifier interface {
	NotifyNewItems(userID string, items []TimelineItem)
	NotifyItemUpdated(userID, noteID string)
	NotifyItemDeleted(userID, noteID string)
	HasSubscribers(userID string) bool
}

// SocialGraph отдаёт связи подписок из апстрим-сервиса.
type SocialGraph interface {
	Following(ctx context.Context, userID string) ([]string, error)
	Followers(ctx context.Context, userID string) ([]string, error)
}

// NoteProvider отдаёт заметки из апстрим-сервиса.
type NoteProvider interface {
	RecentByAuthors(ctx context.Context, authorIDs []string, since time.Time, limit int) ([]Note, error)
	RecommendedFor(ctx context.Context, userID string, since time.Time, limit int) ([]Note, error)
	ListMembersNotes(ctx context.Context, userID string, since time.Time, limit int) ([]Note, error)
}

// PreferencesRepo хранит настройки ленты и мьюты.
type PreferencesRepo interface {
	Get(ctx context.Context, userID string) (TimelinePreferences, error)
	Save(ctx context.Context, prefs TimelinePreferences) error
	AddMutedUser(ctx context.Context, userID, authorID string) error
	RemoveMutedUser(ctx context.Context, userID, authorID string) error
	AddMutedKeyword(ctx context.Context, userID, keyword string) error
	RemoveMutedKeyword(ctx context.Context, userID, keyword string) error
	MutedUsers(ctx context.Context, userID string) ([]string, error)
	MutedKeywords(ctx context.Context, userID string) ([]string, error)
}

// EngagementRepo хранит события взаимодействий.
type EngagementRepo interface {
	SaveEvent(ctx context.Context, event EngagementEvent) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]EngagementEvent, error)
}

// NoteEventQueue передаёт события заметок воркеру фан-аута.
type NoteEventQueue interface {
	Publish(ctx context.Context, event NoteEvent) error
	Pop(ctx context.Context) (NoteEvent, error)
}

// RateLimiter ограничивает частоту запросов пользователя.
type RateLimiter interface {
	Allow(userID string) bool
}

// TimelineService отвечает за построение и обслуживание лент.
type TimelineService interface {
	GetTimeline(ctx context.Context, req TimelineRequest) (Timeline, error)
	GetForYou(ctx context.Context, req TimelineRequest) (Timeline, error)
	GetFollowing(ctx context.Context, req TimelineRequest) (Timeline, error)
	Refresh(ctx context.Context, userID string, since time.Time) (Timeline, error)
	MarkRead(ctx context.Context, userID string, at time.Time) error
	RecordEngagement(ctx context.Context, event EngagementEvent) error
	GetPreferences(ctx context.Context, userID string) (TimelinePreferences, error)
	UpdatePreferences(ctx context.Context, prefs TimelinePreferences) error
	MuteUser(ctx context.Context, userID, authorID string, muted bool) error
	MuteKeyword(ctx context.Context, userID, keyword string, muted bool) error
}

package domain

import "time"

// SourceKind обозначает источник контента для ленты.
type SourceKind string

const (
	SourceFollowing   SourceKind = "following"
	SourceRecommended SourceKind = "recommended"
	SourceTrending    SourceKind = "trending"
	SourceLists       SourceKind = "lists"
)

// Algorithm задаёт алгоритм построения ленты.
type Algorithm string

const (
	AlgorithmChronological Algorithm = "chronological"
	AlgorithmAlgorithmic   Algorithm = "algorithmic"
	AlgorithmHybrid        Algorithm = "hybrid"
)

// Note представляет заметку из апстрим-сервиса.
type Note struct {
	ID        string
	AuthorID  string
	Text      string
	Hashtags  []string
	Mentions  []string
	HasMedia  bool
	HasLink   bool
	Likes     int64
	Renotes   int64
	Replies   int64
	Views     int64
	CreatedAt time.Time
}

// Engagements возвращает суммарное количество реакций на заметку.
func (n Note) Engagements() int64 {
	return n.Likes + n.Renotes + n.Replies
}

// TimelineItem описывает одну позицию в собранной ленте.
type TimelineItem struct {
	Note            Note
	Source          SourceKind
	Score           float64
	InjectionReason string
	Factors         map[string]float64
	InjectedAt      time.Time
}

// Timeline представляет собой готовую ленту пользователя.
type Timeline struct {
	UserID       string
	Items        []TimelineItem
	Algorithm    Algorithm
	GeneratedAt  time.Time
	TotalCount   int
	NewSinceRead int
}

// RankingWeights хранит веса факторов ранжирования.
type RankingWeights struct {
	Recency        float64
	Engagement     float64
	AuthorAffinity float64
	ContentQuality float64
	Diversity      float64
}

// SourceRatios задаёт доли источников в итоговой ленте.
type SourceRatios struct {
	Following   float64
	Recommended float64
	Trending    float64
	Lists       float64
}

// SourceCaps ограничивает число позиций каждого источника.
type SourceCaps struct {
	Following   int
	Recommended int
	Trending    int
	Lists       int
}

// Ratio возвращает долю для указанного источника.
func (r SourceRatios) Ratio(kind SourceKind) float64 {
	switch kind {
	case SourceFollowing:
		return r.Following
	case SourceRecommended:
		return r.Recommended
	case SourceTrending:
		return r.Trending
	case SourceLists:
		return r.Lists
	}
	return 0
}

// Cap возвращает ограничение для указанного источника.
func (c SourceCaps) Cap(kind SourceKind) int {
	switch kind {
	case SourceFollowing:
		return c.Following
	case SourceRecommended:
		return c.Recommended
	case SourceTrending:
		return c.Trending
	case SourceLists:
		return c.Lists
	}
	return 0
}

// TimelinePreferences хранит настройки ленты пользователя.
type TimelinePreferences struct {
	UserID    string
	Algorithm Algorithm
	MaxItems  int
	MaxAge    time.Duration
	MinScore  float64
	Weights   RankingWeights
	Ratios    SourceRatios
	Caps      SourceCaps
	SourceAB  map[SourceKind]float64
	UpdatedAt time.Time
}

// DefaultPreferences возвращает настройки ленты по умолчанию.
func DefaultPreferences(userID string) TimelinePreferences {
	return TimelinePreferences{
		UserID:    userID,
		Algorithm: AlgorithmHybrid,
		MaxItems:  50,
		MaxAge:    24 * time.Hour,
		MinScore:  0.1,
		Weights: RankingWeights{
			Recency:        0.3,
			Engagement:     0.25,
			AuthorAffinity: 0.2,
			ContentQuality: 0.15,
			Diversity:      0.1,
		},
		Ratios: SourceRatios{
			Following:   0.7,
			Recommended: 0.2,
			Trending:    0.08,
			Lists:       0.02,
		},
		Caps: SourceCaps{
			Following:   100,
			Recommended: 50,
			Trending:    30,
			Lists:       20,
		},
	}
}

// UserProfile агрегирует сигналы пользователя для фильтрации и ранжирования.
type UserProfile struct {
	UserID          string
	Following       map[string]struct{}
	MutedUsers      map[string]struct{}
	MutedKeywords   []string
	AuthorAffinity  map[string]float64
	EngagedHashtags map[string]struct{}
	EngagementScore float64
	ActiveHours     []int
	FetchedAt       time.Time
}

// IsFollowing сообщает, подписан ли пользователь на автора.
func (p UserProfile) IsFollowing(authorID string) bool {
	_, ok := p.Following[authorID]
	return ok
}

// FilterReason объясняет, почему заметка не прошла фильтр.
type FilterReason string

const (
	FilterMutedUser       FilterReason = "muted_user"
	FilterMutedKeyword    FilterReason = "muted_keyword"
	FilterPolicyViolation FilterReason = "policy_violation"
	FilterSpamDetected    FilterReason = "spam_detected"
	FilterLowEngagement   FilterReason = "low_engagement"
)

// FilterStats содержит счётчики отфильтрованных заметок по причинам.
type FilterStats map[FilterReason]int

// EngagementAction перечисляет действия пользователя с заметкой.
type EngagementAction string

const (
	ActionLike   EngagementAction = "like"
	ActionRenote EngagementAction = "renote"
	ActionReply  EngagementAction = "reply"
	ActionFollow EngagementAction = "follow"
)

// EngagementEvent фиксирует взаимодействие пользователя с заметкой.
type EngagementEvent struct {
	UserID     string
	NoteID     string
	AuthorID   string
	Action     EngagementAction
	Hashtags   []string
	DurationMS int64
	CreatedAt  time.Time
}

// NoteEventType перечисляет типы событий очереди заметок.
type NoteEventType string

const (
	EventNotePublished NoteEventType = "note_published"
	EventNoteDeleted   NoteEventType = "note_deleted"
	EventFollowChanged NoteEventType = "follow_changed"
)

// NoteEvent описывает событие из очереди для фан-аута.
type NoteEvent struct {
	Type       NoteEventType `json:"type"`
	NoteID     string        `json:"note_id,omitempty"`
	AuthorID   string        `json:"author_id,omitempty"`
	FollowerID string        `json:"follower_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// TimelineRequest описывает параметры запроса ленты.
type TimelineRequest struct {
	UserID       string
	Offset       int
	Limit        int
	Algorithm    Algorithm
	UseRemote    bool
	// DiscoveryShare переопределяет долю открытий: подписки получают 1−share,
	// остальные источники масштабируются пропорционально.
	DiscoveryShare *float64
	ABWeights      map[SourceKind]float64
	CapOverrides   map[SourceKind]int
}

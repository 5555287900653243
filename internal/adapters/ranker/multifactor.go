package ranker

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"timeline-service/internal/domain"
)

// веса факторов качества контента
const (
	qualityTextLengthWeight = 0.1
	qualityMediaBoost       = 0.15
	qualityLinkPenalty      = -0.05
	qualityHashtagBoost     = 0.08
	qualityMentionBoost     = 0.12
)

const recencyHalfLifeHours = 6.0

// MultifactorRanker оценивает заметки по аффинити, качеству, скорости
// вовлечения и свежести. Обученные сигналы хранятся в памяти процесса.
type MultifactorRanker struct {
	mu            sync.Mutex
	userAffinity  map[string]map[string]float64
	globalAuthors map[string]float64
	engagedTags   map[string]map[string]struct{}
	nowFunc       func() time.Time
}

var _ domain.Ranker = (*MultifactorRanker)(nil)

// NewMultifactor создаёт многофакторный ранжировщик.
func NewMultifactor() *MultifactorRanker {
	return &MultifactorRanker{
		userAffinity:  make(map[string]map[string]float64),
		globalAuthors: make(map[string]float64),
		engagedTags:   make(map[string]map[string]struct{}),
		nowFunc:       time.Now,
	}
}

// Name возвращает имя ранжировщика.
func (r *MultifactorRanker) Name() string { return "multifactor" }

// Rank вычисляет итоговую оценку каждого кандидата и сортирует по убыванию.
func (r *MultifactorRanker) Rank(ctx context.Context, profile domain.UserProfile, prefs domain.TimelinePreferences, candidates []domain.TimelineItem) ([]domain.TimelineItem, error) {
	now := r.nowFunc()
	items := make([]domain.TimelineItem, len(candidates))
	copy(items, candidates)

	for i := range items {
		note := items[i].Note
		affinity := r.authorAffinity(profile, note.AuthorID)
		quality := r.contentQuality(profile, note)
		velocity := engagementVelocity(note, now)
		recency := recencyScore(note, now)
		personalization := r.personalization(profile, note)

		score := affinity*prefs.Weights.AuthorAffinity +
			quality*prefs.Weights.ContentQuality +
			velocity*prefs.Weights.Engagement +
			recency*prefs.Weights.Recency +
			personalization*0.1

		items[i].Score = score
		items[i].InjectionReason = "multifactor_ranking"
		items[i].Factors = map[string]float64{
			"author_affinity":     affinity,
			"content_quality":     quality,
			"engagement_velocity": velocity,
			"recency":             recency,
			"personalization":     personalization,
		}
	}

	applyDiversityAdjustments(items, prefs.Weights.Diversity)
	applyRepetitionControl(items)
	if prefs.Algorithm == domain.AlgorithmHybrid {
		applyHybridTweaks(items, now)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Note.CreatedAt.After(items[j].Note.CreatedAt)
	})
	return items, nil
}

// Train обновляет аффинити и интересы по событиям взаимодействий.
func (r *MultifactorRanker) Train(events []domain.EngagementEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range events {
		byAuthor, ok := r.userAffinity[event.UserID]
		if !ok {
			byAuthor = make(map[string]float64)
			r.userAffinity[event.UserID] = byAuthor
		}
		delta := 0.0
		switch event.Action {
		case domain.ActionLike:
			delta = 0.05
		case domain.ActionRenote:
			delta = 0.1
		case domain.ActionReply:
			delta = 0.15
		case domain.ActionFollow:
			delta = 0.3
		}
		byAuthor[event.AuthorID] = math.Min(1.0, byAuthor[event.AuthorID]+delta)
		r.globalAuthors[event.AuthorID] = math.Min(1.0, r.globalAuthors[event.AuthorID]+0.01)

		if len(event.Hashtags) > 0 {
			tags, ok := r.engagedTags[event.UserID]
			if !ok {
				tags = make(map[string]struct{})
				r.engagedTags[event.UserID] = tags
			}
			for _, tag := range event.Hashtags {
				tags[tag] = struct{}{}
			}
		}
	}
}

func (r *MultifactorRanker) authorAffinity(profile domain.UserProfile, authorID string) float64 {
	affinity := 0.1
	if profile.IsFollowing(authorID) {
		affinity = 0.8
	}
	if learned, ok := profile.AuthorAffinity[authorID]; ok && learned > affinity {
		affinity = learned
	}
	r.mu.Lock()
	if byAuthor, ok := r.userAffinity[profile.UserID]; ok {
		if learned, ok := byAuthor[authorID]; ok && learned > affinity {
			affinity = learned
		}
	}
	affinity += r.globalAuthors[authorID] * 0.2
	r.mu.Unlock()
	return math.Min(1.0, affinity)
}

func (r *MultifactorRanker) contentQuality(profile domain.UserProfile, note domain.Note) float64 {
	quality := 0.5

	textLength := len([]rune(note.Text))
	if textLength >= 50 && textLength <= 280 {
		quality += qualityTextLengthWeight
	} else if textLength < 10 {
		quality -= 0.2
	}

	if note.HasMedia {
		quality += qualityMediaBoost
	}
	if note.HasLink {
		quality += qualityLinkPenalty
	}

	if n := len(note.Hashtags); n > 0 && n <= 5 {
		quality += qualityHashtagBoost
		for _, tag := range note.Hashtags {
			if r.hasEngagedTag(profile, tag) {
				quality += 0.05
			}
		}
	} else if n > 10 {
		quality -= 0.1
	}

	if n := len(note.Mentions); n > 0 && n <= 3 {
		quality += qualityMentionBoost
	}

	if note.Views > 0 {
		rate := float64(note.Engagements()) / float64(note.Views)
		quality += math.Min(0.3, rate*2.0)
	}

	return math.Max(0.0, math.Min(1.0, quality))
}

func (r *MultifactorRanker) personalization(profile domain.UserProfile, note domain.Note) float64 {
	personalization := 0.0
	hour := note.CreatedAt.Hour()
	if hour >= 9 && hour <= 23 {
		personalization += 0.1
	}
	for _, tag := range note.Hashtags {
		if r.hasEngagedTag(profile, tag) {
			personalization += 0.05
		}
	}
	return math.Min(1.0, personalization)
}

func (r *MultifactorRanker) hasEngagedTag(profile domain.UserProfile, tag string) bool {
	if _, ok := profile.EngagedHashtags[tag]; ok {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tags, ok := r.engagedTags[profile.UserID]
	if !ok {
		return false
	}
	_, ok = tags[tag]
	return ok
}

// engagementVelocity нормирует реакции в час, 10 в час считается максимумом.
func engagementVelocity(note domain.Note, now time.Time) float64 {
	ageHours := now.Sub(note.CreatedAt).Hours()
	if ageHours <= 0 {
		return 0
	}
	velocity := float64(note.Engagements()) / ageHours
	return math.Min(1.0, velocity/10.0)
}

// recencyScore затухает экспоненциально с периодом полураспада 6 часов.
func recencyScore(note domain.Note, now time.Time) float64 {
	ageHours := now.Sub(note.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours * math.Ln2 / recencyHalfLifeHours)
}

// applyDiversityAdjustments штрафует перепредставленных авторов и
// поощряет уникальные хэштеги в рамках выдачи.
func applyDiversityAdjustments(items []domain.TimelineItem, diversityFactor float64) {
	if len(items) <= 1 {
		return
	}
	authorCount := make(map[string]int)
	tagFrequency := make(map[string]int)
	for _, item := range items {
		authorCount[item.Note.AuthorID]++
		for _, tag := range item.Note.Hashtags {
			tagFrequency[tag]++
		}
	}
	for i := range items {
		adjustment := 0.0
		if n := authorCount[items[i].Note.AuthorID]; n > 3 {
			adjustment -= float64(n-3) * 0.05
		}
		for _, tag := range items[i].Note.Hashtags {
			if tagFrequency[tag] == 1 {
				adjustment += 0.02
			}
		}
		items[i].Score += adjustment * diversityFactor
		if items[i].Score < 0 {
			items[i].Score = 0
		}
	}
}

// applyRepetitionControl сдерживает повторы авторов и насыщение тем.
func applyRepetitionControl(items []domain.TimelineItem) {
	const (
		authorSoftCap     = 2
		authorPenaltyStep = 0.06
		backToBackPenalty = 0.05
		noveltyBoost      = 0.04
	)
	tagFrequency := make(map[string]int)
	for _, item := range items {
		for _, tag := range item.Note.Hashtags {
			tagFrequency[tag]++
		}
	}
	authorCount := make(map[string]int)
	lastAuthor := ""
	for i := range items {
		author := items[i].Note.AuthorID
		authorCount[author]++
		count := authorCount[author]

		if count > authorSoftCap {
			items[i].Score -= float64(count-authorSoftCap) * authorPenaltyStep
		}
		if lastAuthor != "" && lastAuthor == author {
			items[i].Score -= backToBackPenalty
		}
		lastAuthor = author
		if count == 1 {
			items[i].Score += noveltyBoost
		}
		for _, tag := range items[i].Note.Hashtags {
			switch freq := tagFrequency[tag]; {
			case freq == 1:
				items[i].Score += 0.02
			case freq > 4:
				items[i].Score -= 0.01
			}
		}
		if items[i].Score < 0 {
			items[i].Score = 0
		}
	}
}

// applyHybridTweaks добавляет микробусты свежести и открытия нового контента.
func applyHybridTweaks(items []domain.TimelineItem, now time.Time) {
	for i := range items {
		age := now.Sub(items[i].Note.CreatedAt)
		if age >= 0 && age <= 30*time.Minute {
			items[i].Score += 0.02
		}
		switch items[i].Source {
		case domain.SourceRecommended, domain.SourceTrending, domain.SourceLists:
			items[i].Score += 0.01
		}
	}
}

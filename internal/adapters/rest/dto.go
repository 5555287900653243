package rest

import (
	"time"

	"timeline-service/internal/domain"
)

type timelineDTO struct {
	UserID       string    `json:"user_id"`
	Algorithm    string    `json:"algorithm"`
	GeneratedAt  time.Time `json:"generated_at"`
	TotalCount   int       `json:"total_count"`
	NewSinceRead int       `json:"new_since_read"`
	Items        []itemDTO `json:"items"`
}

type itemDTO struct {
	Note            noteDTO            `json:"note"`
	Source          string             `json:"source"`
	Score           float64            `json:"score"`
	InjectionReason string             `json:"injection_reason,omitempty"`
	Factors         map[string]float64 `json:"factors,omitempty"`
}

type noteDTO struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	HasMedia  bool      `json:"has_media"`
	Likes     int64     `json:"likes"`
	Renotes   int64     `json:"renotes"`
	Replies   int64     `json:"replies"`
	Views     int64     `json:"views"`
	CreatedAt time.Time `json:"created_at"`
}

func toTimelineDTO(timeline domain.Timeline) timelineDTO {
	items := make([]itemDTO, 0, len(timeline.Items))
	for _, item := range timeline.Items {
		items = append(items, itemDTO{
			Note: noteDTO{
				ID:        item.Note.ID,
				AuthorID:  item.Note.AuthorID,
				Text:      item.Note.Text,
				Hashtags:  item.Note.Hashtags,
				HasMedia:  item.Note.HasMedia,
				Likes:     item.Note.Likes,
				Renotes:   item.Note.Renotes,
				Replies:   item.Note.Replies,
				Views:     item.Note.Views,
				CreatedAt: item.Note.CreatedAt,
			},
			Source:          string(item.Source),
			Score:           item.Score,
			InjectionReason: item.InjectionReason,
			Factors:         item.Factors,
		})
	}
	return timelineDTO{
		UserID:       timeline.UserID,
		Algorithm:    string(timeline.Algorithm),
		GeneratedAt:  timeline.GeneratedAt,
		TotalCount:   timeline.TotalCount,
		NewSinceRead: timeline.NewSinceRead,
		Items:        items,
	}
}

type preferencesDTO struct {
	Algorithm   string             `json:"algorithm"`
	MaxItems    int                `json:"max_items"`
	MaxAgeHours float64            `json:"max_age_hours"`
	MinScore    float64            `json:"min_score"`
	Weights     weightsDTO         `json:"weights"`
	Ratios      ratiosDTO          `json:"ratios"`
	Caps        capsDTO            `json:"caps"`
	SourceAB    map[string]float64 `json:"source_ab,omitempty"`
}

type weightsDTO struct {
	Recency        float64 `json:"recency"`
	Engagement     float64 `json:"engagement"`
	AuthorAffinity float64 `json:"author_affinity"`
	ContentQuality float64 `json:"content_quality"`
	Diversity      float64 `json:"diversity"`
}

type ratiosDTO struct {
	Following   float64 `json:"following"`
	Recommended float64 `json:"recommended"`
	Trending    float64 `json:"trending"`
	Lists       float64 `json:"lists"`
}

type capsDTO struct {
	Following   int `json:"following"`
	Recommended int `json:"recommended"`
	Trending    int `json:"trending"`
	Lists       int `json:"lists"`
}

func toPreferencesDTO(prefs domain.TimelinePreferences) preferencesDTO {
	dto := preferencesDTO{
		Algorithm:   string(prefs.Algorithm),
		MaxItems:    prefs.MaxItems,
		MaxAgeHours: prefs.MaxAge.Hours(),
		MinScore:    prefs.MinScore,
		Weights: weightsDTO{
			Recency:        prefs.Weights.Recency,
			Engagement:     prefs.Weights.Engagement,
			AuthorAffinity: prefs.Weights.AuthorAffinity,
			ContentQuality: prefs.Weights.ContentQuality,
			Diversity:      prefs.Weights.Diversity,
		},
		Ratios: ratiosDTO{
			Following:   prefs.Ratios.Following,
			Recommended: prefs.Ratios.Recommended,
			Trending:    prefs.Ratios.Trending,
			Lists:       prefs.Ratios.Lists,
		},
		Caps: capsDTO{
			Following:   prefs.Caps.Following,
			Recommended: prefs.Caps.Recommended,
			Trending:    prefs.Caps.Trending,
			Lists:       prefs.Caps.Lists,
		},
	}
	if len(prefs.SourceAB) > 0 {
		dto.SourceAB = make(map[string]float64, len(prefs.SourceAB))
		for kind, weight := range prefs.SourceAB {
			dto.SourceAB[string(kind)] = weight
		}
	}
	return dto
}

func (dto preferencesDTO) toDomain(userID string) domain.TimelinePreferences {
	prefs := domain.TimelinePreferences{
		UserID:    userID,
		Algorithm: domain.Algorithm(dto.Algorithm),
		MaxItems:  dto.MaxItems,
		MaxAge:    time.Duration(dto.MaxAgeHours * float64(time.Hour)),
		MinScore:  dto.MinScore,
		Weights: domain.RankingWeights{
			Recency:        dto.Weights.Recency,
			Engagement:     dto.Weights.Engagement,
			AuthorAffinity: dto.Weights.AuthorAffinity,
			ContentQuality: dto.Weights.ContentQuality,
			Diversity:      dto.Weights.Diversity,
		},
		Ratios: domain.SourceRatios{
			Following:   dto.Ratios.Following,
			Recommended: dto.Ratios.Recommended,
			Trending:    dto.Ratios.Trending,
			Lists:       dto.Ratios.Lists,
		},
		Caps: domain.SourceCaps{
			Following:   dto.Caps.Following,
			Recommended: dto.Caps.Recommended,
			Trending:    dto.Caps.Trending,
			Lists:       dto.Caps.Lists,
		},
	}
	if len(dto.SourceAB) > 0 {
		prefs.SourceAB = make(map[domain.SourceKind]float64, len(dto.SourceAB))
		for kind, weight := range dto.SourceAB {
			prefs.SourceAB[domain.SourceKind(kind)] = weight
		}
	}
	return prefs
}

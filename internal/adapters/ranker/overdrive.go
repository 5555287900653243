package ranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

const fallbackReason = "overdrive_fallback_ranking"

// OverdriveRanker делегирует ранжирование внешнему сервису.
// При любой ошибке возвращает детерминированный резервный порядок.
type OverdriveRanker struct {
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

var _ domain.Ranker = (*OverdriveRanker)(nil)

// NewOverdrive создаёт клиента внешнего ранжировщика.
func NewOverdrive(baseURL string, timeout time.Duration, logger zerolog.Logger) *OverdriveRanker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OverdriveRanker{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger,
	}
}

// Name возвращает имя ранжировщика.
func (r *OverdriveRanker) Name() string { return "overdrive" }

type rankRequest struct {
	UserID  string   `json:"user_id"`
	NoteIDs []string `json:"note_ids"`
	Limit   int      `json:"limit"`
}

type rankResponse struct {
	Items []struct {
		NoteID  string             `json:"note_id"`
		Score   float64            `json:"score"`
		Factors map[string]float64 `json:"factors,omitempty"`
		Reasons []string           `json:"reasons,omitempty"`
	} `json:"items"`
}

// Rank запрашивает оценки у внешнего сервиса, при ошибке переходит на резерв.
func (r *OverdriveRanker) Rank(ctx context.Context, profile domain.UserProfile, prefs domain.TimelinePreferences, candidates []domain.TimelineItem) ([]domain.TimelineItem, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	resp, err := r.requestRanking(ctx, profile.UserID, candidates)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", profile.UserID).Msg("overdrive: переход на резервное ранжирование")
		metrics.FallbackRankings.Inc()
		return fallbackRanking(candidates), nil
	}

	scored := make(map[string]int, len(resp.Items))
	for i, item := range resp.Items {
		scored[item.NoteID] = i
	}

	items := make([]domain.TimelineItem, 0, len(candidates))
	var missing []domain.TimelineItem
	for _, candidate := range candidates {
		idx, ok := scored[candidate.Note.ID]
		if !ok {
			missing = append(missing, candidate)
			continue
		}
		remote := resp.Items[idx]
		candidate.Score = remote.Score
		candidate.Factors = remote.Factors
		candidate.InjectionReason = "overdrive_ranking"
		if len(remote.Reasons) > 0 {
			candidate.InjectionReason = remote.Reasons[0]
		}
		items = append(items, candidate)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score == items[j].Score {
			return items[i].Note.CreatedAt.After(items[j].Note.CreatedAt)
		}
		return items[i].Score > items[j].Score
	})

	// не оценённые сервисом кандидаты замыкают выдачу в резервном порядке,
	// их оценки опускаются ниже худшей оценки сервиса
	if len(missing) > 0 {
		tail := fallbackRanking(missing)
		if len(items) > 0 {
			floor := items[len(items)-1].Score
			for i := range tail {
				tail[i].Score = floor - 0.001*float64(i+1)
			}
		}
		items = append(items, tail...)
	}
	return items, nil
}

func (r *OverdriveRanker) requestRanking(ctx context.Context, userID string, candidates []domain.TimelineItem) (rankResponse, error) {
	noteIDs := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		noteIDs = append(noteIDs, candidate.Note.ID)
	}
	payload, err := json.Marshal(rankRequest{UserID: userID, NoteIDs: noteIDs, Limit: len(noteIDs)})
	if err != nil {
		return rankResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rank", bytes.NewReader(payload))
	if err != nil {
		return rankResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := r.http.Do(req)
	metrics.ObserveNetworkRequest("overdrive", "rank", r.baseURL, start, err)
	if err != nil {
		return rankResponse{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return rankResponse{}, fmt.Errorf("overdrive: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed rankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return rankResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return parsed, nil
}

// fallbackRanking сохраняет исходный порядок кандидатов со строго убывающими оценками.
func fallbackRanking(candidates []domain.TimelineItem) []domain.TimelineItem {
	items := make([]domain.TimelineItem, len(candidates))
	copy(items, candidates)
	for i := range items {
		items[i].Score = 1.0 - 0.001*float64(i)
		items[i].InjectionReason = fallbackReason
		items[i].Factors = map[string]float64{
			"position":           float64(i),
			"overdrive_fallback": 1,
		}
	}
	return items
}

package ranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
)

func overdriveCandidates() []domain.TimelineItem {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []domain.TimelineItem{
		{Note: domain.Note{ID: "n1", AuthorID: "a", CreatedAt: base}, Source: domain.SourceFollowing},
		{Note: domain.Note{ID: "n2", AuthorID: "b", CreatedAt: base}, Source: domain.SourceRecommended},
		{Note: domain.Note{ID: "n3", AuthorID: "c", CreatedAt: base}, Source: domain.SourceTrending},
	}
}

func TestOverdriveRankUsesRemoteScores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rank" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		var req rankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("декодирование запроса: %v", err)
		}
		if req.UserID != "u1" || len(req.NoteIDs) != 3 {
			t.Errorf("неожиданный запрос: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"note_id": "n2", "score": 0.9, "reasons": []string{"viral"}},
				{"note_id": "n1", "score": 0.4},
			},
		})
	}))
	defer server.Close()

	r := NewOverdrive(server.URL, time.Second, zerolog.Nop())
	items, err := r.Rank(context.Background(), domain.UserProfile{UserID: "u1"}, domain.DefaultPreferences("u1"), overdriveCandidates())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("ожидалось три позиции, получено %d", len(items))
	}
	if items[0].Note.ID != "n2" || items[0].Score != 0.9 {
		t.Fatalf("первой должна быть n2 с оценкой 0.9, получено %s %f", items[0].Note.ID, items[0].Score)
	}
	if items[0].InjectionReason != "viral" {
		t.Fatalf("причина должна браться из ответа сервиса, получено %s", items[0].InjectionReason)
	}
	if items[1].InjectionReason != "overdrive_ranking" {
		t.Fatalf("неожиданная причина: %s", items[1].InjectionReason)
	}
	// не оценённый сервисом кандидат замыкает выдачу с резервной причиной
	if items[2].Note.ID != "n3" || items[2].InjectionReason != fallbackReason {
		t.Fatalf("n3 должна идти последней с резервной причиной, получено %s %s", items[2].Note.ID, items[2].InjectionReason)
	}
	if items[2].Score >= items[1].Score {
		t.Fatalf("резервная оценка должна быть ниже худшей оценки сервиса: %f после %f", items[2].Score, items[1].Score)
	}
}

func TestOverdriveRankPartialResponseKeepsOrdering(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"note_id": "n1", "score": 0.4},
				{"note_id": "n2", "score": 0.3},
			},
		})
	}))
	defer server.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []domain.TimelineItem{
		{Note: domain.Note{ID: "n1", AuthorID: "a", CreatedAt: base}, Source: domain.SourceFollowing},
		{Note: domain.Note{ID: "n2", AuthorID: "b", CreatedAt: base}, Source: domain.SourceRecommended},
		{Note: domain.Note{ID: "n3", AuthorID: "c", CreatedAt: base}, Source: domain.SourceTrending},
		{Note: domain.Note{ID: "n4", AuthorID: "d", CreatedAt: base}, Source: domain.SourceLists},
	}

	r := NewOverdrive(server.URL, time.Second, zerolog.Nop())
	items, err := r.Rank(context.Background(), domain.UserProfile{UserID: "u1"}, domain.DefaultPreferences("u1"), candidates)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	want := []string{"n1", "n2", "n3", "n4"}
	for i, id := range want {
		if items[i].Note.ID != id {
			t.Fatalf("позиция %d: ожидалась %s, получена %s", i, id, items[i].Note.ID)
		}
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score > items[i-1].Score {
			t.Fatalf("оценки возрастают: позиция %d (%f) после %d (%f)", i, items[i].Score, i-1, items[i-1].Score)
		}
	}
	if items[2].InjectionReason != fallbackReason || items[3].InjectionReason != fallbackReason {
		t.Fatalf("хвост должен нести резервную причину: %s %s", items[2].InjectionReason, items[3].InjectionReason)
	}
}

func TestOverdriveRankBreaksScoreTiesByRecency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"note_id": "old", "score": 0.5},
				{"note_id": "fresh", "score": 0.5},
			},
		})
	}))
	defer server.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []domain.TimelineItem{
		{Note: domain.Note{ID: "old", AuthorID: "a", CreatedAt: base.Add(-time.Hour)}, Source: domain.SourceFollowing},
		{Note: domain.Note{ID: "fresh", AuthorID: "b", CreatedAt: base}, Source: domain.SourceFollowing},
	}

	r := NewOverdrive(server.URL, time.Second, zerolog.Nop())
	items, err := r.Rank(context.Background(), domain.UserProfile{UserID: "u1"}, domain.DefaultPreferences("u1"), candidates)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if items[0].Note.ID != "fresh" {
		t.Fatalf("при равных оценках первой должна идти более свежая заметка, получена %s", items[0].Note.ID)
	}
}

func TestOverdriveRankFallsBackOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewOverdrive(server.URL, time.Second, zerolog.Nop())
	items, err := r.Rank(context.Background(), domain.UserProfile{UserID: "u1"}, domain.DefaultPreferences("u1"), overdriveCandidates())
	if err != nil {
		t.Fatalf("резервное ранжирование не должно возвращать ошибку: %v", err)
	}

	want := []string{"n1", "n2", "n3"}
	for i, id := range want {
		if items[i].Note.ID != id {
			t.Fatalf("резерв должен сохранять исходный порядок, позиция %d: %s", i, items[i].Note.ID)
		}
		if items[i].InjectionReason != fallbackReason {
			t.Fatalf("неожиданная причина: %s", items[i].InjectionReason)
		}
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score >= items[i-1].Score {
			t.Fatalf("резервные оценки должны строго убывать: %f после %f", items[i].Score, items[i-1].Score)
		}
	}
	if items[0].Score != 1.0 {
		t.Fatalf("первая резервная оценка должна быть 1.0, получено %f", items[0].Score)
	}
}

package ranker

import (
	"context"
	"testing"
	"time"

	"timeline-service/internal/domain"
)

func TestChronoRankNewestFirst(t *testing.T) {
	r := NewChrono()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []domain.TimelineItem{
		{Note: domain.Note{ID: "old", CreatedAt: base.Add(-2 * time.Hour)}, Source: domain.SourceFollowing},
		{Note: domain.Note{ID: "new", CreatedAt: base}, Source: domain.SourceFollowing},
		{Note: domain.Note{ID: "mid", CreatedAt: base.Add(-time.Hour)}, Source: domain.SourceFollowing},
	}

	items, err := r.Rank(context.Background(), domain.UserProfile{}, domain.DefaultPreferences("u1"), candidates)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if items[i].Note.ID != id {
			t.Fatalf("позиция %d: ожидалась %s, получена %s", i, id, items[i].Note.ID)
		}
	}
	for _, item := range items {
		if item.InjectionReason != "chronological" {
			t.Fatalf("неожиданная причина: %s", item.InjectionReason)
		}
	}
}

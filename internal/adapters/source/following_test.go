package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"timeline-service/internal/domain"
)

type stubGraph struct {
	following []string
	calls     int
	err       error
}

func (g *stubGraph) Following(ctx context.Context, userID string) ([]string, error) {
	g.calls++
	return g.following, g.err
}

func (g *stubGraph) Followers(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

type stubNotes struct {
	notes []domain.Note
	err   error
}

func (p *stubNotes) RecentByAuthors(ctx context.Context, authorIDs []string, since time.Time, limit int) ([]domain.Note, error) {
	return p.notes, p.err
}

func (p *stubNotes) RecommendedFor(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	return p.notes, p.err
}

func (p *stubNotes) ListMembersNotes(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	return p.notes, p.err
}

func TestFollowingFetchNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	graph := &stubGraph{following: []string{"a", "b"}}
	notes := &stubNotes{notes: []domain.Note{
		{ID: "old", AuthorID: "a", CreatedAt: base.Add(-2 * time.Hour)},
		{ID: "new", AuthorID: "b", CreatedAt: base},
		{ID: "mid", AuthorID: "a", CreatedAt: base.Add(-time.Hour)},
	}}
	src := NewFollowing(graph, notes, time.Minute)

	got, err := src.Fetch(context.Background(), "u1", base.Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Fatalf("ожидались new и mid, получено %v", got)
	}
}

func TestFollowingCachesAuthorList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	graph := &stubGraph{following: []string{"a"}}
	src := NewFollowing(graph, &stubNotes{}, 10*time.Minute)
	src.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := src.Fetch(context.Background(), "u1", now.Add(-time.Hour), 10); err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if graph.calls != 1 {
		t.Fatalf("список подписок должен кэшироваться, вызовов графа: %d", graph.calls)
	}

	// после истечения TTL список перечитывается
	now = now.Add(11 * time.Minute)
	if _, err := src.Fetch(context.Background(), "u1", now.Add(-time.Hour), 10); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if graph.calls != 2 {
		t.Fatalf("после TTL ожидался повторный вызов графа, вызовов: %d", graph.calls)
	}
}

func TestFollowingInvalidateUser(t *testing.T) {
	graph := &stubGraph{following: []string{"a"}}
	src := NewFollowing(graph, &stubNotes{}, time.Hour)

	if _, err := src.Fetch(context.Background(), "u1", time.Now().Add(-time.Hour), 10); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	src.InvalidateUser("u1")
	if _, err := src.Fetch(context.Background(), "u1", time.Now().Add(-time.Hour), 10); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if graph.calls != 2 {
		t.Fatalf("после сброса кэша ожидался повторный вызов графа, вызовов: %d", graph.calls)
	}
}

func TestFollowingGraphErrorPropagates(t *testing.T) {
	graph := &stubGraph{err: errors.New("недоступен")}
	src := NewFollowing(graph, &stubNotes{}, time.Minute)

	if _, err := src.Fetch(context.Background(), "u1", time.Now(), 10); err == nil {
		t.Fatal("ожидалась ошибка графа")
	}
}

package noteclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// Client выполняет запросы к сервису заметок.
type Client struct {
	http    *http.Client
	baseURL string
}

var _ domain.NoteProvider = (*Client)(nil)

// New создаёт клиента сервиса заметок.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type noteDTO struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
	HasMedia  bool      `json:"has_media"`
	HasLink   bool      `json:"has_link"`
	Likes     int64     `json:"likes"`
	Renotes   int64     `json:"renotes"`
	Replies   int64     `json:"replies"`
	Views     int64     `json:"views"`
	CreatedAt time.Time `json:"created_at"`
}

func (d noteDTO) toDomain() domain.Note {
	return domain.Note{
		ID:        d.ID,
		AuthorID:  d.AuthorID,
		Text:      d.Text,
		Hashtags:  d.Hashtags,
		Mentions:  d.Mentions,
		HasMedia:  d.HasMedia,
		HasLink:   d.HasLink,
		Likes:     d.Likes,
		Renotes:   d.Renotes,
		Replies:   d.Replies,
		Views:     d.Views,
		CreatedAt: d.CreatedAt,
	}
}

// RecentByAuthors возвращает свежие заметки указанных авторов.
func (c *Client) RecentByAuthors(ctx context.Context, authorIDs []string, since time.Time, limit int) ([]domain.Note, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("authors", strings.Join(authorIDs, ","))
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(limit))
	return c.listNotes(ctx, "recent", "/v1/notes/recent?"+query.Encode())
}

// RecommendedFor возвращает рекомендованные заметки для пользователя.
func (c *Client) RecommendedFor(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	query := url.Values{}
	query.Set("user_id", userID)
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(limit))
	return c.listNotes(ctx, "recommended", "/v1/notes/recommended?"+query.Encode())
}

// ListMembersNotes возвращает заметки участников списков пользователя.
func (c *Client) ListMembersNotes(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Note, error) {
	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/v1/lists/%s/notes?%s", url.PathEscape(userID), query.Encode())
	return c.listNotes(ctx, "lists", path)
}

// Trending возвращает трендовые заметки категории.
func (c *Client) Trending(ctx context.Context, category string, limit int) ([]domain.Note, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/v1/trending/%s?%s", url.PathEscape(category), query.Encode())
	return c.listNotes(ctx, "trending", path)
}

func (c *Client) listNotes(ctx context.Context, operation, path string) ([]domain.Note, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("noteclient", operation, c.baseURL, start, err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("note service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var payload struct {
		Notes []noteDTO `json:"notes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	notes := make([]domain.Note, 0, len(payload.Notes))
	for _, dto := range payload.Notes {
		notes = append(notes, dto.toDomain())
	}
	return notes, nil
}

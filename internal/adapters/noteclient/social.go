package noteclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// SocialClient выполняет запросы к сервису социального графа.
type SocialClient struct {
	http    *http.Client
	baseURL string
}

var _ domain.SocialGraph = (*SocialClient)(nil)

// NewSocial создаёт клиента социального графа.
func NewSocial(baseURL string, timeout time.Duration) *SocialClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SocialClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Following возвращает список подписок пользователя.
func (c *SocialClient) Following(ctx context.Context, userID string) ([]string, error) {
	return c.listUsers(ctx, "following", fmt.Sprintf("/v1/users/%s/following", url.PathEscape(userID)))
}

// Followers возвращает список подписчиков пользователя.
func (c *SocialClient) Followers(ctx context.Context, userID string) ([]string, error) {
	return c.listUsers(ctx, "followers", fmt.Sprintf("/v1/users/%s/followers", url.PathEscape(userID)))
}

func (c *SocialClient) listUsers(ctx context.Context, operation, path string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("socialgraph", operation, c.baseURL, start, err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("social graph: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var payload struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload.UserIDs, nil
}

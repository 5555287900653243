package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

const (
	timelinePrefix  = "timeline:"
	profilePrefix   = "profile:"
	lastReadPrefix  = "lastread:"
	followersPrefix = "followers:"
)

// TimelineCache реализует domain.TimelineCache поверх Redis с резервом в памяти.
type TimelineCache struct {
	client *redis.Client
	mem    *memoryStore
	log    zerolog.Logger
}

var _ domain.TimelineCache = (*TimelineCache)(nil)

// New создаёт кэш. Клиент Redis может быть nil, тогда работает только память.
func New(client *redis.Client, logger zerolog.Logger) *TimelineCache {
	return &TimelineCache{client: client, mem: newMemoryStore(), log: logger}
}

// GetTimeline возвращает ленту пользователя, если она закэширована.
func (c *TimelineCache) GetTimeline(ctx context.Context, userID string) (domain.Timeline, bool) {
	data, ok := c.getBytes(ctx, timelinePrefix+userID)
	if !ok {
		return domain.Timeline{}, false
	}
	var timeline domain.Timeline
	if err := json.Unmarshal(data, &timeline); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("cache: повреждённая лента, запись удалена")
		_ = c.InvalidateTimeline(ctx, userID)
		return domain.Timeline{}, false
	}
	return timeline, true
}

// SetTimeline сохраняет ленту пользователя.
func (c *TimelineCache) SetTimeline(ctx context.Context, timeline domain.Timeline, ttl time.Duration) error {
	data, err := json.Marshal(timeline)
	if err != nil {
		return err
	}
	c.setBytes(ctx, timelinePrefix+timeline.UserID, data, ttl)
	return nil
}

// InvalidateTimeline удаляет закэшированную ленту пользователя.
func (c *TimelineCache) InvalidateTimeline(ctx context.Context, userID string) error {
	key := timelinePrefix + userID
	if c.client != nil {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.fallback(err)
		}
	}
	c.mem.delete(key)
	return nil
}

// InvalidateAuthor сбрасывает ленты подписчиков автора.
func (c *TimelineCache) InvalidateAuthor(ctx context.Context, authorID string) error {
	followers, err := c.Followers(ctx, authorID)
	if err == nil && len(followers) > 0 {
		for _, follower := range followers {
			_ = c.InvalidateTimeline(ctx, follower)
		}
		return nil
	}
	// без индекса подписчиков остаётся просмотр закэшированных лент
	c.mem.deleteWhere(timelinePrefix, func(data []byte) bool {
		var timeline domain.Timeline
		if err := json.Unmarshal(data, &timeline); err != nil {
			return true
		}
		for _, item := range timeline.Items {
			if item.Note.AuthorID == authorID {
				return true
			}
		}
		return false
	})
	return nil
}

// GetProfile возвращает закэшированный профиль пользователя.
func (c *TimelineCache) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool) {
	data, ok := c.getBytes(ctx, profilePrefix+userID)
	if !ok {
		return domain.UserProfile{}, false
	}
	var profile domain.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return domain.UserProfile{}, false
	}
	return profile, true
}

// SetProfile сохраняет профиль пользователя.
func (c *TimelineCache) SetProfile(ctx context.Context, profile domain.UserProfile, ttl time.Duration) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	c.setBytes(ctx, profilePrefix+profile.UserID, data, ttl)
	return nil
}

// InvalidateProfile удаляет закэшированный профиль пользователя.
func (c *TimelineCache) InvalidateProfile(ctx context.Context, userID string) error {
	key := profilePrefix + userID
	if c.client != nil {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.fallback(err)
		}
	}
	c.mem.delete(key)
	return nil
}

// GetLastRead возвращает отметку последнего прочтения ленты.
func (c *TimelineCache) GetLastRead(ctx context.Context, userID string) (time.Time, bool) {
	data, ok := c.getBytes(ctx, lastReadPrefix+userID)
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// SetLastRead сохраняет отметку последнего прочтения.
func (c *TimelineCache) SetLastRead(ctx context.Context, userID string, at time.Time) error {
	c.setBytes(ctx, lastReadPrefix+userID, []byte(at.Format(time.RFC3339Nano)), 0)
	return nil
}

// AddFollower добавляет подписчика в индекс автора.
func (c *TimelineCache) AddFollower(ctx context.Context, authorID, followerID string) error {
	key := followersPrefix + authorID
	if c.client != nil {
		if err := c.client.SAdd(ctx, key, followerID).Err(); err == nil {
			return nil
		} else {
			c.fallback(err)
		}
	}
	c.mem.addToSet(key, followerID)
	return nil
}

// Followers возвращает индекс подписчиков автора.
func (c *TimelineCache) Followers(ctx context.Context, authorID string) ([]string, error) {
	key := followersPrefix + authorID
	if c.client != nil {
		members, err := c.client.SMembers(ctx, key).Result()
		if err == nil {
			return members, nil
		}
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		c.fallback(err)
	}
	return c.mem.setMembers(key), nil
}

func (c *TimelineCache) getBytes(ctx context.Context, key string) ([]byte, bool) {
	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return data, true
		}
		if errors.Is(err, redis.Nil) {
			return nil, false
		}
		c.fallback(err)
	}
	return c.mem.get(key)
}

func (c *TimelineCache) setBytes(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err == nil {
			return
		} else {
			c.fallback(err)
		}
	}
	c.mem.set(key, data, ttl)
}

func (c *TimelineCache) fallback(err error) {
	metrics.CacheFallbacks.Inc()
	c.log.Debug().Err(err).Msg("cache: redis недоступен, используется память")
}

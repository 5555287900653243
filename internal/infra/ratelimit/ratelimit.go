package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"timeline-service/internal/domain"
)

// PerUserLimiter ограничивает частоту запросов отдельно для каждого пользователя.
type PerUserLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

var _ domain.RateLimiter = (*PerUserLimiter)(nil)

// NewPerUserLimiter создаёт лимитер на указанное число запросов в минуту.
func NewPerUserLimiter(requestsPerMinute int) *PerUserLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	return &PerUserLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:    requestsPerMinute,
	}
}

// Allow сообщает, разрешён ли очередной запрос пользователя.
func (l *PerUserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

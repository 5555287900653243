package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"timeline-service/internal/domain"
)

// Postgres реализует репозитории настроек и взаимодействий на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.PreferencesRepo = (*Postgres)(nil)
	_ domain.EngagementRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

type preferencesRow struct {
	Algorithm string                `json:"algorithm"`
	MaxItems  int                   `json:"max_items"`
	MaxAgeSec int64                 `json:"max_age_sec"`
	MinScore  float64               `json:"min_score"`
	Weights   domain.RankingWeights `json:"weights"`
	Ratios    domain.SourceRatios   `json:"ratios"`
	Caps      domain.SourceCaps     `json:"caps"`
	SourceAB  map[string]float64    `json:"source_ab,omitempty"`
}

// Get возвращает настройки ленты пользователя, либо настройки по умолчанию.
func (p *Postgres) Get(ctx context.Context, userID string) (domain.TimelinePreferences, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var payload []byte
	var updatedAt time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT payload, updated_at FROM timeline_preferences WHERE user_id=$1`,
		userID,
	).Scan(&payload, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultPreferences(userID), nil
	}
	if err != nil {
		return domain.TimelinePreferences{}, fmt.Errorf("чтение настроек: %w", err)
	}

	var row preferencesRow
	if err := json.Unmarshal(payload, &row); err != nil {
		return domain.TimelinePreferences{}, fmt.Errorf("декодирование настроек: %w", err)
	}
	prefs := domain.TimelinePreferences{
		UserID:    userID,
		Algorithm: domain.Algorithm(row.Algorithm),
		MaxItems:  row.MaxItems,
		MaxAge:    time.Duration(row.MaxAgeSec) * time.Second,
		MinScore:  row.MinScore,
		Weights:   row.Weights,
		Ratios:    row.Ratios,
		Caps:      row.Caps,
		UpdatedAt: updatedAt,
	}
	if len(row.SourceAB) > 0 {
		prefs.SourceAB = make(map[domain.SourceKind]float64, len(row.SourceAB))
		for kind, weight := range row.SourceAB {
			prefs.SourceAB[domain.SourceKind(kind)] = weight
		}
	}
	return prefs, nil
}

// Save сохраняет настройки ленты пользователя.
func (p *Postgres) Save(ctx context.Context, prefs domain.TimelinePreferences) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	row := preferencesRow{
		Algorithm: string(prefs.Algorithm),
		MaxItems:  prefs.MaxItems,
		MaxAgeSec: int64(prefs.MaxAge / time.Second),
		MinScore:  prefs.MinScore,
		Weights:   prefs.Weights,
		Ratios:    prefs.Ratios,
		Caps:      prefs.Caps,
	}
	if len(prefs.SourceAB) > 0 {
		row.SourceAB = make(map[string]float64, len(prefs.SourceAB))
		for kind, weight := range prefs.SourceAB {
			row.SourceAB[string(kind)] = weight
		}
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("кодирование настроек: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO timeline_preferences (user_id, payload, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		prefs.UserID, payload,
	)
	if err != nil {
		return fmt.Errorf("сохранение настроек: %w", err)
	}
	return nil
}

// AddMutedUser добавляет автора в мьюты пользователя.
func (p *Postgres) AddMutedUser(ctx context.Context, userID, authorID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO timeline_muted_users (user_id, author_id, created_at)
		 VALUES ($1, $2, now()) ON CONFLICT DO NOTHING`,
		userID, authorID,
	)
	if err != nil {
		return fmt.Errorf("мьют автора: %w", err)
	}
	return nil
}

// RemoveMutedUser убирает автора из мьютов пользователя.
func (p *Postgres) RemoveMutedUser(ctx context.Context, userID, authorID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`DELETE FROM timeline_muted_users WHERE user_id=$1 AND author_id=$2`,
		userID, authorID,
	)
	if err != nil {
		return fmt.Errorf("анмьют автора: %w", err)
	}
	return nil
}

// AddMutedKeyword добавляет слово в мьюты пользователя.
func (p *Postgres) AddMutedKeyword(ctx context.Context, userID, keyword string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO timeline_muted_keywords (user_id, keyword, created_at)
		 VALUES ($1, $2, now()) ON CONFLICT DO NOTHING`,
		userID, keyword,
	)
	if err != nil {
		return fmt.Errorf("мьют слова: %w", err)
	}
	return nil
}

// RemoveMutedKeyword убирает слово из мьютов пользователя.
func (p *Postgres) RemoveMutedKeyword(ctx context.Context, userID, keyword string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx,
		`DELETE FROM timeline_muted_keywords WHERE user_id=$1 AND keyword=$2`,
		userID, keyword,
	)
	if err != nil {
		return fmt.Errorf("анмьют слова: %w", err)
	}
	return nil
}

// MutedUsers возвращает мьюченных авторов пользователя.
func (p *Postgres) MutedUsers(ctx context.Context, userID string) ([]string, error) {
	return p.listStrings(ctx,
		`SELECT author_id FROM timeline_muted_users WHERE user_id=$1`, userID)
}

// MutedKeywords возвращает мьюченные слова пользователя.
func (p *Postgres) MutedKeywords(ctx context.Context, userID string) ([]string, error) {
	return p.listStrings(ctx,
		`SELECT keyword FROM timeline_muted_keywords WHERE user_id=$1`, userID)
}

func (p *Postgres) listStrings(ctx context.Context, query, userID string) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("чтение мьютов: %w", err)
	}
	defer rows.Close()
	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("чтение строки: %w", err)
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// SaveEvent сохраняет событие взаимодействия.
func (p *Postgres) SaveEvent(ctx context.Context, event domain.EngagementEvent) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	hashtags, err := json.Marshal(event.Hashtags)
	if err != nil {
		return fmt.Errorf("кодирование хэштегов: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO engagement_events (user_id, note_id, author_id, action, hashtags, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.UserID, event.NoteID, event.AuthorID, string(event.Action), hashtags, event.DurationMS, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("сохранение события: %w", err)
	}
	return nil
}

// ListSince возвращает события взаимодействий, начиная с указанного времени.
func (p *Postgres) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.EngagementEvent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT user_id, note_id, author_id, action, hashtags, duration_ms, created_at
		 FROM engagement_events WHERE created_at >= $1 ORDER BY created_at LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("чтение событий: %w", err)
	}
	defer rows.Close()
	var events []domain.EngagementEvent
	for rows.Next() {
		var event domain.EngagementEvent
		var action string
		var hashtags []byte
		if err := rows.Scan(&event.UserID, &event.NoteID, &event.AuthorID, &action, &hashtags, &event.DurationMS, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("чтение события: %w", err)
		}
		event.Action = domain.EngagementAction(action)
		if len(hashtags) > 0 {
			if err := json.Unmarshal(hashtags, &event.Hashtags); err != nil {
				return nil, fmt.Errorf("декодирование хэштегов: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

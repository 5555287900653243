package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	DemoMode    bool   `envconfig:"DEMO_MODE" default:"false"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Rabbit struct {
		URL   string `envconfig:"RABBIT_URL"`
		Queue string `envconfig:"NOTE_EVENTS_QUEUE" default:"note_events"`
	} `envconfig:""`

	Upstream struct {
		NoteServiceURL   string        `envconfig:"NOTE_SERVICE_URL"`
		SocialGraphURL   string        `envconfig:"SOCIAL_GRAPH_URL"`
		RequestTimeout   time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"5s"`
		FollowingListTTL time.Duration `envconfig:"FOLLOWING_LIST_TTL" default:"10m"`
	} `envconfig:""`

	Overdrive struct {
		URL     string        `envconfig:"OVERDRIVE_URL"`
		Timeout time.Duration `envconfig:"OVERDRIVE_TIMEOUT" default:"2s"`
	} `envconfig:""`

	Timeline struct {
		CacheTTL        time.Duration `envconfig:"TIMELINE_CACHE_TTL" default:"1h"`
		ProfileTTL      time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"30m"`
		SourceTimeout   time.Duration `envconfig:"SOURCE_FETCH_TIMEOUT" default:"3s"`
		TrendingRefresh time.Duration `envconfig:"TRENDING_REFRESH" default:"1h"`
		TrainWindow     time.Duration `envconfig:"TRAIN_WARMUP_WINDOW" default:"24h"`
		TrainBatch      int           `envconfig:"TRAIN_WARMUP_BATCH" default:"1000"`
	} `envconfig:""`

	Limits struct {
		RequestsPerMinute int `envconfig:"TIMELINE_RPM_LIMIT" default:"600"`
		MaxPageSize       int `envconfig:"TIMELINE_MAX_PAGE" default:"100"`
	} `envconfig:""`

	Notifier struct {
		IdleTimeout time.Duration `envconfig:"WS_IDLE_TIMEOUT" default:"5m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

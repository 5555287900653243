package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timeline-service/internal/adapters/filter"
	"timeline-service/internal/adapters/notifier"
	"timeline-service/internal/adapters/noteclient"
	"timeline-service/internal/adapters/ranker"
	"timeline-service/internal/adapters/repo"
	"timeline-service/internal/adapters/rest"
	"timeline-service/internal/adapters/source"
	"timeline-service/internal/domain"
	"timeline-service/internal/infra/cache"
	"timeline-service/internal/infra/config"
	"timeline-service/internal/infra/db"
	infrahttp "timeline-service/internal/infra/http"
	applog "timeline-service/internal/infra/log"
	"timeline-service/internal/infra/metrics"
	"timeline-service/internal/infra/queue"
	"timeline-service/internal/infra/ratelimit"
	"timeline-service/internal/usecase/fanout"
	"timeline-service/internal/usecase/timeline"
)

var trendingCategories = []string{"hashtags", "topics", "videos"}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	timelineCache := cache.New(redisClient, applog.Component(logger, "cache"))

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("подключение к Postgres не удалось")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	graph, sources := buildSources(cfg, logger)

	hub := notifier.NewHub(cfg.Notifier.IdleTimeout, applog.Component(logger, "notifier"))
	go hub.Run(ctx)

	multifactor := ranker.NewMultifactor()
	var remote domain.Ranker
	if cfg.Overdrive.URL != "" {
		remote = ranker.NewOverdrive(cfg.Overdrive.URL, cfg.Overdrive.Timeout, applog.Component(logger, "overdrive"))
	}

	service := timeline.NewService(timeline.Deps{
		Sources:       sources,
		Filter:        filter.New(),
		Chrono:        ranker.NewChrono(),
		Ranked:        multifactor,
		Remote:        remote,
		Cache:         timelineCache,
		Notifier:      hub,
		Prefs:         store,
		Events:        store,
		Graph:         graph,
		Limiter:       ratelimit.NewPerUserLimiter(cfg.Limits.RequestsPerMinute),
		Trainer:       multifactor,
		Logger:        applog.Component(logger, "timeline"),
		CacheTTL:      cfg.Timeline.CacheTTL,
		ProfileTTL:    cfg.Timeline.ProfileTTL,
		SourceTimeout: cfg.Timeline.SourceTimeout,
		MaxPageSize:   cfg.Limits.MaxPageSize,
	})

	if warmed, err := service.WarmTrainer(ctx, time.Now().Add(-cfg.Timeline.TrainWindow), cfg.Timeline.TrainBatch); err != nil {
		logger.Warn().Err(err).Msg("прогрев ранжировщика не удался")
	} else if warmed > 0 {
		logger.Info().Int("events", warmed).Msg("ранжировщик дообучен историей взаимодействий")
	}

	// встроенный фан-аут, чтобы realtime-обновления доходили до локальных подписчиков
	if eventQueue := buildQueue(cfg, redisClient, logger); eventQueue != nil {
		worker := fanout.NewWorker(eventQueue, timelineCache, hub, graph, applog.Component(logger, "fanout"))
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("фан-аут остановлен с ошибкой")
			}
		}()
	}

	server := infrahttp.NewServer(applog.Component(logger, "http"))
	rest.NewHandler(service, hub, applog.Component(logger, "rest")).Register(server.Router)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown не удался")
	}
	logger.Info().Msg("сервис лент остановлен")
}

// buildSources собирает источники в порядке приоритета дедупликации:
// подписки, рекомендации, тренды, списки. Демо-режим выбирается явно при старте.
func buildSources(cfg config.AppConfig, logger zerolog.Logger) (domain.SocialGraph, []domain.Source) {
	if cfg.DemoMode {
		providers := make([]domain.TrendingProvider, 0, len(trendingCategories))
		for _, category := range trendingCategories {
			providers = append(providers, source.NewDemoTrendingProvider(category))
		}
		return nil, []domain.Source{
			source.NewDemo(domain.SourceFollowing),
			source.NewDemo(domain.SourceRecommended),
			source.NewTrending(providers, cfg.Timeline.TrendingRefresh, applog.Component(logger, "trending")),
			source.NewDemo(domain.SourceLists),
		}
	}

	notes := noteclient.New(cfg.Upstream.NoteServiceURL, cfg.Upstream.RequestTimeout)
	graph := noteclient.NewSocial(cfg.Upstream.SocialGraphURL, cfg.Upstream.RequestTimeout)
	providers := make([]domain.TrendingProvider, 0, len(trendingCategories))
	for _, category := range trendingCategories {
		providers = append(providers, source.NewTrendingProvider(notes, category))
	}
	return graph, []domain.Source{
		source.NewFollowing(graph, notes, cfg.Upstream.FollowingListTTL),
		source.NewRecommended(notes),
		source.NewTrending(providers, cfg.Timeline.TrendingRefresh, applog.Component(logger, "trending")),
		source.NewLists(notes),
	}
}

// buildQueue выбирает брокер событий: RabbitMQ, затем Redis, иначе без фан-аута.
func buildQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.NoteEventQueue {
	if cfg.Rabbit.URL != "" {
		eventQueue, err := queue.NewRabbitNoteEventQueue(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Error().Err(err).Msg("подключение к RabbitMQ не удалось, фан-аут через Redis")
		} else {
			return eventQueue
		}
	}
	if redisClient != nil {
		return queue.NewRedisNoteEventQueue(redisClient, cfg.Rabbit.Queue)
	}
	logger.Warn().Msg("очередь событий не настроена, фан-аут отключён")
	return nil
}

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"timeline-service/internal/adapters/noteclient"
	"timeline-service/internal/domain"
	"timeline-service/internal/infra/cache"
	"timeline-service/internal/infra/config"
	applog "timeline-service/internal/infra/log"
	"timeline-service/internal/infra/metrics"
	"timeline-service/internal/infra/queue"
	"timeline-service/internal/usecase/fanout"
)

// Отдельный воркер фан-аута: инвалидирует кэши лент по событиям заметок.
// Realtime-уведомления отправляет только API-процесс со своим хабом.
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

	var eventQueue domain.NoteEventQueue
	if cfg.Rabbit.URL != "" {
		q, err := queue.NewRabbitNoteEventQueue(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Fatal().Err(err).Msg("подключение к RabbitMQ не удалось")
		}
		defer q.Close()
		eventQueue = q
	} else if redisClient != nil {
		eventQueue = queue.NewRedisNoteEventQueue(redisClient, cfg.Rabbit.Queue)
	} else {
		logger.Fatal().Msg("очередь событий не настроена")
	}

	var graph domain.SocialGraph
	if cfg.Upstream.SocialGraphURL != "" {
		graph = noteclient.NewSocial(cfg.Upstream.SocialGraphURL, cfg.Upstream.RequestTimeout)
	}

	worker := fanout.NewWorker(eventQueue, timelineCache, nil, graph, applog.Component(logger, "fanout"))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("фан-аут остановлен с ошибкой")
	}
	logger.Info().Msg("воркер фан-аута остановлен")
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TimelineRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_requests_total",
		Help: "Количество запросов ленты по алгоритмам",
	}, []string{"algorithm"})

	TimelineCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_cache_hits_total",
		Help: "Попадания в кэш лент",
	})

	TimelineCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_cache_misses_total",
		Help: "Промахи кэша лент",
	})

	CacheFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_cache_fallback_total",
		Help: "Обращения к резервному in-memory кэшу",
	})

	FilterRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_filter_rejections_total",
		Help: "Отфильтрованные заметки по причинам",
	}, []string{"reason"})

	FallbackRankings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_fallback_rankings_total",
		Help: "Сборки ленты с резервным ранжированием",
	})

	SourceFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_source_fetch_errors_total",
		Help: "Ошибки источников контента",
	}, []string{"source"})

	NotifierPushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_notifier_pushes_total",
		Help: "Отправленные realtime-обновления",
	})

	NotifierSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_notifier_send_errors_total",
		Help: "Ошибки отправки realtime-обновлений",
	})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_rate_limited_total",
		Help: "Запросы, отклонённые рейт-лимитером",
	})

	GenerateSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timeline_generate_seconds",
		Help:    "Время сборки ленты",
		Buckets: prometheus.DefBuckets,
	})

	FanoutEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_fanout_events_total",
		Help: "Обработанные события фан-аута по типам",
	}, []string{"type"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TimelineRequests,
		TimelineCacheHits,
		TimelineCacheMisses,
		CacheFallbacks,
		FilterRejections,
		FallbackRankings,
		SourceFetchErrors,
		NotifierPushes,
		NotifierSendErrors,
		RateLimited,
		GenerateSeconds,
		FanoutEvents,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

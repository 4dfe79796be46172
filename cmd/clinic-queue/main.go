package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/clinic-queue/internal/config"
	"qms/clinic-queue/internal/dedup"
	"qms/clinic-queue/internal/httpapi"
	"qms/clinic-queue/internal/hub"
	"qms/clinic-queue/internal/liff"
	"qms/clinic-queue/internal/linebot"
	"qms/clinic-queue/internal/metrics"
	"qms/clinic-queue/internal/notify"
	"qms/clinic-queue/internal/queue"
	"qms/clinic-queue/internal/schedule"
	"qms/clinic-queue/internal/store"
	"qms/clinic-queue/internal/store/memory"
	"qms/clinic-queue/internal/store/postgres"
	"qms/clinic-queue/internal/telemetry"
	"qms/clinic-queue/pkg/logging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "clinic-queue"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).With("service", serviceName)

	if err := run(cfg, logger); err != nil {
		logger.Error("clinic-queue stopped with error", "error", err)
		os.Exit(1)
	}
}

// run owns every resource so that all exits pass through the deferred
// cleanups.
func run(cfg config.Config, logger *logging.Logger) error {
	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName: serviceName,
		Timezone:    cfg.Timezone,
		StoreDriver: cfg.StoreDriver,
		Logger:      logger,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("store setup: %w", err)
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	queueMetrics := metrics.NewQueueMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	lineClient := &http.Client{Timeout: 10 * time.Second}
	replyAPI, err := notify.NewLineAPI(cfg.LineChannelAccessToken, cfg.LineAPIBaseURL, lineClient)
	if err != nil {
		return fmt.Errorf("line client setup: %w", err)
	}
	if cfg.LineChannelAccessToken == "" {
		logger.Warn("LINE_CHANNEL_ACCESS_TOKEN is empty; replies and pushes will fail")
	}

	var notificationAPI *messaging_api.MessagingApiAPI
	if cfg.NotificationChannelAccessToken != "" {
		notificationAPI, err = notify.NewLineAPI(cfg.NotificationChannelAccessToken, cfg.LineAPIBaseURL, lineClient)
		if err != nil {
			return fmt.Errorf("notification client setup: %w", err)
		}
	}
	reporter := notify.NewReporter(notificationAPI, cfg.Location(), logger)

	provider := notify.NewProvider(cfg.PushProvider, notify.Options{
		LineAPI:      replyAPI,
		WebhookURL:   cfg.PushWebhookURL,
		WebhookToken: cfg.PushWebhookToken,
		Logger:       logger,
	})

	realtime := hub.New(logger)
	service := queue.NewService(st, queue.Options{
		Location:                  cfg.Location(),
		DefaultExaminationMinutes: cfg.DefaultExaminationMinutes,
		Notifier:                  provider,
		Publisher:                 realtime,
		Metrics:                   queueMetrics,
		Logger:                    logger,
	})

	deduper, closeDedup, err := openDeduper(cfg, logger)
	if err != nil {
		return fmt.Errorf("dedup setup: %w", err)
	}
	defer closeDedup()

	webhookHandler := linebot.NewHandler(cfg.LineChannelSecret, service, linebot.NewLineMessenger(replyAPI), linebot.Options{
		Dedup:      deduper,
		Reporter:   reporter,
		Metrics:    webhookMetrics,
		Logger:     logger,
		InquiryURL: cfg.InquiryURL,
	})

	verifier, err := liff.NewVerifier(liff.Options{
		BaseURL:   cfg.LineAPIBaseURL,
		ChannelID: cfg.LiffChannelID,
	})
	if err != nil {
		return fmt.Errorf("liff verifier setup: %w", err)
	}

	keyAuth := httpapi.NewKeyAuth(cfg.AuthKey, cfg.AuthKeyBcrypt)
	if !keyAuth.Enabled() {
		logger.Warn("AUTH_KEY is not set; the operator API rejects every request")
	}

	var scheduler *schedule.Scheduler
	if cfg.SchedulerEnabled {
		scheduler, err = schedule.NewScheduler(service, schedule.Options{
			Location:  cfg.Location(),
			ResetSpec: cfg.DailyResetCron,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("scheduler setup: %w", err)
		}
		scheduler.Start()
	}

	handler := httpapi.NewHandler(service, httpapi.Options{
		KeyAuth:        keyAuth,
		Verifier:       verifier,
		Reporter:       reporter,
		Webhook:        webhookHandler,
		Realtime:       realtime.Handler("/realtime", keyAuth.AuthorizeRealtime),
		Health:         st,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter: httpapi.NewRateLimiter(httpapi.RateLimitConfig{
			IPPerMinute: cfg.RateLimitPerMinute,
			IPBurst:     cfg.RateLimitBurst,
		}),
		Logger:         logger,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	// SockJS streams and websockets outlive any fixed write deadline.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler.Routes(), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	logger.Info("listening", "addr", server.Addr, "store", cfg.StoreDriver)
	err = serveUntilSignal(server, stop, cfg.ShutdownTimeout, func(ctx context.Context) {
		if scheduler != nil {
			scheduler.Stop(ctx)
		}
	})
	if err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// serveUntilSignal runs server until it fails or stop fires; on stop it
// drains in-flight requests within timeout after running beforeShutdown.
func serveUntilSignal(server *http.Server, stop <-chan os.Signal, timeout time.Duration, beforeShutdown func(context.Context)) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if beforeShutdown != nil {
		beforeShutdown(ctx)
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg config.Config, logger *logging.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store; state is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DB_DSN is required for the postgres store")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("database not reachable at startup", "error", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func openDeduper(cfg config.Config, logger *logging.Logger) (dedup.Deduper, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		logger.Info("webhook dedup backed by redis", "addr", cfg.RedisAddr)
		return dedup.NewRedisDeduper(client, cfg.DedupTTL), func() { _ = client.Close() }, nil
	}
	deduper, err := dedup.NewLRUDeduper(cfg.DedupCacheSize, cfg.DedupTTL)
	if err != nil {
		return nil, nil, err
	}
	return deduper, func() {}, nil
}

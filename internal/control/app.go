// Package control wires the application together and manages its
// lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/downlink/internal/core/config"
	"github.com/vietddude/downlink/internal/infra/push"
	redisclient "github.com/vietddude/downlink/internal/infra/redis"
	"github.com/vietddude/downlink/internal/infra/storage/postgres"
	"github.com/vietddude/downlink/internal/infra/videoinfo"
	"github.com/vietddude/downlink/internal/ingress/webhook"
	"github.com/vietddude/downlink/internal/notify"
	"github.com/vietddude/downlink/internal/observe/health"
	"github.com/vietddude/downlink/internal/resilience/breaker"
	"github.com/vietddude/downlink/internal/resilience/idempotency"
	"github.com/vietddude/downlink/internal/worker"
)

// App is the assembled download backend: webhook ingress, queue
// consumer, and health server over shared Redis and Postgres.
type App struct {
	cfg config.AppConfig

	redisClient  *redisclient.Client
	db           *postgres.DB
	queue        *redisclient.StreamQueue
	guard        *idempotency.Guard
	breakers     map[string]*breaker.Breaker
	webhook      *webhook.Server
	consumer     *worker.Consumer
	pruner       *worker.Pruner
	healthServer *health.Server

	// firstInvocation is true only for the bootstrap of this process
	// instance. Circuit and proxy caches are per-instance state that a
	// fresh process starts without; the flag makes that visible in the
	// startup log instead of living in a package global.
	firstInvocation bool

	log *slog.Logger
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg config.AppConfig) (*App, error) {
	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := db.Migrate(cfg.Worker.MigrationsDir); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	queue, err := redisclient.NewStreamQueue(ctx, redisClient, redisclient.StreamConfig{
		Stream:   cfg.Queue.Stream,
		Group:    cfg.Queue.Group,
		Consumer: cfg.Queue.Consumer,
		MinIdle:  cfg.Queue.MinIdle.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}

	guard := idempotency.NewGuard(redisclient.NewIdempotencyStore(redisClient))

	breakers := map[string]*breaker.Breaker{
		videoinfo.ServiceName: newBreaker(videoinfo.ServiceName, cfg.Breakers),
		push.ServiceName:      newBreaker(push.ServiceName, cfg.Breakers),
	}

	jobs := postgres.NewJobRepo(db)
	devices := postgres.NewDeviceRepo(db)

	proxies := videoinfo.NewProxyPool(videoinfo.ProxyConfig{
		ListURL:      cfg.VideoInfo.Proxy.ListURL,
		CheckURL:     cfg.VideoInfo.Proxy.CheckURL,
		CheckTimeout: cfg.VideoInfo.Proxy.CheckTimeout.Std(),
		CacheFor:     cfg.VideoInfo.Proxy.CacheFor.Std(),
	})
	info := videoinfo.NewClient(videoinfo.Config{
		Endpoint: cfg.VideoInfo.Endpoint,
		Timeout:  cfg.VideoInfo.Timeout.Std(),
	}, proxies)

	pushClient := push.NewClient(push.Config{
		Endpoint: cfg.Push.Endpoint,
		APIKey:   cfg.Push.APIKey,
		Timeout:  cfg.Push.Timeout.Std(),
	})
	notifier := notify.New(devices, pushClient, breakers[push.ServiceName])

	downloader := worker.NewDownloader(
		jobs,
		info,
		breakers[videoinfo.ServiceName],
		notifier,
		queue,
		videoinfo.ServiceName,
	)
	consumer := worker.NewConsumer(queue, downloader, worker.Config{
		BatchSize: cfg.Worker.BatchSize,
		Block:     cfg.Worker.Block.Std(),
	})
	pruner := worker.NewPruner(jobs, cfg.Worker.Retention.Std())

	webhookServer := webhook.NewServer(
		cfg.Server.Port,
		guard,
		cfg.Idempotency.Window.Std(),
		queue,
		jobs,
		devices,
	)

	monitor := health.NewMonitor(
		map[string]health.Pinger{
			"redis":    redisClient,
			"postgres": db,
		},
		queue,
		[]*breaker.Breaker{
			breakers[videoinfo.ServiceName],
			breakers[push.ServiceName],
		},
	)
	healthServer := health.NewServer(monitor, cfg.Server.HealthPort)

	return &App{
		cfg:             cfg,
		redisClient:     redisClient,
		db:              db,
		queue:           queue,
		guard:           guard,
		breakers:        breakers,
		webhook:         webhookServer,
		consumer:        consumer,
		pruner:          pruner,
		healthServer:    healthServer,
		firstInvocation: true,
		log:             slog.Default(),
	}, nil
}

func newBreaker(name string, overrides map[string]config.BreakerConfig) *breaker.Breaker {
	cfg := breaker.Config{Name: name}
	if o, ok := overrides[name]; ok {
		cfg.FailureThreshold = o.FailureThreshold
		cfg.ResetTimeout = o.ResetTimeout.Std()
		cfg.SuccessThreshold = o.SuccessThreshold
	}
	return breaker.New(cfg)
}

// Start launches the webhook server, the queue consumer and the health
// server. It returns immediately; Stop shuts everything down.
func (a *App) Start(ctx context.Context) error {
	a.log.Info("starting downlink",
		"first_invocation", a.firstInvocation,
		"stream", a.cfg.Queue.Stream,
		"consumer", a.cfg.Queue.Consumer,
	)
	a.firstInvocation = false

	a.db.StartMetricsCollector(ctx)

	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("health server failed", "error", err)
		}
	}()

	go func() {
		if err := a.webhook.Start(); err != nil {
			a.log.Error("webhook server failed", "error", err)
		}
	}()

	go func() {
		if err := a.consumer.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("consumer failed", "error", err)
		}
	}()

	go a.pruner.Start(ctx)

	return nil
}

// Stop shuts the application down.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping downlink")

	if err := a.webhook.Stop(ctx); err != nil {
		a.log.Warn("webhook shutdown failed", "error", err)
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		a.log.Warn("health server shutdown failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("failed to close db", "error", err)
	}
	if err := a.redisClient.Close(); err != nil {
		a.log.Warn("failed to close redis", "error", err)
	}
	return nil
}

// Breakers exposes the per-dependency circuits for admin commands.
func (a *App) Breakers() map[string]*breaker.Breaker {
	return a.breakers
}

// Package app wires the relay's components together and supervises
// them, grounded on the teacher's internal/app/app.go
// errgroup.WithContext pattern, generalized to also supervise the
// worker pool, retry sweeper, schedule promoter, and janitor the
// teacher's narrower DB/cache/publisher/HTTP-server set didn't have.
package app

import (
	"context"
	"fmt"
	"time"

	"notifyrelay/internal/config"
	"notifyrelay/internal/metrics"
	"notifyrelay/internal/notifychan"
	"notifyrelay/internal/provider"
	"notifyrelay/internal/queue"
	"notifyrelay/internal/repository"
	"notifyrelay/internal/scheduler"
	"notifyrelay/internal/service"
	httpt "notifyrelay/internal/transport/http"
	"notifyrelay/internal/worker"

	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"
	"github.com/wb-go/wbf/redis"
	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	db, err := initDatabase(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeDB(db)

	tm, err := initTransactionManager(db, log)
	if err != nil {
		return err
	}

	rdb := initCache(&cfg.Cache)
	defer func() {
		if closeErr := closeCache(rdb); closeErr != nil {
			log.LogAttrs(ctx, logger.ErrorLevel, "cache close failed", logger.Any("error", closeErr.Error()))
		}
	}()

	q, err := initQueue(&cfg.Queue, cfg.Worker.VisibilityTimeoutS, repository.NewCacheRepository(rdb), log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := q.Close(); closeErr != nil {
			log.LogAttrs(ctx, logger.ErrorLevel, "queue close failed", logger.Any("error", closeErr.Error()))
		}
	}()

	whatsapp := provider.NewClient(provider.Config{
		BaseURL:         cfg.Provider.BaseURL + "/" + cfg.Provider.APIVersion,
		PhoneNumberID:   cfg.Provider.PhoneNumberID,
		AccessToken:     cfg.Provider.AccessToken,
		Timeout:         time.Duration(cfg.Provider.TimeoutMS) * time.Millisecond,
		RequestsPerSec:  cfg.Provider.RequestsPerSec,
		BurstSize:       cfg.Provider.BurstSize,
		BreakerName:     "whatsapp-cloud-api",
		BreakerInterval: cfg.Provider.BreakerInterval,
		BreakerTimeout:  cfg.Provider.BreakerTimeout,
	})

	notifyRepo := repository.NewNotifyRepository(db)
	rateLimitRepo := repository.NewRateLimitRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	cacheRepo := repository.NewCacheRepository(rdb)

	ingestSvc, err := service.NewIngestService(
		notifyRepo, rateLimitRepo, tenantRepo, tm, q, log,
		service.WithDefaultRateLimitPerHour(cfg.RateLimit.RecipientPerHour),
		service.WithReconcileGrace(cfg.Scheduler.ReconcileGrace),
	)
	if err != nil {
		return fmt.Errorf("app.Run: init ingest service: %w", err)
	}

	var processorOpts []service.Option
	if cfg.Email.Enabled {
		processorOpts = append(processorOpts, service.WithEscalationSender(notifychan.NewEmailSender(
			cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password,
			cfg.Email.Sender, cfg.Email.Recipient, log.With("component", "notifychan"),
		)))
	}
	processor := service.NewProcessor(notifyRepo, rateLimitRepo, whatsapp, log, processorOpts...)
	callbackSvc := service.NewCallbackService(notifyRepo, log)

	if n, reconErr := ingestSvc.ReconcileStuckQueued(ctx); reconErr != nil {
		log.LogAttrs(ctx, logger.ErrorLevel, "startup reconciliation failed", logger.Any("error", reconErr.Error()))
	} else if n > 0 {
		log.LogAttrs(ctx, logger.InfoLevel, "startup reconciliation requeued stuck notifications", logger.Any("count", n))
	}

	handler := httpt.NewHandler(httpt.Deps{
		Ingest:             ingestSvc,
		Callbacks:          callbackSvc,
		Tenants:            tenantRepo,
		RateLimit:          rateLimitRepo,
		DB:                 db,
		Cache:              cacheRepo,
		Queue:              q,
		Log:                log.With("component", "http"),
		TenantPerMinute:    cfg.RateLimit.TenantPerMinute,
		WebhookVerifyToken: cfg.Webhook.VerifyToken,
		WebhookAppSecret:   cfg.Webhook.AppSecret,
	})
	httpServer := httpt.NewServer(handler, cfg.HTTP, log.With("component", "http"))

	pool := worker.NewPool(q, processor, log.With("component", "worker"), worker.Config{
		Concurrency:         cfg.Worker.Concurrency,
		WaitSeconds:         cfg.Worker.WaitSeconds,
		VisibilityTimeout:   time.Duration(cfg.Worker.VisibilityTimeoutS) * time.Second,
		ShutdownGracePeriod: cfg.Worker.ShutdownGracePeriod,
	})

	retrySweeper := scheduler.NewRetrySweeper(notifyRepo, processor, log.With("component", "retry-sweeper"),
		time.Duration(cfg.Scheduler.RetrySweepIntervalMS)*time.Millisecond)
	promoter := scheduler.NewSchedulePromoter(notifyRepo, processor, q, log.With("component", "schedule-promoter"),
		time.Duration(cfg.Scheduler.ScheduledSweepIntervalMS)*time.Millisecond)
	janitor := scheduler.NewJanitor(rateLimitRepo, log.With("component", "janitor"),
		cfg.Scheduler.JanitorCron, cfg.Scheduler.JanitorRetention)

	metricsServer := metrics.NewServer(cfg.Metrics.Host + ":" + cfg.Metrics.Port)

	eg.Go(func() error { return httpServer.Start(ctx) })
	eg.Go(func() error { return pool.Run(ctx) })
	eg.Go(func() error { return retrySweeper.Run(ctx) })
	eg.Go(func() error { return promoter.Run(ctx) })
	eg.Go(func() error { return janitor.Run(ctx) })
	eg.Go(func() error { return metricsServer.Start(ctx) })

	return waitForShutdown(eg)
}

func initDatabase(cfg *config.Database, log logger.Logger) (*pgxdriver.Postgres, error) {
	db, err := pgxdriver.New(
		cfg.DSN,
		log.With("component", "database"),
		pgxdriver.MaxPoolSize(cfg.PoolMax),
		pgxdriver.MaxConnAttempts(cfg.ConnAttempts),
		pgxdriver.BaseRetryDelay(cfg.BaseRetryDelay),
		pgxdriver.MaxRetryDelay(cfg.MaxRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initDatabase: %w", err)
	}
	return db, nil
}

func closeDB(db *pgxdriver.Postgres) {
	if db != nil {
		db.Close()
	}
}

func initTransactionManager(db *pgxdriver.Postgres, log logger.Logger) (transaction.Manager, error) {
	tm, err := transaction.NewManager(db, log)
	if err != nil {
		return nil, fmt.Errorf("app.initTransactionManager: %w", err)
	}
	return tm, nil
}

func initCache(cfg *config.Cache) *redis.Client {
	return redis.New(cfg.Addr, cfg.Password, 0)
}

func closeCache(rdb *redis.Client) error {
	if err := rdb.Close(); err != nil {
		return fmt.Errorf("app.closeCache: %w", err)
	}
	return nil
}

func initQueue(cfg *config.Queue, visibilityTimeoutS int, cache *repository.CacheRepository, log logger.Logger) (*queue.RabbitAdapter, error) {
	adapter, err := queue.NewRabbitAdapter(queue.Config{
		URL:            cfg.URL,
		ConnectionName: cfg.ConnectionName,
		ConnectTimeout: cfg.ConnectTimeout,
		Heartbeat:      cfg.Heartbeat,
		Exchange:       cfg.Exchange,
		ContentType:    cfg.ContentType,
		Queue:          cfg.Queue,
		PrefetchCount:  cfg.PrefetchCount,
		VisibilityTTL:  time.Duration(visibilityTimeoutS) * time.Second,
	}, cache, log)
	if err != nil {
		return nil, fmt.Errorf("app.initQueue: %w", err)
	}
	return adapter, nil
}

func waitForShutdown(eg *errgroup.Group) error {
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("app.waitForShutdown: application failed: %w", err)
	}
	return nil
}

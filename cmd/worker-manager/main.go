// cmd/worker-manager/main.go
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"parking-sticker/internal/allocator"
	"parking-sticker/internal/common/aws"
	"parking-sticker/internal/common/camunda"
	"parking-sticker/internal/common/config"
	"parking-sticker/internal/common/database"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/common/observability"
	"parking-sticker/internal/lifecycle"
	"parking-sticker/internal/reporting"
	"parking-sticker/internal/session"
	"parking-sticker/internal/store"

	sn "parking-sticker/internal/workers/application/send-notification"
	sa "parking-sticker/internal/workers/application/submit-application"
	ta "parking-sticker/internal/workers/application/transition-application"
	qa "parking-sticker/internal/workers/data-access/query-applications"
	cs "parking-sticker/internal/workers/session/configure-session"
)

// retryWithBackoff attempts to execute a function with exponential backoff.
// It gives up early once ctx is cancelled.
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s cancelled: %w", operationName, ctxErr)
		}
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled after %d attempts: %w (last error: %w)", operationName, i+1, ctx.Err(), err)
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := cfg.Sticker.Location()

	// --- Datastores: connect concurrently, each with its own retry budget ---
	var (
		pg       *database.PostgresClient
		redis    *database.RedisClient
		esClient *database.ElasticsearchClient
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return retryWithBackoff(gctx, func() error {
			c, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := c.Ping(gctx); err != nil {
				_ = c.Close()
				return err
			}
			pg = c
			return nil
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	})
	g.Go(func() error {
		return retryWithBackoff(gctx, func() error {
			c, err := database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := c.Ping(gctx); err != nil {
				_ = c.Close()
				return err
			}
			redis = c
			return nil
		}, 10, 2*time.Second, zapLog, "Redis connection")
	})
	if cfg.Sticker.Reporting.Enabled {
		g.Go(func() error {
			return retryWithBackoff(gctx, func() error {
				c, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
				if err != nil {
					return err
				}
				if err := c.Ping(gctx); err != nil {
					return err
				}
				esClient = c
				return nil
			}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		})
	}
	if err := g.Wait(); err != nil {
		zapLog.Fatal("datastore connection failed", zap.Error(err))
	}
	defer pg.Close()
	defer redis.Close()
	zapLog.Info("Datastores connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx, store.Schema); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		zapLog.Info("Schema migrated")
	}

	// --- Core services ---
	st := store.NewPostgresStore(pg.DB)
	alloc := allocator.New(st, cfg.Sticker.Allocation, log)

	opts := []lifecycle.Option{lifecycle.WithLocation(loc)}
	var indexer *reporting.Indexer
	if esClient != nil {
		indexer = reporting.NewIndexer(esClient.Client, cfg.Sticker.Reporting.Index, loc, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("reporting index setup failed", zap.Error(err))
		}
		opts = append(opts, lifecycle.WithIndexer(indexer))
	}
	apps := lifecycle.NewService(st, alloc, log, opts...)

	sessions := session.NewService(st, alloc, redis.Client, cfg.Sticker.Session, log)
	year := time.Now().In(loc).Year()
	created, err := sessions.Bootstrap(ctx, year)
	if err != nil {
		zapLog.Fatal("session bootstrap failed", zap.Error(err), zap.Int("year", year))
	}
	if created {
		zapLog.Info("session bootstrapped from defaults", zap.Int("year", year))
	}

	// --- Zeebe ---
	zeebe, err := camunda.NewClient(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		RetryConfig:            camunda.DefaultRetryConfig,
	})
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- AWS notification channels ---
	var (
		sesSvc sn.SESService
		snsSvc sn.SNSService
	)
	checks := map[string]readinessCheck{
		"postgres": pg.Ping,
		"redis":    redis.Ping,
	}
	emailEnabled := cfg.Notifications.Email.Enabled && cfg.Integrations.AWS.SES.Enabled
	smsEnabled := cfg.Notifications.SMS.Enabled && cfg.Integrations.AWS.SNS.Enabled
	if emailEnabled {
		c, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		sesSvc = c
		checks["ses"] = c.Ping
	}
	if smsEnabled {
		c, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		snsSvc = c
		checks["sns"] = c.Ping
	}

	// --- Workers ---
	handlers := map[string]camunda.JobHandler{}
	must := func(taskType string, h camunda.JobHandler, err error) {
		if err != nil {
			zapLog.Fatal("failed to create handler", zap.String("taskType", taskType), zap.Error(err))
		}
		handlers[taskType] = h
	}
	timeout := func(taskType string) time.Duration {
		return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
	}

	submitCfg := sa.LoadConfig()
	submitCfg.Timeout = timeout(sa.TaskType)
	submitCfg.IdempotencyTTL = config.GetDuration(cfg.Sticker.IdempotencyTTL)
	submitHandler, err := sa.NewHandler(submitCfg, apps, redis.Client, log)
	must(sa.TaskType, submitHandler, err)

	for _, taskType := range ta.TaskTypes {
		transitionCfg := ta.LoadConfig()
		transitionCfg.Timeout = timeout(taskType)
		h, err := ta.NewHandler(transitionCfg, taskType, apps, log)
		must(taskType, h, err)
	}

	notifyCfg := sn.LoadConfig()
	notifyCfg.Timeout = timeout(sn.TaskType)
	notifyCfg.EmailEnabled = emailEnabled
	notifyCfg.SMSEnabled = smsEnabled
	notifyCfg.FromEmail = cfg.Notifications.Email.FromEmail
	if notifyCfg.FromEmail == "" {
		notifyCfg.FromEmail = cfg.Integrations.AWS.SES.FromEmail
	}
	notifyCfg.SMSSenderID = cfg.Integrations.AWS.SNS.DefaultSMSSenderID
	notifyHandler, err := sn.NewHandler(notifyCfg, apps, sesSvc, snsSvc, log)
	must(sn.TaskType, notifyHandler, err)

	sessionCfg := cs.LoadConfig()
	sessionCfg.Timeout = timeout(cs.TaskType)
	sessionHandler, err := cs.NewHandler(sessionCfg, sessions, log)
	must(cs.TaskType, sessionHandler, err)

	queryCfg := qa.LoadConfig()
	queryCfg.Timeout = timeout(qa.TaskType)
	var searcher qa.Searcher
	if indexer != nil {
		searcher = indexer
	}
	queryHandler, err := qa.NewHandler(queryCfg, apps, searcher, sessions, log)
	must(qa.TaskType, queryHandler, err)

	var workers []*camunda.Worker
	for taskType, h := range handlers {
		w := camunda.NewWorker(zeebe.GetClient(), taskType, config.GetWorkerConfig(cfg, taskType), h, log, camunda.WithObserver(obs))
		if w != nil {
			workers = append(workers, w)
		}
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	checks["zeebe"] = zeebe.HealthCheck
	if esClient != nil {
		checks["elasticsearch"] = esClient.Ping
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           newOpsRouter(checks, cfg.App.Version),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

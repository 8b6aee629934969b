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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rewardledger/api/controllers"
	"github.com/angelmondragon/rewardledger/api/routes"
	"github.com/angelmondragon/rewardledger/internal/app"
	"github.com/angelmondragon/rewardledger/internal/cron"
	"github.com/angelmondragon/rewardledger/internal/notifications"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/db"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	"github.com/angelmondragon/rewardledger/pkg/env"
	"github.com/angelmondragon/rewardledger/pkg/instance"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/metrics"
	"github.com/angelmondragon/rewardledger/pkg/migrate"
	"github.com/angelmondragon/rewardledger/pkg/pubsub"
	"github.com/angelmondragon/rewardledger/pkg/redis"
)

const serviceName = "worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if !env.LoadDotEnv() {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.NewFromConfig(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledger, err := app.NewLedger(context.Background(), app.LedgerParams{
		Config:     cfg,
		DB:         dbClient,
		Logger:     logg,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire ledger", err)
		os.Exit(1)
	}

	sink, closeSink, err := buildSink(context.Background(), cfg, logg, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build notification sink", err)
		os.Exit(1)
	}
	defer closeSink()

	relay, err := notifications.NewRelay(notifications.RelayParams{
		DB:          dbClient,
		Repository:  ledger.Outbox,
		Sink:        sink,
		BatchSize:   cfg.Notifications.BatchSize,
		MaxAttempts: cfg.Notifications.MaxAttempts,
		Metrics:     ledger.Metrics,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification relay", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(logg, dbClient, ledger, relay)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cfg.App.Env, serviceName), instance.GetID(), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"sink":        sink.Name(),
	})

	server := &http.Server{
		Addr: ":" + env.Get("PORT", cfg.App.Port),
		Handler: routes.NewOpsRouter(cfg, logg, prometheus.DefaultGatherer,
			controllers.Check{Name: "db", Pinger: dbClient},
			controllers.Check{Name: "redis", Pinger: redisClient},
		),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
			stop()
		}
	}()

	logg.Info(ctx, "starting worker")

	runErr := service.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "ops server shutdown failed", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", runErr)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func buildRegistry(logg *logger.Logger, dbClient *db.Client, ledger *app.Ledger, relay *notifications.Relay) (*cron.Registry, error) {
	charge, err := cron.NewSubscriptionChargeJob(logg, ledger.Subscriptions)
	if err != nil {
		return nil, err
	}
	syncJob, err := cron.NewPledgeSyncJob(logg, ledger.Pledges)
	if err != nil {
		return nil, err
	}
	rewards, err := cron.NewPledgeRewardsJob(logg, ledger.Pledges)
	if err != nil {
		return nil, err
	}
	relayJob, err := cron.NewNotificationRelayJob(logg, relay)
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewNotificationRetentionJob(cron.NotificationRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: ledger.Outbox,
	})
	if err != nil {
		return nil, err
	}

	// sync runs before rewards so a cycle rewards the freshest pledge data
	return cron.NewRegistry(charge, syncJob, rewards, relayJob, retention)
}

func buildSink(ctx context.Context, cfg *config.Config, logg *logger.Logger, redisClient *redis.Client) (notifications.Sink, func(), error) {
	noop := func() {}
	kind, err := enums.ParseNotificationSink(cfg.Notifications.Sink)
	if err != nil {
		return nil, noop, err
	}

	deps := notifications.SinkDeps{
		Redis:        redisClient,
		RedisChannel: redisClient.ChannelKey(cfg.Notifications.RedisChannel),
		Logger:       logg,
	}
	closeFn := noop
	if kind == enums.NotificationSinkPubSub {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		deps.Publisher = psClient.RewardsPublisher()
		closeFn = func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}
	}

	sink, err := notifications.NewSink(kind, deps)
	if err != nil {
		closeFn()
		return nil, noop, err
	}
	return sink, closeFn, nil
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ifarma/backoffice-backend/internal/billing"
	"github.com/ifarma/backoffice-backend/internal/cron"
	"github.com/ifarma/backoffice-backend/internal/identity"
	"github.com/ifarma/backoffice-backend/internal/ordergate"
	"github.com/ifarma/backoffice-backend/internal/payments"
	"github.com/ifarma/backoffice-backend/pkg/config"
	"github.com/ifarma/backoffice-backend/pkg/db"
	"github.com/ifarma/backoffice-backend/pkg/logger"
	"github.com/ifarma/backoffice-backend/pkg/metrics"
	"github.com/ifarma/backoffice-backend/pkg/migrate"
	"github.com/ifarma/backoffice-backend/pkg/pubsub"
	"github.com/ifarma/backoffice-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	tokenSource, err := identity.NewTokenSource(identity.TokenSourceParams{
		Store:   redisClient,
		Logger:  logg,
		Gateway: cfg.Gateway,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway token source", err)
		os.Exit(1)
	}

	gateway, err := payments.NewAsaasClient(tokenSource, payments.WithBaseURL(cfg.Gateway.BaseURL))
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}

	poller, err := payments.NewPoller(payments.PollerParams{
		Gateway:     gateway,
		Credentials: tokenSource,
		Logger:      logg,
		Interval:    cfg.Billing.VoucherPollInterval,
		MaxAttempts: cfg.Billing.VoucherPollMaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create voucher poller", err)
		os.Exit(1)
	}

	workflow, err := payments.NewWorkflow(payments.WorkflowParams{
		Gateway: gateway,
		Poller:  poller,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment workflow", err)
		os.Exit(1)
	}

	gate, err := ordergate.NewService(ordergate.ServiceParams{
		Publisher: pubsubClient.OrderGatePublisher(),
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order gate", err)
		os.Exit(1)
	}

	billingRepo := billing.NewRepository(dbClient.DB())
	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:     billingRepo,
		DB:       dbClient,
		Logger:   logg,
		Guard:    redisClient,
		Gate:     gate,
		Workflow: workflow,
		Gateway:  gateway,
		Billing:  cfg.Billing,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire billing service", err)
		os.Exit(1)
	}

	rolloverJob, err := cron.NewCycleRolloverJob(cron.CycleRolloverJobParams{
		Logger:  logg,
		Repo:    billingRepo,
		Billing: billingService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cycle rollover job", err)
		os.Exit(1)
	}

	overdueJob, err := cron.NewInvoiceOverdueJob(cron.InvoiceOverdueJobParams{
		Logger:  logg,
		Billing: billingService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoice overdue job", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
		Logger:  logg,
		Repo:    billingRepo,
		Gateway: gateway,
		Billing: billingService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription reconcile job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey("billing"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(rolloverJob, overdueJob, reconcileJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

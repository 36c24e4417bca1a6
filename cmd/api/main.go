package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/ifarma/backoffice-backend/api/routes"
	"github.com/ifarma/backoffice-backend/internal/billing"
	"github.com/ifarma/backoffice-backend/internal/identity"
	"github.com/ifarma/backoffice-backend/internal/ordergate"
	"github.com/ifarma/backoffice-backend/internal/payments"
	"github.com/ifarma/backoffice-backend/pkg/config"
	"github.com/ifarma/backoffice-backend/pkg/db"
	"github.com/ifarma/backoffice-backend/pkg/logger"
	"github.com/ifarma/backoffice-backend/pkg/migrate"
	"github.com/ifarma/backoffice-backend/pkg/pubsub"
	"github.com/ifarma/backoffice-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	billingService, err := buildBillingService(cfg, logg, dbClient, redisClient, pubsubClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire billing service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg, logg, dbClient, redisClient,
			billingService, billingService, billingService,
			billingService, billingService, billingService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildBillingService(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
) (*billing.Service, error) {
	tokenSource, err := identity.NewTokenSource(identity.TokenSourceParams{
		Store:   redisClient,
		Logger:  logg,
		Gateway: cfg.Gateway,
	})
	if err != nil {
		return nil, err
	}

	gateway, err := payments.NewAsaasClient(tokenSource, payments.WithBaseURL(cfg.Gateway.BaseURL))
	if err != nil {
		return nil, err
	}

	poller, err := payments.NewPoller(payments.PollerParams{
		Gateway:     gateway,
		Credentials: tokenSource,
		Logger:      logg,
		Interval:    cfg.Billing.VoucherPollInterval,
		MaxAttempts: cfg.Billing.VoucherPollMaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	workflow, err := payments.NewWorkflow(payments.WorkflowParams{
		Gateway: gateway,
		Poller:  poller,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	gate, err := ordergate.NewService(ordergate.ServiceParams{
		Publisher: pubsubClient.OrderGatePublisher(),
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}

	return billing.NewService(billing.ServiceParams{
		Repo:     billing.NewRepository(dbClient.DB()),
		DB:       dbClient,
		Logger:   logg,
		Guard:    redisClient,
		Gate:     gate,
		Workflow: workflow,
		Gateway:  gateway,
		Billing:  cfg.Billing,
	})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subscription-reconciler/internal/config"
	"subscription-reconciler/internal/infra/adapters/github"
	"subscription-reconciler/internal/infra/adapters/paypal"
	"subscription-reconciler/internal/infra/db/postgres"
	"subscription-reconciler/internal/infra/logging"
	"subscription-reconciler/internal/infra/metrics"
	redisinfra "subscription-reconciler/internal/infra/redis"
	"subscription-reconciler/internal/infra/sched"
	"subscription-reconciler/internal/infra/web"
	"subscription-reconciler/internal/usecase"
)

const runLockKey = "reconciler:run-lock"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dev := flag.Bool("dev", false, "development mode")
	flag.Parse()

	if err := run(*configPath, *dev); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, dev bool) error {
	cfg, err := config.LoadConfig(configPath, dev)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log, dev)
	logger.Info().Bool("dev", dev).Msg("subscription reconciler starting")

	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	subRepo := postgres.NewSubscriptionRepo(pool)
	userRepo := postgres.NewUserRepo(pool)
	locker := redisinfra.NewRunLocker(redisClient, runLockKey, cfg.Reconcile.LockTTL)

	billingProvider := paypal.NewClient(
		cfg.Providers.PayPal.BaseURL,
		cfg.Providers.PayPal.ClientID,
		cfg.Providers.PayPal.ClientSecret,
		cfg.Providers.PayPal.RatePerSec,
		*logger,
	)
	sponsorshipProvider := github.NewClient(cfg.Providers.GitHub.APIURL, cfg.Providers.GitHub.Token, *logger)

	validator := usecase.NewValidator(subRepo, userRepo, cfg.Reconcile.IdleThreshold, logger)
	committer := usecase.NewCommitter(subRepo, logger)

	billingSync := usecase.NewBillingSync(
		subRepo, userRepo, billingProvider, validator, committer,
		cfg.Reconcile.MinSubscriptionAge, cfg.Reconcile.GraceMonthly, cfg.Reconcile.GraceMonths,
		logger,
	)
	sponsorshipSync := usecase.NewSponsorshipSync(
		subRepo, userRepo, sponsorshipProvider, validator, committer,
		cfg.Reconcile.MinSubscriptionAge,
		logger,
	)
	cleaner := usecase.NewOrphanCleaner(subRepo, userRepo, validator, committer, logger)

	worker := sched.NewReconcileWorker(subRepo, locker, []sched.Routine{
		{Name: "billing", Run: billingSync.Run},
		{Name: "sponsorship", Run: sponsorshipSync.Run},
		{Name: "orphan-non-active", Run: cleaner.CheckNonActive},
		{Name: "orphan-missing", Run: cleaner.CheckMissing},
	}, cfg.Reconcile.Interval, logger)

	server := web.NewServer(cfg.Admin.Port, cfg.Admin.APIKey, worker, subRepo, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	go worker.Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ops server shutdown")
	}
	logger.Info().Msg("subscription reconciler stopped")
	return nil
}

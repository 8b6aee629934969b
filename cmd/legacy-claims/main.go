package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/angelmondragon/rewardledger/internal/app"
	"github.com/angelmondragon/rewardledger/internal/legacyclaims"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/db"
	"github.com/angelmondragon/rewardledger/pkg/env"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/migrate"
)

const serviceName = "legacy-claims"

func main() {
	dryRun := flag.Bool("dry-run", false, "log due deltas without granting anything")
	syncFirst := flag.Bool("sync", false, "pull pledge memberships before migrating")
	flag.Parse()

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"dry_run": *dryRun,
	})

	dbClient, err := db.NewFromConfig(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	ledger, err := app.NewLedger(ctx, app.LedgerParams{
		Config: cfg,
		DB:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire ledger", err)
		os.Exit(1)
	}

	if *syncFirst {
		report, err := ledger.Pledges.Sync(ctx)
		if err != nil {
			logg.Error(ctx, "pledge sync failed", err)
			os.Exit(1)
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"pages":           report.Pages,
			"users_written":   report.UsersWritten,
			"members_written": report.MembersWritten,
		}), "pledge sync complete")
	}

	migrator, err := legacyclaims.NewMigrator(legacyclaims.NewRepository(dbClient.DB()), ledger.Pledges, logg, *dryRun)
	if err != nil {
		logg.Error(ctx, "failed to create migrator", err)
		os.Exit(1)
	}

	report, err := migrator.Run(ctx)
	ctx = logg.WithFields(ctx, map[string]any{
		"claims":        report.Claims,
		"granted":       report.Granted,
		"settled":       report.Settled,
		"unknown":       report.Unknown,
		"unlinked":      report.Unlinked,
		"granted_cents": report.GrantedCents,
	})
	if err != nil {
		logg.Error(ctx, "legacy claim migration finished with errors", err)
		os.Exit(1)
	}
	logg.Info(ctx, "legacy claim migration complete")
}

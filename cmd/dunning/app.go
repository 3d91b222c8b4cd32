package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/dunning/internal/audit"
	"github.com/smallbiznis/dunning/internal/clock"
	"github.com/smallbiznis/dunning/internal/config"
	"github.com/smallbiznis/dunning/internal/invoice"
	"github.com/smallbiznis/dunning/internal/notification"
	"github.com/smallbiznis/dunning/internal/observability"
	"github.com/smallbiznis/dunning/internal/observability/logger"
	"github.com/smallbiznis/dunning/internal/offer"
	"github.com/smallbiznis/dunning/internal/organization"
	"github.com/smallbiznis/dunning/internal/reminder"
	"github.com/smallbiznis/dunning/internal/runlock"
	"github.com/smallbiznis/dunning/internal/scheduler"
	"github.com/smallbiznis/dunning/pkg/db"
	"go.uber.org/fx"
)

const stopTimeout = 30 * time.Second

// infraModules opens config, telemetry and the database.
func infraModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
	)
}

// schedulerModules wires every collaborator of the reminder jobs.
func schedulerModules() fx.Option {
	return fx.Options(
		infraModules(),

		organization.Module,
		invoice.Module,
		offer.Module,
		reminder.Module,
		audit.Module,
		notification.Module,
		runlock.Module,
		scheduler.Module,
	)
}

func logToStderr(cfg logger.Config) logger.Config {
	cfg.Output = "stderr"
	return cfg
}

// startOneShot starts a short-lived app for a single CLI invocation. The
// returned stop func must be called once the work is done.
func startOneShot(ctx context.Context, opts ...fx.Option) (func(), error) {
	app := fx.New(append([]fx.Option{fx.NopLogger, fx.Decorate(logToStderr)}, opts...)...)
	if err := app.Err(); err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}, nil
}

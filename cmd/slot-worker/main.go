package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/bootstrap"
	"github.com/hackgods/petcare-scheduling/internal/clock"
	"github.com/hackgods/petcare-scheduling/internal/config"
	"github.com/hackgods/petcare-scheduling/internal/logger"
)

// reconcileBatch caps how many orphaned holds a single run repairs.
const reconcileBatch = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Must(cfg.Env, cfg.LogLevel).Named("slot-worker")
	defer func() { _ = log.Sync() }()

	log.Info("slot-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval.Std()),
		zap.Int("window_days", cfg.SlotWindowDays),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 10*time.Second)
	app, err := bootstrap.New(connectCtx, cfg, log, clock.NewRealClock())
	cancelConnect()
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.Close()

	// Run once at startup
	runOnce(rootCtx, app)

	ticker := time.NewTicker(cfg.WorkerInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping slot worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, app)
		}
	}
}

// runOnce rolls the generation window forward for every provider and then
// repairs reservations whose appointment write never landed.
func runOnce(ctx context.Context, app *bootstrap.App) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()

	results, err := app.Generator.GenerateAll(runCtx, appointment.DefaultSlotTemplate(), app.Config.SlotWindowDays)
	created := 0
	for _, r := range results {
		created += r.Created
	}
	if err != nil {
		app.Log.Warn("slot generation incomplete", zap.Int("created", created), zap.Error(err))
	}

	fixed, err := app.Coordinator.ReconcileOrphans(runCtx, reconcileBatch)
	if err != nil {
		app.Log.Warn("reconciliation incomplete", zap.Int("fixed", fixed), zap.Error(err))
	}

	app.Log.Info("slot worker run complete",
		zap.Int("providers", len(results)),
		zap.Int("slots_created", created),
		zap.Int("reconciled", fixed),
		zap.Duration("took", time.Since(start)),
	)
}

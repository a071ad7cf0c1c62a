package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hackgods/petcare-scheduling/internal/api"
	"github.com/hackgods/petcare-scheduling/internal/bootstrap"
	"github.com/hackgods/petcare-scheduling/internal/clock"
	"github.com/hackgods/petcare-scheduling/internal/config"
	"github.com/hackgods/petcare-scheduling/internal/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
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

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(api.RouterConfig{App: app, Log: log.Named("http"), Version: version}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	log.Info("listening", zap.String("addr", srv.Addr))

	<-rootCtx.Done()

	log.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

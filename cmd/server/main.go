package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthsurvey/internal/app"
	"healthsurvey/internal/config"
	"healthsurvey/internal/transport/rest"
	"healthsurvey/internal/transport/rest/middleware"
	"healthsurvey/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	logger.Info("starting", "store", cfg.StoreDriver, "port", cfg.Port)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	// Expiry worker ends responses from past periods
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.NewExpiryWorker(a.DraftService, cfg.SweepInterval, logger).Run(workerCtx)

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	router := rest.NewRouter(&rest.Container{
		AuthService:        a.AuthService,
		DraftService:       a.DraftService,
		WSHub:              a.Hub,
		Metrics:            a.Metrics,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     trusted,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")
	stopWorker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}

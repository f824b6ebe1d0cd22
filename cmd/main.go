package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"alert-relay/internal/api"
	"alert-relay/internal/catalog"
	"alert-relay/internal/config"
	"alert-relay/internal/logging"
	"alert-relay/internal/providers"
	"alert-relay/internal/services"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	cat := catalog.Default()
	if cfg.Alerts.TypesFile != "" {
		f, err := os.Open(cfg.Alerts.TypesFile)
		if err != nil {
			logger.Fatalf("Failed to open alert types file: %v", err)
		}
		cat, err = catalog.Load(f)
		f.Close()
		if err != nil {
			logger.Fatalf("Failed to load alert types: %v", err)
		}
	}

	telegram, err := providers.NewTelegram(cfg, logger)
	if err != nil {
		logger.Fatalf("Telegram login failed: %v", err)
	}

	svc, err := services.New(cfg, cat, telegram, logger)
	if err != nil {
		logger.Fatalf("Failed to init relay: %v", err)
	}
	var wg sync.WaitGroup
	svc.Start(&wg)

	// Start API server
	srv := &http.Server{Addr: cfg.API.Addr, Handler: api.NewRouter(logger, svc)}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}
	svc.Stop()
	wg.Wait()
}

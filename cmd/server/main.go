package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/api"
	"github.com/david/childcare-leads/internal/app"
	"github.com/david/childcare-leads/internal/auth"
	"github.com/david/childcare-leads/internal/config"
	"github.com/david/childcare-leads/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "config file, .env or yaml (default: ./.env when present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		if !cfg.DryRun {
			logger.Fatal("invalid configuration", zap.Error(err))
		}
		logger.Warn("configuration problems ignored in dry run", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}
	defer a.Close()

	authService, err := auth.NewService(cfg.AdminSecret, logger)
	if err != nil {
		logger.Fatal("failed to set up admin auth", zap.Error(err))
	}

	srv := api.NewServer(api.Deps{
		Store:       a.Store,
		Runner:      a,
		Scorer:      a.Pipeline,
		Auth:        authService,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.Backend))
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// Package main is the entry point of the touchline service: it polls the
// live price, detects level contacts, paper-trades recognized patterns and
// serves the HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/touchline/internal/config"
	"github.com/aristath/touchline/internal/di"
	"github.com/aristath/touchline/internal/server"
	"github.com/aristath/touchline/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	version := getEnv("VERSION", "dev")
	log.Info().Str("version", version).Str("symbol", cfg.Symbol).Msg("Starting touchline")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, version, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Symbol:  cfg.Symbol,
		Version: version,

		Levels:          container.LevelsRepo,
		Prices:          container.PriceFeed,
		Recommendations: container.Recommender,
		Portfolio:       container.Ledger,
		Closer:          container.Engine,
		Review:          container.MemoryStore,
		Evolution:       container.Tracker,
		Resilience:      container.Resilience,
		Monitor:         container.Monitor,
		Ticks:           container.Engine,
		Events:          container.EventManager,
		Scheduler:       container.Scheduler,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	if container.PolygonStream != nil {
		container.PolygonStream.Start(ctx)
		log.Info().Msg("Polygon trade stream started")
	}

	container.Scheduler.Start()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		container.Engine.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stops the engine loop and the stream reader.
	cancel()
	<-engineDone

	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdu-bridge/internal/api"
	"pdu-bridge/internal/config"
	"pdu-bridge/internal/history"
	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/manager"
	"pdu-bridge/internal/mqtt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config(cfg.Logging), "dev")
	logger.Info().Msg("starting pdu-bridge")

	hist, err := history.Open(cfg.Database, cfg.History, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open history store")
	}

	mqttClient := mqtt.NewClient(cfg.MQTT, logger)
	if err := mqttClient.Connect(); err != nil {
		logger.Warn().Err(err).Msg("failed to connect to MQTT broker; continuing, will retry in background")
	}

	mgr := manager.New(cfg, hist, mqttClient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start bridge manager")
	}

	server := api.NewServer(cfg, mgr, hist, logger)
	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("http server listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	mgr.Shutdown()

	logger.Info().Msg("shutdown complete")
}

// Package main is the entry point for the equinox poller daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/equinox/internal/config"
	"github.com/unklstewy/equinox/internal/poller"
	"github.com/unklstewy/equinox/internal/server"
	"github.com/unklstewy/equinox/pkg/mqtt"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("EQUINOX_CONFIG"), "Path to the poller configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize logger
	var logger *zap.Logger
	switch cfg.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting equinox poller",
		zap.String("name", cfg.Name),
		zap.String("config", *configPath),
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.String("session_store", cfg.Session.Store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []poller.Option{poller.WithLogger(logger)}

	var mqttClient *mqtt.Client
	if cfg.MQTT.BrokerURL != "" {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			logger.Fatal("Failed to create MQTT client", zap.Error(err))
		}
		if err := mqttClient.Connect(); err != nil {
			// Results are still served over HTTP; paho keeps reconnecting.
			logger.Warn("Failed to connect to MQTT broker", zap.Error(err))
		}
		opts = append(opts, poller.WithPublisher(mqttClient))
	}

	p, err := poller.New(ctx, cfg, opts...)
	if err != nil {
		logger.Fatal("Failed to create poller", zap.Error(err))
	}
	if mqttClient != nil {
		p.RegisterShutdownFunc(func(context.Context) error {
			mqttClient.Disconnect()
			return nil
		})
	}

	if err := p.Start(); err != nil {
		logger.Fatal("Failed to start poller", zap.Error(err))
	}

	srv := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Debug:         cfg.LogLevel == "debug",
	}, p, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Poller running, press Ctrl+C to stop",
		zap.String("listen_address", cfg.ListenAddress))

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case err := <-serverErrors:
		if err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP server shutdown", zap.Error(err))
	}
	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		cancel()
		os.Exit(1)
	}

	logger.Info("Poller stopped successfully")
}

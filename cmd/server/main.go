package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/scrap-api/internal/config"
	"github.com/Brownie44l1/scrap-api/pkg/log"
)

func main() {
	logger := log.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	server, err := config.NewServer(
		config.WithConfig(cfg),
		config.WithFiber(config.NewFiber(cfg)),
		config.WithLogger(logger),
		config.WithValidator(config.NewValidator()),
		config.WithEstimator(config.NewEstimator(cfg, logger)),
		config.WithCache(),
		config.WithMiddleware(),
	)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Initialize(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.WithFields(log.Fields{
		"port":       cfg.Port,
		"models_dir": cfg.ModelsDir,
		"offline":    cfg.Offline,
	}).Info("Server started")

	<-sigChan
	logger.Info("Shutting down server...")

	cancel()
	if err := server.Shutdown(10 * time.Second); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	}
}

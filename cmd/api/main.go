package main

import (
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/l3v3l/core/internal/config"
	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/server"
)

func main() {
	// Setup structured logging
	logger.SetupLogger()
	log := logger.New("api-service")

	// Load configuration
	cfg := config.Load()

	// Create and configure server
	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "server_creation_failed").
			Msg("Failed to create server")
	}

	// Shut down on interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Str("action", "shutdown").Msg("Shutting down")
		srv.Close()
	}()

	// Start server
	if err := srv.Start(); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "server_failed").
			Msg("Server failed to start")
	}
}

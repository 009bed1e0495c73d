package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calliope-voice/calliope/config"
	"github.com/calliope-voice/calliope/gemini"
	"github.com/calliope-voice/calliope/server"
	"github.com/calliope-voice/calliope/session"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One-shot text generator for prompt requests from the UI
	generator, err := gemini.NewGenerator(ctx, cfg.GeminiAPIKey, cfg.TextModel)
	if err != nil {
		log.Fatalf("Failed to create text generator: %v", err)
	}

	// Transcript history store (optional, degrades to no-op without Redis)
	history := session.NewHistory(cfg)
	defer history.Close()

	srv := server.NewServer(cfg, generator, history)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived shutdown signal...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

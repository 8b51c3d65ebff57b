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

	"github.com/temcen/hybridrec/internal/app"
	"github.com/temcen/hybridrec/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	recommender, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize recommender: %v", err)
	}

	// Builds the similarity index, then starts the catalog feed and rebuild schedule
	recommender.Start(context.Background())

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           recommender.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Recommendation API failed: %v", err)
		}
	}()

	log.Printf("Recommendation API listening on :%s", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Printf("Received %s, draining requests...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Requests in flight still read the stores, so stop serving before closing them
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Recommendation API forced to stop: %v", err)
	}

	if err := recommender.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Recommender stopped")
}

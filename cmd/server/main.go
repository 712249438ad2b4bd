// Package main is the entry point for the PRP generator server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prp-generator/internal/api"
	"prp-generator/internal/config"
	"prp-generator/internal/engine"
	"prp-generator/internal/generation"
	"prp-generator/internal/observability"
	"prp-generator/internal/store"
	"prp-generator/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	metrics, err := observability.New()
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	registry := telemetry.NewRegistry(telemetry.RegistryOptions{
		PortMin:  cfg.TelemetryPortMin,
		PortMax:  cfg.TelemetryPortMax,
		Attempts: cfg.TelemetryPortAttempts,
		Observer: metrics,
	})

	svc := generation.NewService(generation.ServiceOptions{
		Repository: st,
		Telemetry:  registry,
		Resolver:   engine.NewLocator(),
		EnginePath: func() string {
			if err := cfg.ReloadEngineSettings(); err != nil {
				log.Printf("Failed to reload engine settings: %v", err)
			}
			return cfg.EnginePath()
		},
		EngineArgs:  cfg.EngineArgs,
		ServiceName: cfg.TelemetryServiceName,
		MaxDuration: cfg.GenerationMaxDuration,
		Observer:    metrics,
	})

	// Create server
	srv := api.NewServer(api.Deps{
		Config:     cfg,
		Store:      st,
		Generation: svc,
		Telemetry:  registry,
		Metrics:    metrics,
	})
	router := api.NewRouter(srv)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Disable for streaming
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc.Cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := registry.Close(ctx); err != nil {
		log.Printf("Telemetry receiver shutdown: %v", err)
	}
	if err := metrics.Shutdown(ctx); err != nil {
		log.Printf("Metrics shutdown: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("Database close: %v", err)
	}

	log.Println("Server stopped")
}

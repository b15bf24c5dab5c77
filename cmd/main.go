/*
Package main is the entry point for the studyhub server.

It loads configuration, initializes the global logger, opens the Postgres pool (running
migrations), optionally connects attachment storage, starts the real-time coordinator and
the HTTP server, and shuts everything down gracefully on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"studyhub/internal/app/db"
	"studyhub/internal/app/identity"
	"studyhub/internal/app/realtime"
	"studyhub/internal/app/storage"
	"studyhub/internal/configs"
	"studyhub/internal/handler"
	"studyhub/internal/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("external_timeout", cfg.ExternalTimeout).
		Dur("room_grace_period", cfg.RoomGracePeriod).
		Bool("storage_enabled", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to connect to database")
	}
	defer pool.Close()

	queries := db.New(pool)

	var storageService storage.StorageService
	if cfg.StorageEnabled() {
		storageService, err = storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize storage service")
		}
	} else {
		logx.Warn("S3 storage is not configured; attachments are disabled.")
	}

	coordinator := realtime.New(realtime.Options{
		Verifier:        identity.NewVerifier(cfg.JWTSecret, queries),
		Directory:       identity.NewDirectory(queries),
		ExternalTimeout: cfg.ExternalTimeout,
		RoomGracePeriod: cfg.RoomGracePeriod,
	})

	router := handler.Router(ctx, &handler.AppDeps{
		Coordinator:    coordinator,
		Config:         cfg,
		StorageService: storageService,
		DB:             queries,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logx.Info(fmt.Sprintf("studyhub server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)

		// Hijacked WebSocket connections are not tracked by the server.
		coordinator.Shutdown()

		return err
	})

	if err := g.Wait(); err != nil {
		logx.Error(err, "Server stopped with error")
		stop()
		pool.Close()
		os.Exit(1)
	}

	logx.Info("Server gracefully stopped.")
}

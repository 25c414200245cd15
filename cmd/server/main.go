// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package main is the entry point for the Canteend server.
//
// Canteend is the notification and event fan-out plane of a theater canteen
// backend. It generates branded QR menu artifacts, runs scheduled stock
// notification jobs over per-theater inventory ledgers, and fans POS order
// events out to live WebSocket subscribers.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, YAML file, and CANTEEND_*
//     environment variables (Koanf v2)
//  2. Blob storage: local upload tree with remote-URL read-through
//  3. Database: MongoDB manager with background reconnection
//  4. Settings registry: mutable runtime settings hydrated from MongoDB
//  5. POS event bus: per-theater WebSocket fan-out
//  6. Stock jobs: notification jobs registered with the cron supervisor
//  7. HTTP server: REST API plus the /pos-stream WebSocket endpoint
//  8. Supervision tree: fan-out layer and API layer under suture
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the HTTP server drains
// in-flight requests, the bus closes every subscriber with a going-away
// frame, cron jobs are cancelled, and the database connection is closed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/theaterops/canteend/internal/api"
	"github.com/theaterops/canteend/internal/config"
	"github.com/theaterops/canteend/internal/cron"
	"github.com/theaterops/canteend/internal/database"
	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/posbus"
	"github.com/theaterops/canteend/internal/qrartifact"
	"github.com/theaterops/canteend/internal/settings"
	"github.com/theaterops/canteend/internal/stocknotify"
	"github.com/theaterops/canteend/internal/storage"
	"github.com/theaterops/canteend/internal/store"
	"github.com/theaterops/canteend/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("mongo_database", cfg.Mongo.Database).
		Str("storage_root", cfg.Storage.Root).
		Int("port", cfg.Server.Port).
		Msg("Starting Canteend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Blob storage degrades rather than aborts: reads of remote URLs still
	// work, writes return a storage-unavailable error until the root appears.
	blobs := storage.New(storage.Config{
		Root:    cfg.Storage.Root,
		BaseURL: cfg.Storage.BaseURL,
	})
	if err := blobs.Init(); err != nil {
		logging.Warn().Err(err).Msg("Blob storage unavailable, uploads will fail until it recovers")
	}

	// A failed initial connect is not fatal; the manager keeps reconnecting
	// in the background and queries surface not-ready errors meanwhile.
	db := database.New(database.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
	})
	if err := db.Connect(ctx); err != nil {
		logging.Warn().Err(err).Msg("Initial database connection failed, reconnecting in background")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("Database close failed")
		}
	}()

	repo := store.New(db)

	registry := settings.New(repo)
	if err := registry.Load(ctx); err != nil {
		logging.Warn().Err(err).Msg("Settings hydration failed, running on defaults")
	}

	bus := posbus.New()

	jobs := stocknotify.NewJobs(repo, stocknotify.NewSMTPMailer(registry))
	scheduler := cron.NewSupervisor(registry)
	scheduler.Register(models.JobExpiringStockCheck, jobs.ExpiringStockCheck)
	scheduler.Register(models.JobExpiredStockCheck, jobs.ExpiredStockCheck)
	scheduler.Register(models.JobLowStockCheck, jobs.LowStockCheck)
	scheduler.Register(models.JobDailyStockReport, jobs.DailyStockReport)
	scheduler.Register(models.JobStockReport, jobs.DailyStockReport)

	pipeline := qrartifact.New(repo, blobs, registry, cfg.Frontend.BaseURL)

	handler := api.NewRouter(db, bus, pipeline, registry, scheduler)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No blanket write timeout: /pos-stream connections are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddFanoutService(bus)
	tree.AddFanoutService(scheduler)
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))

	logging.Info().Str("addr", server.Addr).Msg("Canteend ready")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervision tree exited")
	}
	logging.Info().Msg("Canteend stopped")
}

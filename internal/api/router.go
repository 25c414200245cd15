// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package api exposes the thin HTTP surface over the fan-out plane: health,
// metrics, the POS stream, QR generation and settings.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theaterops/canteend/internal/cron"
	"github.com/theaterops/canteend/internal/database"
	"github.com/theaterops/canteend/internal/posbus"
	"github.com/theaterops/canteend/internal/qrartifact"
	"github.com/theaterops/canteend/internal/settings"
)

// Router bundles the component handles the handlers need.
type Router struct {
	db         *database.Manager
	bus        *posbus.Bus
	pipeline   *qrartifact.Pipeline
	registry   *settings.Registry
	supervisor *cron.Supervisor
}

// NewRouter creates the HTTP handler tree.
func NewRouter(db *database.Manager, bus *posbus.Bus, pipeline *qrartifact.Pipeline, registry *settings.Registry, supervisor *cron.Supervisor) http.Handler {
	router := &Router{
		db:         db,
		bus:        bus,
		pipeline:   pipeline,
		registry:   registry,
		supervisor: supervisor,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogging())

	r.Get("/healthz", router.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/pos-stream", router.posStream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/qr/single", router.qrSingle)
		r.Post("/qr/screen", router.qrScreen)
		r.Post("/pos/events", router.posEvent)
		r.Get("/settings", router.settingsGet)
		r.Put("/settings/{section}", router.settingsPut)
	})

	return r
}

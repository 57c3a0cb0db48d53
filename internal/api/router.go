// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package api provides the HTTP surface: event intake, incident and rule
// operations, enforcement checks, and health/metrics endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/sentinelgate/internal/config"
	"github.com/tomtom215/sentinelgate/internal/threat"
)

// Router builds the HTTP handler tree over the engine.
type Router struct {
	engine *threat.Engine
	cfg    config.ServerConfig
}

// NewRouter creates the API router.
func NewRouter(engine *threat.Engine, cfg config.ServerConfig) *Router {
	return &Router{engine: engine, cfg: cfg}
}

// Handler assembles the routes and middleware.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", rt.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(rt.cfg.RateLimitRequests, rt.cfg.RateLimitWindow))
		}

		r.Post("/events", rt.recordEvent)

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", rt.listIncidents)
			r.Get("/{id}", rt.getIncident)
			r.Patch("/{id}", rt.updateIncident)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", rt.listRules)
			r.Patch("/{id}", rt.updateRule)
		})

		r.Route("/checks", func(r chi.Router) {
			r.Get("/ip/{ip}", rt.checkIP)
			r.Get("/user/{id}", rt.checkUser)
		})

		r.Get("/alerts", rt.listAlerts)
		r.Get("/status", rt.status)
	})

	return r
}

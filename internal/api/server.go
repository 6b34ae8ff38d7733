// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"github.com/keygate/keygate/internal/api/handlers"
	"github.com/keygate/keygate/internal/api/middleware"
	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/services/activation"
	"github.com/keygate/keygate/internal/services/licensing"
)

// Dependencies holds everything the router needs. Constructed once in the
// serve command and handed over whole so tests can swap pieces out.
type Dependencies struct {
	Config            *config.AppConfig
	DB                handlers.Pinger
	AuthService       *auth.Service
	SessionManager    *scs.SessionManager
	ActivationService *activation.Service
	LicensingService  *licensing.Service

	// Per-IP admission guards for the public endpoints; KeyLimiter is the
	// per-license-key guard applied inside the activate handler.
	ActivateLimiter *ratelimit.Limiter
	ValidateLimiter *ratelimit.Limiter
	KeyLimiter      *ratelimit.Limiter

	Version string
}

type Server struct {
	deps *Dependencies
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the chi router. Public activation routes sit behind the
// per-IP guards; everything under /api/licenses and /api/auth (past setup)
// requires an authenticated session.
func (s *Server) Handler() (http.Handler, error) {
	deps := s.deps
	if deps.Config == nil || deps.Config.Config == nil {
		return nil, errors.New("api: missing config")
	}
	cfg := deps.Config.Config

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.New(cors.Options{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	if cfg.GlobalRateLimitRPS > 0 {
		r.Use(middleware.GlobalRateLimit(cfg.GlobalRateLimitRPS))
	}

	r.Use(deps.SessionManager.LoadAndSave)

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Version)
	healthHandler.RegisterRoutes(r)

	activationHandler := handlers.NewActivationHandler(deps.ActivationService, deps.KeyLimiter, deps.SessionManager)
	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.SessionManager)
	licensesHandler := handlers.NewLicensesHandler(deps.LicensingService, deps.ActivationService)

	r.Route("/api", func(r chi.Router) {
		// Device-facing endpoints, no session required.
		r.Group(func(r chi.Router) {
			if deps.ActivateLimiter != nil {
				r.With(middleware.RateLimit(deps.ActivateLimiter, "activate")).
					Post("/activation/activate", activationHandler.Activate)
			} else {
				r.Post("/activation/activate", activationHandler.Activate)
			}
			if deps.ValidateLimiter != nil {
				r.With(middleware.RateLimit(deps.ValidateLimiter, "validate")).
					Post("/activation/validate", activationHandler.Validate)
			} else {
				r.Post("/activation/validate", activationHandler.Validate)
			}
			r.Post("/activation/deactivate", activationHandler.Deactivate)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSetup(deps.AuthService))
			authHandler.RegisterRoutes(r)
		})

		// Admin surface.
		r.Group(func(r chi.Router) {
			r.Use(middleware.IsAuthenticated(deps.SessionManager))
			licensesHandler.RegisterRoutes(r)
		})
	})

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL != "" {
		outer := chi.NewRouter()
		outer.Mount(baseURL, r)
		return outer, nil
	}

	return r, nil
}

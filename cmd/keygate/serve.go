// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/api"
	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/buildinfo"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/crypto"
	"github.com/keygate/keygate/internal/database"
	"github.com/keygate/keygate/internal/logger"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/services/activation"
	"github.com/keygate/keygate/internal/services/licensing"
	"github.com/keygate/keygate/internal/token"
	"github.com/keygate/keygate/pkg/sessionstore"
)

func RunServeCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configDir)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory containing config.toml")

	return cmd
}

func runServe(cmd *cobra.Command, configDir string) error {
	cfg, err := config.New(configDir)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	cfg.Config.Version = buildinfo.Version

	logger.Setup(cfg)

	if err := cfg.Config.ValidateSecrets(); err != nil {
		return err
	}

	log.Info().
		Str("version", buildinfo.Version).
		Str("config", cfg.ConfigPath()).
		Msg("Starting keygate")

	db, err := database.OpenFromConfig(cfg.Config, cfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()

	encryptor, err := crypto.NewAESEncryptor(auth.DeriveEncryptionKey(cfg.Config.SessionSecret))
	if err != nil {
		return errors.Wrap(err, "failed to initialize key encryptor")
	}

	issuer := token.NewIssuer(cfg.Config.SigningSecret)

	sessionStore := sessionstore.New(db)
	defer sessionStore.StopCleanup()

	authService := auth.NewService(db)
	activationService := activation.NewService(db, issuer)
	licensingService := licensing.NewService(db, encryptor)

	activationWindow := time.Duration(cfg.Config.ActivationRateWindow) * time.Second
	validationWindow := time.Duration(cfg.Config.ValidationRateWindow) * time.Second

	limiterStore, closeStore, err := newLimiterStore(cmd.Context(), cfg, maxDuration(activationWindow, validationWindow))
	if err != nil {
		return err
	}
	defer closeStore()

	deps := &api.Dependencies{
		Config:            cfg,
		DB:                db,
		AuthService:       authService,
		SessionManager:    newSessionManager(sessionStore),
		ActivationService: activationService,
		LicensingService:  licensingService,
		ActivateLimiter:   ratelimit.NewLimiter(limiterStore, cfg.Config.ActivationRateLimit, activationWindow),
		ValidateLimiter:   ratelimit.NewLimiter(limiterStore, cfg.Config.ValidationRateLimit, validationWindow),
		KeyLimiter:        ratelimit.NewLimiter(limiterStore, cfg.Config.ActivationRateLimit, activationWindow),
		Version:           buildinfo.Version,
	}

	server := api.NewServer(deps)
	handler, err := server.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Config.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var metricsSrv *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsSrv = metrics.NewServer(cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	api.StartPprofServer(cfg)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// newLimiterStore returns the admission guard backing store: Redis when an
// address is configured so counters are shared across instances, otherwise
// an in-process store with a background sweep.
func newLimiterStore(ctx context.Context, cfg *config.AppConfig, maxWindow time.Duration) (ratelimit.Store, func(), error) {
	if cfg.Config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Config.RedisAddr,
			Password: cfg.Config.RedisPassword,
			DB:       cfg.Config.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "failed to connect to redis")
		}

		log.Info().Str("addr", cfg.Config.RedisAddr).Msg("Using Redis rate limit store")
		return ratelimit.NewRedisStore(client, ""), func() { _ = client.Close() }, nil
	}

	store := ratelimit.NewMemoryStore(maxWindow, time.Minute)
	return store, func() { store.Close() }, nil
}

func newSessionManager(store scs.Store) *scs.SessionManager {
	sm := scs.New()
	sm.Store = store
	sm.Lifetime = 7 * 24 * time.Hour
	sm.Cookie.Name = "keygate_session"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	return sm
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

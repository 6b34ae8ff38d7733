// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/rs/zerolog/log"

	"github.com/keygate/keygate/internal/config"
)

// StartPprofServer starts the pprof profiling server if enabled
func StartPprofServer(cfg *config.AppConfig) {
	if !cfg.Config.PprofEnabled {
		return
	}

	const pprofAddr = "localhost:6060"

	go func() {
		log.Info().Msgf("Starting pprof server on %s", pprofAddr)
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			log.Error().Err(err).Msg("Profiling server failed")
		}
	}()
}

// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server serves /metrics on its own listener, optionally behind basic
// auth ("user:pass,user2:pass2").
type Server struct {
	srv       *http.Server
	basicAuth map[string]string
}

func NewServer(host string, port int, basicAuthUsers string) *Server {
	s := &Server{
		basicAuth: parseBasicAuthUsers(basicAuthUsers),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.withBasicAuth(promhttp.Handler()))

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.srv.Addr).Msg("Starting metrics server")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) withBasicAuth(next http.Handler) http.Handler {
	if len(s.basicAuth) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			if expected, found := s.basicAuth[user]; found {
				if subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func parseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			log.Warn().Str("entry", entry).Msg("Skipping invalid metrics basic auth entry")
			continue
		}

		users[parts[0]] = parts[1]
	}

	return users
}

// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/keygate/keygate/internal/api/handlers"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/ratelimit"
)

// RateLimit applies a fixed-window admission guard keyed by client IP.
// Every response carries the X-RateLimit headers; rejections add a
// Retry-After hint.
func RateLimit(limiter *ratelimit.Limiter, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Allow(r.Context(), "ip:"+endpoint+":"+handlers.ClientIP(r))
			if err != nil {
				// A broken guard store is an internal fault; do not let
				// it take the whole endpoint down with it.
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

			if !res.Allowed {
				metrics.RateLimited(endpoint)
				handlers.RespondThrottled(w, res)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GlobalRateLimit is a coarse requests-per-second ceiling over the whole
// API, in front of the per-endpoint fixed windows.
func GlobalRateLimit(rps int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), rps*2)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				metrics.RateLimited("global")
				handlers.RespondError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes prometheus counters for the activation core and
// an optional standalone metrics listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_activation_outcomes_total",
		Help: "Activation attempts by outcome",
	}, []string{"outcome"})

	validationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_validation_outcomes_total",
		Help: "Token validations by outcome",
	}, []string{"outcome"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_rate_limited_total",
		Help: "Requests rejected by the admission guard, by endpoint",
	}, []string{"endpoint"})
)

func ActivationOutcome(outcome string) {
	activationOutcomes.WithLabelValues(outcome).Inc()
}

func ValidationOutcome(outcome string) {
	validationOutcomes.WithLabelValues(outcome).Inc()
}

func RateLimited(endpoint string) {
	rateLimited.WithLabelValues(endpoint).Inc()
}

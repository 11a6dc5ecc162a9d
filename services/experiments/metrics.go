// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Experiment Engine
// =============================================================================

var (
	// assignmentsTotal counts arm assignments handed out.
	// Labels: variant, sticky (hit / new / held_out)
	assignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "assignments_total",
		Help:      "Total session-to-arm assignments served",
	}, []string{"variant", "sticky"})

	// impressionsTotal counts recorded impressions.
	// Labels: experiment, variant
	impressionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "impressions_total",
		Help:      "Total impressions recorded per experiment arm",
	}, []string{"experiment", "variant"})

	// conversionsTotal counts attributed conversions.
	// Labels: experiment, variant
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "conversions_total",
		Help:      "Total conversions attributed per experiment arm",
	}, []string{"experiment", "variant"})

	// revenueTotal accumulates attributed revenue.
	// Labels: experiment, variant
	revenueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "revenue_total",
		Help:      "Total revenue attributed per experiment arm, in currency units",
	}, []string{"experiment", "variant"})

	// allocationGauge exposes the current traffic split.
	// Labels: experiment, arm
	allocationGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "allocation_fraction",
		Help:      "Current traffic allocation per experiment arm",
	}, []string{"experiment", "arm"})

	// winProbabilityGauge exposes the last recomputed win probability.
	// Labels: experiment
	winProbabilityGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "variant_win_probability",
		Help:      "Latest P(variant RPV exceeds control RPV) per experiment",
	}, []string{"experiment"})

	// expectedLossGauge exposes cumulative expected loss against budget.
	// Labels: experiment
	expectedLossGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "expected_loss",
		Help:      "Cumulative expected revenue loss to the inferior arm",
	}, []string{"experiment"})

	// recomputeLatency measures allocation recompute duration.
	// Labels: status (ok, error)
	recomputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "recompute_duration_seconds",
		Help:      "Duration of belief + allocation recomputes",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"status"})

	// decisionsTotal counts decision-rule outcomes.
	// Labels: outcome (promoted, stopped, none, terminal)
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canary",
		Subsystem: "experiments",
		Name:      "decisions_total",
		Help:      "Total decision-rule evaluations by outcome",
	}, []string{"outcome"})
)

// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package simulation drives the engine with synthetic visitor traffic.
//
// The simulator plays a configured "ground truth" (true conversion rate and
// order value per arm) against the full loop: assign, impress, convert,
// recompute, decide. Order revenue gets a uniform ±20% variance to mimic
// basket composition; this variance exists only here, the live attribution
// path always records exact observed revenue. Runs are deterministic for a
// fixed seed.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/assignment"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/attribution"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

// ArmTruth is the simulated ground truth for one arm.
type ArmTruth struct {
	// ConversionRate is the true per-visit conversion probability.
	ConversionRate float64

	// AvgOrderValue is the true mean order value before variance.
	AvgOrderValue float64
}

// Config configures a simulation run.
type Config struct {
	ExperimentID string
	ProductID    string

	// Visitors is the number of synthetic sessions to play.
	Visitors int

	Control ArmTruth
	Variant ArmTruth

	// Prior estimates handed to Activate; usually close to the control
	// truth, as a merchant would guess.
	BaselineConversionRate float64
	AvgOrderValue          float64

	RiskMode            storage.RiskMode
	SafetyBudget        float64
	ConfidenceThreshold float64
	MinSampleSize       int64

	// BatchSize visitors are ingested per counter transaction; the
	// decision rule runs after each batch. Defaults to 50.
	BatchSize int

	// RevenueVariance is the uniform relative spread applied to each
	// order's revenue. Defaults to 0.20.
	RevenueVariance float64

	// Seed fixes the traffic stream. Zero means seed 1.
	Seed int64
}

// Report is the outcome of a simulation run.
type Report struct {
	ExperimentID           string          `json:"experiment_id"`
	VisitorsPlayed         int             `json:"visitors_played"`
	HeldOut                int             `json:"held_out"`
	ControlImpressions     int64           `json:"control_impressions"`
	VariantImpressions     int64           `json:"variant_impressions"`
	ControlConversions     int64           `json:"control_conversions"`
	VariantConversions     int64           `json:"variant_conversions"`
	Status                 storage.Status  `json:"status"`
	Winner                 storage.Variant `json:"winner,omitempty"`
	Promoted               bool            `json:"promoted"`
	Stopped                bool            `json:"stopped"`
	ProbabilityVariantWins float64         `json:"probability_variant_wins"`
	ExpectedLoss           float64         `json:"expected_loss"`
	FinalAllocation        storage.Split   `json:"final_allocation"`

	// Trace holds one reasoning line per decision evaluation.
	Trace []string `json:"trace"`
}

// Run activates the experiment and plays the configured traffic through it.
//
// Description:
//
//	Each synthetic visitor is assigned through the real assignment
//	service, so sticky draws and the live split shape the traffic.
//	Visitors outside the current exposure see nothing and record
//	nothing. The run ends early when a decision turns the experiment
//	terminal.
//
// Outputs:
//   - *Report: Totals, final state and the decision trace.
//   - error: Activation or ingestion failure.
func Run(ctx context.Context, engine *experiments.Engine, cfg Config) (*Report, error) {
	if cfg.Visitors <= 0 {
		return nil, fmt.Errorf("visitors must be positive, got %d", cfg.Visitors)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	variance := cfg.RevenueVariance
	if variance == 0 {
		variance = 0.20
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))

	_, err := engine.Activate(ctx, experiments.ActivateParams{
		ExperimentID:           cfg.ExperimentID,
		ProductID:              cfg.ProductID,
		BaselineConversionRate: cfg.BaselineConversionRate,
		AvgOrderValue:          cfg.AvgOrderValue,
		RiskMode:               cfg.RiskMode,
		SafetyBudget:           cfg.SafetyBudget,
		ConfidenceThreshold:    cfg.ConfidenceThreshold,
		MinSampleSize:          cfg.MinSampleSize,
	})
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", cfg.ExperimentID, err)
	}

	report := &Report{ExperimentID: cfg.ExperimentID}

	var impressions []attribution.Impression
	var conversions []attribution.Conversion

	flush := func() error {
		if len(impressions) > 0 {
			if err := engine.RecordImpressions(ctx, impressions...); err != nil {
				return fmt.Errorf("record impressions: %w", err)
			}
			impressions = impressions[:0]
		}
		if len(conversions) > 0 {
			if err := engine.RecordConversions(ctx, conversions...); err != nil {
				return fmt.Errorf("record conversions: %w", err)
			}
			conversions = conversions[:0]
		}
		return nil
	}

	for i := 0; i < cfg.Visitors; i++ {
		sessionID := fmt.Sprintf("sim-%08d", i)

		a, err := engine.Assign(ctx, sessionID, cfg.ExperimentID)
		if errors.Is(err, assignment.ErrNoActiveExperiment) {
			break // terminal; stop sending traffic
		}
		held := errors.Is(err, assignment.ErrSessionNotExposed)
		if err != nil && !held {
			return report, fmt.Errorf("assign %s: %w", sessionID, err)
		}
		report.VisitorsPlayed++

		if held {
			// Held-out visitor: sees the unmodified product, records
			// nothing.
			report.HeldOut++
		} else {
			truth := cfg.Control
			if a.Variant == storage.VariantTreatment {
				truth = cfg.Variant
				report.VariantImpressions++
			} else {
				report.ControlImpressions++
			}
			impressions = append(impressions, attribution.Impression{
				ExperimentID: cfg.ExperimentID,
				SessionID:    sessionID,
				Variant:      a.Variant,
			})

			if rng.Float64() < truth.ConversionRate {
				// Uniform variance in [1-v, 1+v] around the true order value.
				revenue := truth.AvgOrderValue * (1 + variance*(2*rng.Float64()-1))
				conversions = append(conversions, attribution.Conversion{
					ExperimentID: cfg.ExperimentID,
					SessionID:    sessionID,
					Variant:      a.Variant,
					Revenue:      revenue,
					DedupKey:     "sim-order-" + sessionID,
				})
				if a.Variant == storage.VariantTreatment {
					report.VariantConversions++
				} else {
					report.ControlConversions++
				}
			}
		}

		if (i+1)%batch != 0 && i != cfg.Visitors-1 {
			continue
		}
		if err := flush(); err != nil {
			return report, err
		}
		decision, err := engine.EvaluateDecision(ctx, cfg.ExperimentID)
		if err != nil {
			return report, fmt.Errorf("evaluate decision: %w", err)
		}
		report.Trace = append(report.Trace, decision.Reasoning)
		if decision.Promoted || decision.Stopped {
			break
		}
	}
	if err := flush(); err != nil {
		return report, err
	}

	rec, err := engine.GetExperiment(ctx, cfg.ExperimentID)
	if err != nil {
		return report, err
	}
	report.Status = rec.Record.Status
	report.Winner = rec.Record.Winner
	report.Promoted = rec.Record.Status == storage.StatusCompleted
	report.Stopped = rec.Record.Status == storage.StatusCancelled
	report.ProbabilityVariantWins = rec.Record.ProbabilityVariantWins
	report.ExpectedLoss = rec.Record.ExpectedLoss
	report.FinalAllocation = rec.Record.Allocation
	return report, nil
}

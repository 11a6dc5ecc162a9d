// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package allocation turns belief-model output into traffic splits and
// terminal decisions.
//
// Both the policy and the decision rule are pure reducers over their inputs:
// they never touch storage, so identical inputs always produce identical
// splits, stop signals and reasoning strings. All mutation happens at the
// engine boundary.
package allocation

import (
	"fmt"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/belief"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

// -----------------------------------------------------------------------------
// Policy Configuration
// -----------------------------------------------------------------------------

// PolicyConfig holds the allocation parameters for one risk mode.
//
// Description:
//
//	Exposure and variant share are distinct, explicitly named parameters.
//	Exposure is the fraction of total traffic that participates in the
//	experiment at all; the remainder sees the unmodified product and is
//	never assigned. The variant share is the split among exposed traffic.
//	The persisted allocation pair is therefore NOT required to sum to 1:
//	control = exposure*(1-share), variant = exposure*share.
type PolicyConfig struct {
	// Exposure is the fraction of traffic exposed to the experiment, in
	// (0, 1].
	Exposure float64

	// StartShare is the variant's share of exposed traffic at activation,
	// before any evidence accumulates.
	StartShare float64

	// MaxShare caps the variant's share of exposed traffic while the
	// experiment is active. Promotion, not the ramp, is what reaches 1.0.
	MaxShare float64

	// ExplorationFloor is the minimum share of exposed traffic either arm
	// keeps while the experiment is active, so neither arm starves.
	ExplorationFloor float64
}

// ConfigFor returns the allocation parameters for a risk mode.
//
// Cautious mode holds back a tenth of traffic entirely and starts the
// variant at one-twentieth of the exposed share. Aggressive mode exposes
// everything and starts the variant at an even tenth.
func ConfigFor(mode storage.RiskMode) PolicyConfig {
	switch mode {
	case storage.RiskAggressive:
		return PolicyConfig{
			Exposure:         1.0,
			StartShare:       0.10,
			MaxShare:         0.90,
			ExplorationFloor: 0.10,
		}
	default:
		return PolicyConfig{
			Exposure:         0.90,
			StartShare:       0.05,
			MaxShare:         0.70,
			ExplorationFloor: 0.05,
		}
	}
}

// StartSplit returns the cautious-start allocation pair for a risk mode.
func StartSplit(mode storage.RiskMode) storage.Split {
	cfg := ConfigFor(mode)
	return storage.Split{
		Control: cfg.Exposure * (1 - cfg.StartShare),
		Variant: cfg.Exposure * cfg.StartShare,
	}
}

// -----------------------------------------------------------------------------
// Policy Evaluation
// -----------------------------------------------------------------------------

// PolicyInput is everything the allocation policy reads.
type PolicyInput struct {
	// Comparison is the belief model's output for the current counters.
	Comparison belief.Comparison

	// RiskMode selects the parameter set.
	RiskMode storage.RiskMode

	// SafetyBudget is the maximum tolerated cumulative expected loss, in
	// currency units.
	SafetyBudget float64

	// ControlImpressions and VariantImpressions are the current per-arm
	// sample sizes, used to price the loss of the inferior arm.
	ControlImpressions int64
	VariantImpressions int64
}

// PolicyResult is the allocation policy's output.
type PolicyResult struct {
	// Allocation is the recomputed split. Both fractions are in [0, 1];
	// their sum is the exposure, not necessarily 1.
	Allocation storage.Split `json:"allocation"`

	// ExpectedLoss is the cumulative expected revenue lost to the inferior
	// arm: its impressions times the posterior mean RPV gap.
	ExpectedLoss float64 `json:"expected_loss"`

	// ShouldStop is true when ExpectedLoss exceeds the safety budget. The
	// decision rule turns this into an abort.
	ShouldStop bool `json:"should_stop"`

	// Reasoning is the human-readable justification for the split.
	Reasoning string `json:"reasoning"`
}

// Evaluate maps a belief comparison to a traffic split and a stop signal.
//
// Description:
//
//	The variant's share of exposed traffic stays at the cautious-start
//	share while the evidence is at or below even odds, then ramps linearly
//	with probabilityVariantWins up to the mode's cap. The share is clamped
//	so neither arm drops below the exploration floor. The ramp is monotone:
//	a higher win probability never yields a smaller variant share.
//
// Inputs:
//   - in: The comparison, risk mode, budget and sample sizes.
//
// Outputs:
//   - PolicyResult: Split, cumulative expected loss, stop signal, reasoning.
//
// Thread Safety: Pure function, safe for concurrent use.
func Evaluate(in PolicyInput) PolicyResult {
	cfg := ConfigFor(in.RiskMode)
	p := in.Comparison.ProbabilityVariantWins

	share := cfg.StartShare
	if p > 0.5 {
		share = cfg.StartShare + (cfg.MaxShare-cfg.StartShare)*(p-0.5)/0.5
	}
	share = clamp(share, cfg.ExplorationFloor, 1-cfg.ExplorationFloor)

	split := storage.Split{
		Control: cfg.Exposure * (1 - share),
		Variant: cfg.Exposure * share,
	}

	loss := expectedLoss(in)
	stop := loss > in.SafetyBudget

	reasoning := fmt.Sprintf(
		"variant wins with probability %.3f; allocating %.1f%% control / %.1f%% variant (%s mode, %.0f%% exposure); expected loss %.2f of budget %.2f",
		p, split.Control*100, split.Variant*100, in.RiskMode, cfg.Exposure*100,
		loss, in.SafetyBudget)
	if stop {
		reasoning = fmt.Sprintf(
			"expected loss %.2f exceeds safety budget %.2f; signalling stop (variant win probability %.3f)",
			loss, in.SafetyBudget, p)
	}

	return PolicyResult{
		Allocation:   split,
		ExpectedLoss: loss,
		ShouldStop:   stop,
		Reasoning:    reasoning,
	}
}

// expectedLoss prices the traffic sent to the currently inferior arm.
//
// Uses the full posterior mean RPVs, never the zero-floored display
// estimates, so a not-yet-converted arm is charged at the prior's rate.
func expectedLoss(in PolicyInput) float64 {
	gap := in.Comparison.VariantMeanRPV - in.Comparison.ControlMeanRPV
	if gap >= 0 {
		// Control is inferior (or tied): losses accrue on control traffic.
		return float64(in.ControlImpressions) * gap
	}
	return float64(in.VariantImpressions) * -gap
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

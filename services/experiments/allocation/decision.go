// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package allocation

import (
	"fmt"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

// -----------------------------------------------------------------------------
// Decision Rule
// -----------------------------------------------------------------------------

// DecisionInput is everything the decision rule reads.
type DecisionInput struct {
	// Status is the experiment's current lifecycle state.
	Status storage.Status

	// Allocation is the current split, frozen as-is on abort.
	Allocation storage.Split

	// ProbabilityVariantWins is the latest recomputed win probability.
	ProbabilityVariantWins float64

	// ConfidenceThreshold is the win probability required for promotion.
	ConfidenceThreshold float64

	// TotalImpressions is the combined sample size of both arms.
	TotalImpressions int64

	// MinSampleSize gates promotion until enough traffic has been seen.
	MinSampleSize int64

	// ShouldStop is the allocation policy's safety-budget signal.
	ShouldStop bool

	// Winner is the already-recorded winner for terminal records.
	Winner storage.Variant
}

// Decision is the decision rule's output.
//
// Thread Safety: Immutable after creation.
type Decision struct {
	// Promoted is true when a winner crossed the confidence threshold.
	Promoted bool `json:"promoted"`

	// Stopped is true when the safety budget forced an abort.
	Stopped bool `json:"stopped"`

	// Winner is set on promotion (or echoed for already-terminal records).
	Winner storage.Variant `json:"winner,omitempty"`

	// Status is the resulting lifecycle state.
	Status storage.Status `json:"status"`

	// Allocation is the resulting split: 100/0 toward the winner on
	// promotion, frozen at the input split on abort.
	Allocation storage.Split `json:"allocation"`

	// Reasoning names the threshold that was (or was not) crossed, with
	// the probabilities and sample sizes behind the call.
	Reasoning string `json:"reasoning"`
}

// Decide evaluates the promotion and abort transitions.
//
// Description:
//
//	A promotion fires when either arm's win probability reaches the
//	confidence threshold and the combined sample size meets the minimum;
//	both arms are treated symmetrically. An abort fires on the policy's
//	stop signal and freezes the allocation where it stands. Evaluating an
//	already-terminal record is a no-op echoing the existing state, so
//	callers may invoke the rule speculatively.
//
// Inputs:
//   - in: Current status, split, probabilities, thresholds and stop signal.
//
// Outputs:
//   - Decision: Transition flags, resulting state and reasoning. Never
//     nil-valued; Reasoning is always populated.
//
// Thread Safety: Pure function, safe for concurrent use.
func Decide(in DecisionInput) Decision {
	if in.Status.Terminal() {
		return Decision{
			Promoted:   in.Status == storage.StatusCompleted,
			Stopped:    in.Status == storage.StatusCancelled,
			Winner:     in.Winner,
			Status:     in.Status,
			Allocation: in.Allocation,
			Reasoning:  fmt.Sprintf("experiment already %s; no further transitions", in.Status),
		}
	}

	p := in.ProbabilityVariantWins
	sampleOK := in.TotalImpressions >= in.MinSampleSize

	if sampleOK && p >= in.ConfidenceThreshold {
		return promote(in, storage.VariantTreatment, p)
	}
	if sampleOK && (1-p) >= in.ConfidenceThreshold {
		return promote(in, storage.VariantControl, 1-p)
	}

	if in.ShouldStop {
		return Decision{
			Stopped:    true,
			Status:     storage.StatusCancelled,
			Allocation: in.Allocation,
			Reasoning: fmt.Sprintf(
				"safety budget exhausted after %d impressions; cancelling with allocation frozen at %.1f%% control / %.1f%% variant",
				in.TotalImpressions, in.Allocation.Control*100, in.Allocation.Variant*100),
		}
	}

	reason := fmt.Sprintf(
		"no transition: variant win probability %.3f below threshold %.2f", p, in.ConfidenceThreshold)
	if !sampleOK {
		reason = fmt.Sprintf(
			"no transition: %d of %d minimum impressions observed (variant win probability %.3f)",
			in.TotalImpressions, in.MinSampleSize, p)
	}
	return Decision{
		Status:     storage.StatusActive,
		Allocation: in.Allocation,
		Reasoning:  reason,
	}
}

func promote(in DecisionInput, winner storage.Variant, confidence float64) Decision {
	split := storage.Split{Control: 1}
	if winner == storage.VariantTreatment {
		split = storage.Split{Variant: 1}
	}
	return Decision{
		Promoted:   true,
		Winner:     winner,
		Status:     storage.StatusCompleted,
		Allocation: split,
		Reasoning: fmt.Sprintf(
			"%s wins with probability %.3f >= threshold %.2f over %d impressions (minimum %d); promoting to 100%%",
			winner, confidence, in.ConfidenceThreshold, in.TotalImpressions, in.MinSampleSize),
	}
}

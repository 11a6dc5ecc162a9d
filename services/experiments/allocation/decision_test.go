// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package allocation

import (
	"strings"
	"testing"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

func activeInput() DecisionInput {
	return DecisionInput{
		Status:                 storage.StatusActive,
		Allocation:             storage.Split{Control: 0.6, Variant: 0.3},
		ProbabilityVariantWins: 0.5,
		ConfidenceThreshold:    0.95,
		TotalImpressions:       5000,
		MinSampleSize:          1000,
	}
}

func TestDecidePromotesVariant(t *testing.T) {
	in := activeInput()
	in.ProbabilityVariantWins = 0.99

	d := Decide(in)
	if !d.Promoted || d.Stopped {
		t.Fatalf("expected promotion, got %+v", d)
	}
	if d.Winner != storage.VariantTreatment {
		t.Errorf("expected variant winner, got %q", d.Winner)
	}
	if d.Allocation.Variant != 1.0 || d.Allocation.Control != 0.0 {
		t.Errorf("expected 100%% variant allocation, got %+v", d.Allocation)
	}
	if d.Status != storage.StatusCompleted {
		t.Errorf("expected completed status, got %q", d.Status)
	}
	if !strings.Contains(d.Reasoning, "variant wins") {
		t.Errorf("reasoning must name the winner: %q", d.Reasoning)
	}
}

func TestDecidePromotesControlSymmetrically(t *testing.T) {
	in := activeInput()
	in.ProbabilityVariantWins = 0.02

	d := Decide(in)
	if !d.Promoted {
		t.Fatalf("expected control promotion, got %+v", d)
	}
	if d.Winner != storage.VariantControl {
		t.Errorf("expected control winner, got %q", d.Winner)
	}
	if d.Allocation.Control != 1.0 || d.Allocation.Variant != 0.0 {
		t.Errorf("expected 100%% control allocation, got %+v", d.Allocation)
	}
}

func TestDecideSampleSizeGatesPromotion(t *testing.T) {
	in := activeInput()
	in.ProbabilityVariantWins = 0.99
	in.TotalImpressions = 500

	d := Decide(in)
	if d.Promoted || d.Stopped {
		t.Fatalf("expected no transition below minimum sample, got %+v", d)
	}
	if d.Status != storage.StatusActive {
		t.Errorf("expected active status, got %q", d.Status)
	}
	if !strings.Contains(d.Reasoning, "minimum") {
		t.Errorf("reasoning must name the sample gate: %q", d.Reasoning)
	}
}

func TestDecideAbortFreezesAllocation(t *testing.T) {
	in := activeInput()
	in.ShouldStop = true

	d := Decide(in)
	if !d.Stopped || d.Promoted {
		t.Fatalf("expected abort, got %+v", d)
	}
	if d.Status != storage.StatusCancelled {
		t.Errorf("expected cancelled status, got %q", d.Status)
	}
	if d.Allocation != in.Allocation {
		t.Errorf("abort must freeze allocation: got %+v, want %+v", d.Allocation, in.Allocation)
	}
	if d.Winner != "" {
		t.Errorf("abort must not name a winner, got %q", d.Winner)
	}
}

func TestDecidePromotionBeatsStopSignal(t *testing.T) {
	// A clear winner with enough data promotes even if the budget also ran
	// out in the same recompute.
	in := activeInput()
	in.ProbabilityVariantWins = 0.99
	in.ShouldStop = true

	d := Decide(in)
	if !d.Promoted || d.Stopped {
		t.Errorf("expected promotion to win over stop signal, got %+v", d)
	}
}

func TestDecideTerminalIsNoOp(t *testing.T) {
	cases := []struct {
		name   string
		status storage.Status
		winner storage.Variant
	}{
		{"completed", storage.StatusCompleted, storage.VariantTreatment},
		{"cancelled", storage.StatusCancelled, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := activeInput()
			in.Status = tc.status
			in.Winner = tc.winner
			in.ShouldStop = true
			in.ProbabilityVariantWins = 0.99

			first := Decide(in)
			second := Decide(in)
			if first != second {
				t.Fatalf("terminal evaluation not idempotent: %+v vs %+v", first, second)
			}
			if first.Status != tc.status {
				t.Errorf("terminal status must be preserved, got %q", first.Status)
			}
			if first.Winner != tc.winner {
				t.Errorf("terminal winner must be echoed, got %q", first.Winner)
			}
			if first.Allocation != in.Allocation {
				t.Errorf("terminal allocation must be untouched, got %+v", first.Allocation)
			}
		})
	}
}

// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package belief

import (
	"errors"
	"math"
	"testing"
)

// -----------------------------------------------------------------------------
// Prior Tests
// -----------------------------------------------------------------------------

func TestNewPrior(t *testing.T) {
	t.Run("valid estimates", func(t *testing.T) {
		prior, err := NewPrior(0.02, 50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := prior.Validate(); err != nil {
			t.Fatalf("prior failed validation: %v", err)
		}

		// Prior mean conversion rate must match the estimate.
		meanCR := prior.ConversionAlpha / (prior.ConversionAlpha + prior.ConversionBeta)
		if math.Abs(meanCR-0.02) > 1e-12 {
			t.Errorf("expected prior mean CR 0.02, got %v", meanCR)
		}

		// Prior mean order value must match the estimate.
		meanOV := prior.OrderValueScale / (prior.OrderValueShape - 1)
		if math.Abs(meanOV-50) > 1e-9 {
			t.Errorf("expected prior mean order value 50, got %v", meanOV)
		}
	})

	t.Run("rejects out-of-range conversion rate", func(t *testing.T) {
		for _, cr := range []float64{0, 1, -0.1, 1.5} {
			if _, err := NewPrior(cr, 50); !errors.Is(err, ErrInvalidPriorEstimate) {
				t.Errorf("cr=%v: expected ErrInvalidPriorEstimate, got %v", cr, err)
			}
		}
	})

	t.Run("rejects non-positive order value", func(t *testing.T) {
		for _, aov := range []float64{0, -5, math.Inf(1), math.NaN()} {
			if _, err := NewPrior(0.02, aov); !errors.Is(err, ErrInvalidPriorEstimate) {
				t.Errorf("aov=%v: expected ErrInvalidPriorEstimate, got %v", aov, err)
			}
		}
	})
}

// -----------------------------------------------------------------------------
// Posterior Tests
// -----------------------------------------------------------------------------

func TestPosteriorFor(t *testing.T) {
	prior, err := NewPrior(0.02, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("zero impressions yields the prior", func(t *testing.T) {
		post := prior.PosteriorFor(Observations{})
		if post.ConvAlpha != prior.ConversionAlpha || post.ConvBeta != prior.ConversionBeta {
			t.Errorf("expected prior beta parameters, got alpha=%v beta=%v",
				post.ConvAlpha, post.ConvBeta)
		}
		if post.OVShape != prior.OrderValueShape || post.OVScale != prior.OrderValueScale {
			t.Errorf("expected prior inverse-gamma parameters, got shape=%v scale=%v",
				post.OVShape, post.OVScale)
		}
	})

	t.Run("conjugate update", func(t *testing.T) {
		obs := Observations{Impressions: 1000, Conversions: 30, Revenue: 1500}
		post := prior.PosteriorFor(obs)

		if post.ConvAlpha != prior.ConversionAlpha+30 {
			t.Errorf("expected alpha %v, got %v", prior.ConversionAlpha+30, post.ConvAlpha)
		}
		if post.ConvBeta != prior.ConversionBeta+970 {
			t.Errorf("expected beta %v, got %v", prior.ConversionBeta+970, post.ConvBeta)
		}
		if post.OVShape != prior.OrderValueShape+30 {
			t.Errorf("expected shape %v, got %v", prior.OrderValueShape+30, post.OVShape)
		}
		if post.OVScale != prior.OrderValueScale+1500 {
			t.Errorf("expected scale %v, got %v", prior.OrderValueScale+1500, post.OVScale)
		}

		// Posterior mean CR should sit between prior mean and empirical rate.
		meanCR := post.MeanConversionRate()
		if meanCR <= 0.02 || meanCR >= 0.03 {
			t.Errorf("expected posterior mean CR in (0.02, 0.03), got %v", meanCR)
		}
	})

	t.Run("pure function", func(t *testing.T) {
		obs := Observations{Impressions: 500, Conversions: 10, Revenue: 480}
		a := prior.PosteriorFor(obs)
		b := prior.PosteriorFor(obs)
		if a != b {
			t.Errorf("identical inputs produced different posteriors: %+v vs %+v", a, b)
		}
	})

	t.Run("zero conversions reports zero RPV", func(t *testing.T) {
		post := prior.PosteriorFor(Observations{Impressions: 200})
		if got := post.ReportedRPV(); got != 0 {
			t.Errorf("expected reported RPV 0 for zero conversions, got %v", got)
		}
		// Full posterior mean stays positive (prior-driven uncertainty).
		if post.MeanRPV() <= 0 {
			t.Errorf("expected positive posterior mean RPV, got %v", post.MeanRPV())
		}
	})
}

func TestObservationsValidate(t *testing.T) {
	cases := []struct {
		name    string
		obs     Observations
		wantErr bool
	}{
		{"empty", Observations{}, false},
		{"normal", Observations{Impressions: 10, Conversions: 2, Revenue: 80}, false},
		{"negative impressions", Observations{Impressions: -1}, true},
		{"negative revenue", Observations{Impressions: 5, Revenue: -0.01}, true},
		{"conversions exceed impressions", Observations{Impressions: 1, Conversions: 2}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.obs.Validate()
			if tc.wantErr && !errors.Is(err, ErrNegativeObservation) {
				t.Errorf("expected ErrNegativeObservation, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

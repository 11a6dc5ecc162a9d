// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package belief

import "math"

// -----------------------------------------------------------------------------
// Deterministic RNG
// -----------------------------------------------------------------------------

// DefaultSeed is the seed used when a comparison does not supply one.
// Fixing the seed makes every recompute of the same counters reproducible.
const DefaultSeed = uint64(12345)

// DefaultSampleCount is the Monte-Carlo sample count per comparison.
const DefaultSampleCount = 10000

// lcg is a linear congruential generator used for deterministic sampling.
//
// The multiplier/increment pair is Knuth's MMIX; quality is more than
// adequate for posterior comparison and the determinism is required for
// idempotent recompute.
type lcg struct {
	state uint64
}

func newLCG(seed uint64) *lcg {
	if seed == 0 {
		seed = DefaultSeed
	}
	return &lcg{state: seed}
}

// next returns a value in [0, 1).
func (r *lcg) next() float64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return float64(r.state>>11) / float64(1<<53)
}

// nextOpen returns a value in (0, 1), avoiding log(0) in transforms.
func (r *lcg) nextOpen() float64 {
	for {
		u := r.next()
		if u > 0 {
			return u
		}
	}
}

// normal returns a standard normal draw via Box-Muller.
func (r *lcg) normal() float64 {
	u1 := r.nextOpen()
	u2 := r.next()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// gamma returns a draw from Gamma(shape, rate=1) using Marsaglia-Tsang.
//
// For shape < 1 the standard boosting trick is applied: draw from
// Gamma(shape+1) and scale by U^(1/shape).
func (r *lcg) gamma(shape float64) float64 {
	if shape < 1 {
		return r.gamma(shape+1) * math.Pow(r.nextOpen(), 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := r.normal()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := r.nextOpen()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// beta returns a draw from Beta(a, b).
func (r *lcg) beta(a, b float64) float64 {
	ga := r.gamma(a)
	gb := r.gamma(b)
	return ga / (ga + gb)
}

// inverseGamma returns a draw from InverseGamma(shape, scale).
func (r *lcg) inverseGamma(shape, scale float64) float64 {
	return scale / r.gamma(shape)
}

// -----------------------------------------------------------------------------
// Posterior Comparison
// -----------------------------------------------------------------------------

// Comparison is the output of comparing two arm posteriors.
//
// Thread Safety: Immutable after creation.
type Comparison struct {
	// ProbabilityVariantWins is P(RPV_variant > RPV_control) in [0, 1].
	ProbabilityVariantWins float64 `json:"probability_variant_wins"`

	// ControlRPV and VariantRPV are posterior mean RPV point estimates,
	// following the zero-conversion reporting rule.
	ControlRPV float64 `json:"control_rpv"`
	VariantRPV float64 `json:"variant_rpv"`

	// ControlMeanRPV and VariantMeanRPV are the full posterior means used
	// for expected-loss accounting (never forced to zero).
	ControlMeanRPV float64 `json:"control_mean_rpv"`
	VariantMeanRPV float64 `json:"variant_mean_rpv"`

	// Samples is the Monte-Carlo sample count used.
	Samples int `json:"samples"`

	// Seed is the RNG seed used, recorded for reproducibility.
	Seed uint64 `json:"seed"`
}

// CompareOptions tune the Monte-Carlo comparison.
type CompareOptions struct {
	// Samples is the number of joint posterior draws. Default: 10000.
	Samples int

	// Seed seeds the deterministic RNG. Default: DefaultSeed.
	Seed uint64
}

// Compare estimates P(RPV_variant > RPV_control) by Monte-Carlo sampling.
//
// Description:
//
//	Draws (conversion rate, order value) pairs from each arm's posterior,
//	forms RPV = rate * value, and counts the fraction of draws where the
//	variant exceeds the control. The RNG is fully deterministic given the
//	seed, so repeated recomputes of identical counters return identical
//	probabilities.
//
// Inputs:
//   - control, variant: The two arm posteriors.
//   - opts: Sample count and seed. Zero values take defaults.
//
// Outputs:
//   - Comparison: The win probability and point estimates. Never nil-valued.
//
// Thread Safety: Safe for concurrent use (no shared state).
func Compare(control, variant Posterior, opts CompareOptions) Comparison {
	samples := opts.Samples
	if samples <= 0 {
		samples = DefaultSampleCount
	}
	rng := newLCG(opts.Seed)

	wins := 0
	for i := 0; i < samples; i++ {
		controlRPV := rng.beta(control.ConvAlpha, control.ConvBeta) *
			rng.inverseGamma(control.OVShape, control.OVScale)
		variantRPV := rng.beta(variant.ConvAlpha, variant.ConvBeta) *
			rng.inverseGamma(variant.OVShape, variant.OVScale)
		if variantRPV > controlRPV {
			wins++
		}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = DefaultSeed
	}

	return Comparison{
		ProbabilityVariantWins: float64(wins) / float64(samples),
		ControlRPV:             control.ReportedRPV(),
		VariantRPV:             variant.ReportedRPV(),
		ControlMeanRPV:         control.MeanRPV(),
		VariantMeanRPV:         variant.MeanRPV(),
		Samples:                samples,
		Seed:                   seed,
	}
}
